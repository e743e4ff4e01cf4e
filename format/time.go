// time.go - Formatierung von Zeitspannen
// Dieses Modul stellt die Mikrosekunden-Darstellung der kumulativen
// Decode-Zeit fuer Logs und CLI-Ausgabe bereit.
package format

import (
	"fmt"
	"time"
)

// Microseconds formatiert eine Zeitspanne als ganze Mikrosekunden
func Microseconds(d time.Duration) string {
	return fmt.Sprintf("%d us", d.Microseconds())
}
