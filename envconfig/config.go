// config.go - Haupt-Konfigurationsfunktionen fuer sensevoice
//
// Dieses Modul enthaelt:
// - LogLevel: Gibt Log-Level zurueck (SENSEVOICE_DEBUG)
// - Verbose: Gibt zurueck ob Decode-Text geloggt wird (SENSEVOICE_VERBOSE)
// - NumThreads: Gibt Standard-Thread-Anzahl zurueck (SENSEVOICE_NUM_THREADS)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_utils.go: Utility-Funktionen und AsMap
package envconfig

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/lovemefan/sensevoice-go/logutil"
)

// Var liest eine Environment-Variable und schneidet Anfuehrungszeichen
// und Leerzeichen ab
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via SENSEVOICE_DEBUG
// Default: Info; true/1 ergibt Debug, negative Werte bis Trace
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("SENSEVOICE_DEBUG"); s != "" {
		if b, err := strconv.ParseBool(s); err == nil && b {
			level = slog.LevelDebug
		} else if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			level = slog.Level(i)
		}

		if level < logutil.LevelTrace {
			level = logutil.LevelTrace
		}
	}

	return level
}

// Verbose gibt zurueck, ob dekodierter Text geloggt wird
// Konfigurierbar via SENSEVOICE_VERBOSE
var Verbose = Bool("SENSEVOICE_VERBOSE")

// NumThreads gibt die Standard-Thread-Anzahl fuer Decode-Aufrufe zurueck
// Konfigurierbar via SENSEVOICE_NUM_THREADS
// Default: min(4, Anzahl CPUs)
var NumThreads = Uint("SENSEVOICE_NUM_THREADS", uint(min(4, runtime.NumCPU())))
