// types.go - Datentypen und Status-Codes fuer die Graph-Engine
// Dieses Modul definiert DType, Status und die zugehoerigen Hilfsfunktionen.
package ml

import "fmt"

// DType repraesentiert den Datentyp von Tensor-Elementen.
type DType int

const (
	DTypeOther DType = iota
	DTypeF32
	DTypeF16
	DTypeI32
)

// Size gibt die Groesse eines Elements in Bytes zurueck.
func (t DType) Size() int {
	switch t {
	case DTypeF32, DTypeI32:
		return 4
	case DTypeF16:
		return 2
	default:
		panic(fmt.Errorf("ml: unknown dtype %d", t))
	}
}

// String gibt den Namen des Datentyps zurueck.
func (t DType) String() string {
	switch t {
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	case DTypeI32:
		return "i32"
	default:
		return "other"
	}
}

// Status ist das Ergebnis einer synchronen Graph-Ausfuehrung.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailed
	StatusAllocFailed
	StatusDeviceError
)

// String gibt den Namen des Status zurueck.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusAllocFailed:
		return "alloc failed"
	case StatusDeviceError:
		return "device error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}
