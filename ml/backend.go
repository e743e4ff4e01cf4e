// backend.go - Backend-, Scheduler-Interfaces und Registrierung
// Dieses Modul definiert die Geraete-Abstraktion (Backend), die
// Faehigkeits-Interfaces fuer Thread-Konfiguration sowie den Scheduler,
// der Graph-Knoten auf Backends verteilt und synchron ausfuehrt.
package ml

import (
	"errors"
	"fmt"
)

// Fehler-Definitionen der Engine-Grenze
var (
	ErrGraphTooLarge = errors.New("ml: graph exceeds node limit")
	ErrAllocFailed   = errors.New("ml: scratch arena exhausted")
)

// Backend repraesentiert ein registriertes Ausfuehrungs-Geraet
// (Allzweck-CPU, Vektor-Mathematik-Bibliothek, GPU).
type Backend interface {
	Name() string
}

// CPUThreading wird von CPU-artigen Backends implementiert, deren
// Parallelitaet ueber eine Worker-Thread-Anzahl gesteuert wird.
type CPUThreading interface {
	SetNumThreads(n int)
	NumThreads() int
}

// AccelConcurrency wird von spezialisierten Backends implementiert
// (BLAS-artige Bibliotheken, Command-Buffer-Geraete), deren
// Parallelitaet ueber einen eigenen Concurrency-Parameter laeuft.
type AccelConcurrency interface {
	SetConcurrency(n int)
}

// Scheduler verteilt Graph-Knoten auf Backends, verwaltet die
// Scratch-Arena und fuehrt Graphen synchron aus.
type Scheduler interface {
	// Backends gibt alle registrierten Geraete zurueck.
	Backends() []Backend

	// NewContext erzeugt einen Graph-Kontext mit begrenzter Knotenzahl.
	// Der Kontext zeichnet nur Shapes und Operationen auf; Daten werden
	// erst bei AllocGraph in der Arena platziert.
	NewContext(maxGraphNodes int) Context

	// AllocGraph platziert alle Tensoren des Graphen in der
	// vorreservierten Scratch-Arena. false bedeutet: Arena zu klein.
	AllocGraph(Context) bool

	// Compute fuehrt den Graphen synchron aus und blockiert bis zum
	// Abschluss. Der Status ist kein Fehler-Panic sondern ein Code.
	Compute(Context) Status

	// Reset gibt den Scratch-Zustand frei, damit der naechste
	// Graph-Aufbau dieselbe Arena wiederverwenden kann.
	Reset()
}

// SchedulerParams steuert die Erzeugung eines Schedulers.
type SchedulerParams struct {
	// ArenaSize ist die Groesse der Scratch-Arena in Bytes.
	ArenaSize int

	// Devices sind zusaetzliche Geraete neben dem Standard-Geraet
	// des Schedulers (z.B. ein BLAS-Backend).
	Devices []Backend
}

// schedulers speichert registrierte Scheduler-Konstruktoren
var schedulers = make(map[string]func(SchedulerParams) (Scheduler, error))

// RegisterScheduler registriert einen Scheduler-Konstruktor.
func RegisterScheduler(name string, f func(SchedulerParams) (Scheduler, error)) {
	if _, ok := schedulers[name]; ok {
		panic("ml: scheduler already registered")
	}

	schedulers[name] = f
}

// NewScheduler erzeugt eine Scheduler-Instanz fuer den gegebenen Namen.
func NewScheduler(name string, params SchedulerParams) (Scheduler, error) {
	if f, ok := schedulers[name]; ok {
		return f(params)
	}

	return nil, fmt.Errorf("ml: unsupported scheduler %q", name)
}
