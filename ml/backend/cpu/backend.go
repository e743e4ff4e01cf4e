// backend.go - Pure-Go CPU-Scheduler mit Scratch-Arena
// Enthaelt: Scheduler struct, CPU-Geraet, Arena-Verwaltung (Bump-Allokator
// mit Reset), Registrierung unter dem Namen "cpu".
package cpu

import (
	"runtime"
	"sync"

	"github.com/lovemefan/sensevoice-go/format"
	"github.com/lovemefan/sensevoice-go/logutil"
	"github.com/lovemefan/sensevoice-go/ml"
)

const (
	// arenaAlign ist die Ausrichtung fuer Arena-Zuteilungen in Bytes
	arenaAlign = 32

	// defaultArenaSize wird verwendet wenn keine Groesse angegeben ist
	defaultArenaSize = 32 << 20
)

func init() {
	ml.RegisterScheduler("cpu", func(params ml.SchedulerParams) (ml.Scheduler, error) {
		return New(params)
	})
}

// Device wird von Geraeten implementiert, die Matmul-Knoten vom
// CPU-Scheduler uebernehmen koennen (z.B. eine BLAS-Bibliothek).
// false bedeutet: Knoten nicht unterstuetzt, die CPU rechnet selbst.
type Device interface {
	Matmul(dst, a, b *Tensor) bool
}

// CPU ist das Allzweck-Geraet des Schedulers.
type CPU struct {
	nThreads int
}

// Name gibt den Geraete-Namen zurueck
func (c *CPU) Name() string { return "cpu" }

// SetNumThreads setzt die Worker-Thread-Anzahl. Werte <= 0 werden
// ignoriert; wiederholtes Setzen akkumuliert nicht.
func (c *CPU) SetNumThreads(n int) {
	if n > 0 {
		c.nThreads = n
	}
}

// NumThreads gibt die konfigurierte Worker-Thread-Anzahl zurueck
func (c *CPU) NumThreads() int { return c.nThreads }

// Scheduler fuehrt Graphen auf der CPU aus und verteilt Matmul-Knoten
// auf registrierte Zusatz-Geraete. Die Scratch-Arena gehoert exklusiv
// einer Session; Aufrufe muessen extern serialisiert werden.
type Scheduler struct {
	schedMu sync.Mutex

	arena []byte
	offs  int

	cpu      *CPU
	backends []ml.Backend
}

// New erzeugt einen CPU-Scheduler mit vorreservierter Scratch-Arena.
func New(params ml.SchedulerParams) (*Scheduler, error) {
	size := params.ArenaSize
	if size <= 0 {
		size = defaultArenaSize
	}

	cpu := &CPU{nThreads: min(4, runtime.NumCPU())}
	backends := append([]ml.Backend{cpu}, params.Devices...)

	logutil.Trace("cpu scheduler", "arena_size", format.HumanBytes2(uint64(size)), "backends", len(backends))

	return &Scheduler{
		arena:    make([]byte, size),
		cpu:      cpu,
		backends: backends,
	}, nil
}

// Backends gibt alle registrierten Geraete zurueck, CPU zuerst
func (s *Scheduler) Backends() []ml.Backend { return s.backends }

// NewContext erzeugt einen Graph-Kontext mit begrenzter Knotenzahl
func (s *Scheduler) NewContext(maxGraphNodes int) ml.Context {
	return &Context{
		s:             s,
		maxGraphNodes: maxGraphNodes,
		named:         make(map[string]*Tensor),
	}
}

// AllocGraph platziert alle Tensoren des Graphen in der Arena.
// Konstruktion bleibt no_alloc; erst hier werden Daten gebunden.
func (s *Scheduler) AllocGraph(mlctx ml.Context) bool {
	c := mlctx.(*Context)
	if c.err != nil {
		return false
	}

	for _, t := range c.tensors {
		if t.viewSrc != nil || t.data != nil {
			continue
		}

		buf, ok := s.alloc(t.nbytes())
		if !ok {
			return false
		}
		t.data = buf
	}

	// Views erst binden, wenn ihre Quellen Daten haben
	for _, t := range c.tensors {
		if t.viewSrc == nil {
			continue
		}
		if t.viewSrc.data == nil {
			return false
		}
		t.data = t.viewSrc.data[t.viewOffs:]
	}

	c.allocated = true
	return true
}

// Compute fuehrt den Graphen synchron aus. Matmul-Knoten gehen an das
// erste Geraet, das sie annimmt; alles andere rechnet die CPU.
func (s *Scheduler) Compute(mlctx ml.Context) ml.Status {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()

	c := mlctx.(*Context)
	if c.err != nil || !c.allocated {
		return ml.StatusFailed
	}

	nThreads := s.cpu.NumThreads()

	for _, node := range c.nodes {
		if node.data == nil || node.src[0] == nil || node.src[0].data == nil {
			return ml.StatusFailed
		}

		switch node.op {
		case opMulmat:
			if !s.offloadMulmat(node) {
				mulmatF32(node, nThreads)
			}
		case opAdd:
			addF32(node)
		case opSoftmax:
			softmaxF32(node)
		case opArgmax:
			argmaxF32(node)
		default:
			return ml.StatusFailed
		}
	}

	return ml.StatusSuccess
}

// offloadMulmat bietet einen Matmul-Knoten den Zusatz-Geraeten an
func (s *Scheduler) offloadMulmat(node *Tensor) bool {
	for _, b := range s.backends {
		if d, ok := b.(Device); ok && d.Matmul(node, node.src[0], node.src[1]) {
			return true
		}
	}

	return false
}

// Reset gibt den Scratch-Zustand frei. Bereits berechnete
// Ausgabe-Tensoren bleiben bis zur naechsten Allokation lesbar.
func (s *Scheduler) Reset() {
	s.offs = 0
}

// alloc teilt n Bytes aus der Arena zu, ausgerichtet auf arenaAlign
func (s *Scheduler) alloc(n int) ([]byte, bool) {
	offs := (s.offs + arenaAlign - 1) &^ (arenaAlign - 1)
	if offs+n > len(s.arena) {
		return nil, false
	}

	s.offs = offs + n
	return s.arena[offs : offs+n : offs+n], true
}
