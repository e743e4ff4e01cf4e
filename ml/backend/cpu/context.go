// context.go - Graph-Kontext des CPU-Backends
// Enthaelt: Context struct, Tensor-Erzeugung, Knoten-Aufzeichnung mit
// hartem Knoten-Limit, Forward(), benannte Ein-/Ausgaben.
package cpu

import (
	"fmt"

	"github.com/lovemefan/sensevoice-go/ml"
)

// Context zeichnet einen begrenzten Berechnungsgraphen auf.
// Die Konstruktion allokiert keine Tensor-Daten (no_alloc).
type Context struct {
	s *Scheduler

	// maxGraphNodes ist die maximale Anzahl an Rechen-Knoten
	maxGraphNodes int

	// nodes sind die Rechen-Knoten in Aufzeichnungs-Reihenfolge
	nodes []*Tensor

	// tensors sind alle Tensoren des Graphen (Blaetter, Views, Knoten)
	tensors []*Tensor

	named map[string]*Tensor

	allocated bool
	err       error
}

// Empty erzeugt einen Tensor ohne Daten
func (c *Context) Empty(dtype ml.DType, shape ...int) ml.Tensor {
	return c.newTensor(dtype, shape...)
}

// FromFloats erzeugt einen Tensor mit sofort hinterlegten Daten
func (c *Context) FromFloats(s []float32, shape ...int) ml.Tensor {
	t := c.newTensor(ml.DTypeF32, shape...)
	if len(s) != t.elements() {
		panic(fmt.Errorf("cpu: FromFloats got %d values for shape %v", len(s), shape))
	}

	t.data = make([]byte, t.nbytes())
	t.FromFloats(s)
	return t
}

// FromInts erzeugt einen I32-Tensor mit sofort hinterlegten Daten
func (c *Context) FromInts(s []int32, shape ...int) ml.Tensor {
	t := c.newTensor(ml.DTypeI32, shape...)
	if len(s) != t.elements() {
		panic(fmt.Errorf("cpu: FromInts got %d values for shape %v", len(s), shape))
	}

	t.data = make([]byte, t.nbytes())
	copy(i32view(t.data), s)
	return t
}

// Forward haengt Tensoren als Terminal-Knoten an den Graphen an.
// Rechen-Knoten werden bereits bei der Operation aufgezeichnet; hier
// wird nur sichergestellt, dass der Tensor am Ende der Knotenliste
// steht, damit er als Terminal-Knoten ausgefuehrt wird.
func (c *Context) Forward(tensors ...ml.Tensor) ml.Context {
	for _, t := range tensors {
		tt := t.(*Tensor)
		if tt.op == opNone {
			continue
		}

		for i, node := range c.nodes {
			if node == tt && i != len(c.nodes)-1 {
				c.nodes = append(append(c.nodes[:i:i], c.nodes[i+1:]...), tt)
				break
			}
		}
	}

	return c
}

// MarkInput markiert einen benannten Eingabe-Tensor
func (c *Context) MarkInput(t ml.Tensor) {
	t.(*Tensor).input = true
}

// MarkOutput markiert einen Tensor als Graph-Ausgabe
func (c *Context) MarkOutput(t ml.Tensor) {
	t.(*Tensor).output = true
}

// Lookup gibt den benannten Tensor zurueck, oder nil
func (c *Context) Lookup(name string) ml.Tensor {
	if t, ok := c.named[name]; ok {
		return t
	}

	return nil
}

// Nodes gibt die Anzahl der aufgezeichneten Rechen-Knoten zurueck
func (c *Context) Nodes() int { return len(c.nodes) }

// MaxGraphNodes gibt die maximale Anzahl an Graph-Knoten zurueck
func (c *Context) MaxGraphNodes() int { return c.maxGraphNodes }

// Err gibt den gespeicherten Konstruktionsfehler zurueck
func (c *Context) Err() error { return c.err }

// Close gibt die Referenzen des Kontexts frei. Die Arena selbst wird
// durch Scheduler.Reset wiederverwendet.
func (c *Context) Close() {
	if c != nil {
		c.nodes = nil
		c.tensors = nil
		c.named = nil
	}
}

// newTensor erzeugt einen Tensor mit zusammenhaengenden Strides
func (c *Context) newTensor(dtype ml.DType, shape ...int) *Tensor {
	if len(shape) == 0 || len(shape) > maxDims {
		panic(fmt.Errorf("cpu: unsupported number of dimensions %d", len(shape)))
	}

	t := &Tensor{ctx: c, dtype: dtype, dims: len(shape)}
	for i := range maxDims {
		t.ne[i] = 1
	}
	copy(t.ne[:], shape)

	t.nb[0] = dtype.Size()
	for i := 1; i < maxDims; i++ {
		t.nb[i] = t.nb[i-1] * t.ne[i-1]
	}

	c.tensors = append(c.tensors, t)
	return t
}

// record zeichnet einen Rechen-Knoten auf und prueft das Knoten-Limit.
// Ein Limit-Verstoss wird als Konstruktionsfehler gespeichert, nicht
// als Panic: der Builder prueft Err() vor der Rueckgabe.
func (c *Context) record(t *Tensor) {
	if c.err != nil {
		return
	}

	if c.maxGraphNodes > 0 && len(c.nodes) >= c.maxGraphNodes {
		c.err = fmt.Errorf("%w: %d nodes, limit %d", ml.ErrGraphTooLarge, len(c.nodes)+1, c.maxGraphNodes)
		return
	}

	c.nodes = append(c.nodes, t)
}

// fail speichert einen Konstruktionsfehler (z.B. Shape-Konflikt)
func (c *Context) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}
