// tensor.go - Tensor-Struktur des CPU-Backends
// Enthaelt: Tensor struct mit ggml-Konvention (Dimension 0 innen,
// Strides in Bytes), Views, Daten-Zugriff und die Graph-Operationen
// Add, Mulmat, Softmax, Argmax.
package cpu

import (
	"fmt"
	"unsafe"

	"github.com/x448/float16"

	"github.com/lovemefan/sensevoice-go/ml"
)

// maxDims ist die maximale Anzahl an Tensor-Dimensionen
const maxDims = 3

type opType int

const (
	opNone opType = iota
	opAdd
	opMulmat
	opSoftmax
	opArgmax
)

// Tensor repraesentiert ein mehrdimensionales Array. Knoten-Tensoren
// tragen ihre Operation und Quellen; Daten werden erst bei AllocGraph
// gebunden (Views zeigen in die Daten ihrer Quelle).
type Tensor struct {
	ctx *Context

	name  string
	dtype ml.DType
	dims  int

	// ne sind Elemente pro Dimension, nb Strides in Bytes
	ne [maxDims]int
	nb [maxDims]int

	data []byte

	op  opType
	src [2]*Tensor

	viewSrc  *Tensor
	viewOffs int

	input  bool
	output bool
}

// Name gibt den Tensor-Namen zurueck
func (t *Tensor) Name() string { return t.name }

// SetName benennt den Tensor und registriert ihn im Kontext
func (t *Tensor) SetName(name string) {
	t.name = name
	if t.ctx.named != nil {
		t.ctx.named[name] = t
	}
}

// Dim gibt die Anzahl der Elemente entlang Dimension n zurueck
func (t *Tensor) Dim(n int) int { return t.ne[n] }

// Stride gibt den Abstand in Bytes entlang Dimension n zurueck
func (t *Tensor) Stride(n int) int { return t.nb[n] }

// Shape gibt die Shape des Tensors zurueck
func (t *Tensor) Shape() []int {
	shape := make([]int, t.dims)
	copy(shape, t.ne[:t.dims])
	return shape
}

// DType gibt den Datentyp der Elemente zurueck
func (t *Tensor) DType() ml.DType { return t.dtype }

// elements gibt die Gesamtzahl der Elemente zurueck
func (t *Tensor) elements() int {
	n := 1
	for i := range t.dims {
		n *= t.ne[i]
	}
	return n
}

// nbytes gibt die Groesse der Tensor-Daten in Bytes zurueck
func (t *Tensor) nbytes() int {
	return t.ne[maxDims-1] * t.nb[maxDims-1]
}

// Bytes gibt die rohen Tensor-Daten zurueck. Bei Views mit
// Zeilen-Ueberhang wird auf die tatsaechlich vorhandenen Bytes gekuerzt.
func (t *Tensor) Bytes() []byte {
	if t.data == nil {
		return nil
	}
	return t.data[:min(t.nbytes(), len(t.data))]
}

// RawFloats gibt die Daten als float32-Sicht ohne Kopie zurueck.
// Wird von Zusatz-Geraeten (BLAS) fuer den direkten Zugriff verwendet.
func (t *Tensor) RawFloats() []float32 {
	return f32view(t.Bytes())
}

// Floats gibt die Daten als float32-Kopie zurueck
func (t *Tensor) Floats() []float32 {
	n := t.elements()
	out := make([]float32, n)

	switch t.dtype {
	case ml.DTypeF32:
		copy(out, f32view(t.data)[:n])
	case ml.DTypeF16:
		src := u16view(t.data)
		for i := range out {
			out[i] = float16.Frombits(src[i]).Float32()
		}
	default:
		panic(fmt.Errorf("cpu: Floats on %s tensor", t.dtype))
	}

	return out
}

// Ints gibt die Daten eines I32-Tensors als Kopie zurueck
func (t *Tensor) Ints() []int32 {
	if t.dtype != ml.DTypeI32 {
		panic(fmt.Errorf("cpu: Ints on %s tensor", t.dtype))
	}

	out := make([]int32, t.elements())
	copy(out, i32view(t.data)[:len(out)])
	return out
}

// FromBytes kopiert exakt nbytes() Bytes in den Tensor
func (t *Tensor) FromBytes(s []byte) {
	if t.data == nil {
		panic(fmt.Errorf("cpu: FromBytes on unallocated tensor %q", t.name))
	}
	if len(s) != t.nbytes() {
		panic(fmt.Errorf("cpu: FromBytes got %d bytes, tensor %q holds %d", len(s), t.name, t.nbytes()))
	}

	copy(t.data, s)
}

// FromFloats kopiert float32-Werte in den Tensor, mit Konvertierung
// fuer F16-Tensoren
func (t *Tensor) FromFloats(s []float32) {
	if t.data == nil {
		panic(fmt.Errorf("cpu: FromFloats on unallocated tensor %q", t.name))
	}
	if len(s) != t.elements() {
		panic(fmt.Errorf("cpu: FromFloats got %d values, tensor %q holds %d", len(s), t.name, t.elements()))
	}

	switch t.dtype {
	case ml.DTypeF32:
		copy(f32view(t.data), s)
	case ml.DTypeF16:
		dst := u16view(t.data)
		for i, v := range s {
			dst[i] = float16.Fromfloat32(v).Bits()
		}
	default:
		panic(fmt.Errorf("cpu: FromFloats on %s tensor", t.dtype))
	}
}

// Add addiert t2 elementweise, mit Broadcast ueber die aeusseren
// Dimensionen (z.B. Bias [n] auf [n, frames])
func (t *Tensor) Add(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	c := ctx.(*Context)
	b := t2.(*Tensor)

	if b.ne[0] != t.ne[0] {
		c.fail(fmt.Errorf("cpu: add shape mismatch %v + %v", t.Shape(), b.Shape()))
	}

	dst := c.newTensor(t.dtype, t.Shape()...)
	dst.op = opAdd
	dst.src = [2]*Tensor{t, b}
	c.record(dst)
	return dst
}

// Mulmat fuehrt Matrix-Multiplikation durch.
// Bei Shape [m, p, ...] und t2 [m, n, ...] ergibt sich [p, n, ...]
func (t *Tensor) Mulmat(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	c := ctx.(*Context)
	b := t2.(*Tensor)

	if t.ne[0] != b.ne[0] || t.ne[2] != b.ne[2] {
		c.fail(fmt.Errorf("cpu: mulmat shape mismatch %v x %v", t.Shape(), b.Shape()))
	}

	shape := []int{t.ne[1], b.ne[1]}
	if max(t.dims, b.dims) > 2 {
		shape = append(shape, b.ne[2])
	}

	dst := c.newTensor(ml.DTypeF32, shape...)
	dst.op = opMulmat
	dst.src = [2]*Tensor{t, b}
	c.record(dst)
	return dst
}

// Softmax normalisiert entlang Dimension 0
func (t *Tensor) Softmax(ctx ml.Context) ml.Tensor {
	c := ctx.(*Context)

	dst := c.newTensor(ml.DTypeF32, t.Shape()...)
	dst.op = opSoftmax
	dst.src = [2]*Tensor{t, nil}
	c.record(dst)
	return dst
}

// Argmax gibt den Index des Maximums entlang Dimension 0 zurueck
func (t *Tensor) Argmax(ctx ml.Context) ml.Tensor {
	c := ctx.(*Context)

	dst := c.newTensor(ml.DTypeI32, t.ne[1])
	dst.op = opArgmax
	dst.src = [2]*Tensor{t, nil}
	c.record(dst)
	return dst
}

// View erstellt eine Ansicht des Tensors. Die Shape-Argumente wechseln
// sich mit Strides ab: (ne0), (ne0, nb1, ne1) oder
// (ne0, nb1, ne1, nb2, ne2); offset in Bytes.
func (t *Tensor) View(ctx ml.Context, offset int, shape ...int) ml.Tensor {
	c := ctx.(*Context)

	v := &Tensor{ctx: c, dtype: t.dtype}
	for i := range maxDims {
		v.ne[i] = 1
	}
	v.nb[0] = t.dtype.Size()

	switch len(shape) {
	case 1:
		v.dims = 1
		v.ne[0] = shape[0]
		v.nb[1] = v.ne[0] * v.nb[0]
		v.nb[2] = v.nb[1]
	case 3:
		v.dims = 2
		v.ne[0], v.nb[1], v.ne[1] = shape[0], shape[1], shape[2]
		v.nb[2] = v.ne[1] * v.nb[1]
	case 5:
		v.dims = 3
		v.ne[0], v.nb[1], v.ne[1] = shape[0], shape[1], shape[2]
		v.nb[2], v.ne[2] = shape[3], shape[4]
		if v.ne[2] == 1 {
			v.dims = 2
		}
	default:
		panic("cpu: unsupported number of view dimensions")
	}

	src := t
	offs := offset
	if t.viewSrc != nil {
		src = t.viewSrc
		offs += t.viewOffs
	}
	v.viewSrc = src
	v.viewOffs = offs

	if src.data != nil {
		v.data = src.data[offs:]
	}

	c.tensors = append(c.tensors, v)
	return v
}

// Reshape erstellt eine zusammenhaengende Ansicht mit neuer Shape
func (t *Tensor) Reshape(ctx ml.Context, shape ...int) ml.Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	if n != t.elements() {
		panic(fmt.Errorf("cpu: reshape %v to %v", t.Shape(), shape))
	}

	switch len(shape) {
	case 1:
		return t.View(ctx, 0, shape[0])
	case 2:
		return t.View(ctx, 0, shape[0], shape[0]*t.dtype.Size(), shape[1])
	case 3:
		return t.View(ctx, 0, shape[0], shape[0]*t.dtype.Size(), shape[1], shape[0]*shape[1]*t.dtype.Size(), shape[2])
	default:
		panic("cpu: unsupported number of dimensions")
	}
}

// f32view interpretiert Bytes als float32-Slice ohne Kopie
func f32view(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// i32view interpretiert Bytes als int32-Slice ohne Kopie
func i32view(b []byte) []int32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// u16view interpretiert Bytes als uint16-Slice ohne Kopie
func u16view(b []byte) []uint16 {
	if len(b) < 2 {
		return nil
	}
	return unsafe.Slice((*uint16)(unsafe.Pointer(&b[0])), len(b)/2)
}
