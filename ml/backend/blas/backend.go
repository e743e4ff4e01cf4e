// backend.go - BLAS-Backend fuer Matmul-Knoten
// Ein spezialisiertes Vektor-Mathematik-Geraet: uebernimmt f32
// Matmul-Knoten vom CPU-Scheduler und rechnet sie ueber gonum/blas32
// (Gemm). Die Parallelitaet laeuft ueber einen eigenen
// Concurrency-Parameter statt ueber CPU-Worker-Threads.
package blas

import (
	"runtime"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/lovemefan/sensevoice-go/ml"
	"github.com/lovemefan/sensevoice-go/ml/backend/cpu"
)

// Backend implementiert ml.Backend, ml.AccelConcurrency und cpu.Device.
type Backend struct {
	concurrency int

	// minElements ist die Mindestgroesse, ab der sich der Umweg ueber
	// BLAS lohnt; kleinere Knoten bleiben auf der CPU
	minElements int
}

// New erzeugt ein BLAS-Backend
func New() *Backend {
	return &Backend{
		concurrency: min(4, runtime.NumCPU()),
		minElements: 1,
	}
}

// Name gibt den Geraete-Namen zurueck
func (b *Backend) Name() string { return "blas" }

// SetConcurrency setzt den Concurrency-Parameter. Werte <= 0 werden
// ignoriert; wiederholtes Setzen akkumuliert nicht.
func (b *Backend) SetConcurrency(n int) {
	if n > 0 {
		b.concurrency = n
	}
}

// Concurrency gibt den konfigurierten Concurrency-Parameter zurueck
func (b *Backend) Concurrency() int { return b.concurrency }

// Matmul uebernimmt einen f32 Matmul-Knoten. dst = a x b mit
// a [k, n, t] und b [k, m, t] ergibt [n, m, t]; in BLAS-Sicht ist das
// pro Batch C(m x n) = B(m x k) * A(n x k)^T.
func (b *Backend) Matmul(dst, x, y *cpu.Tensor) bool {
	if dst.DType() != ml.DTypeF32 || x.DType() != ml.DTypeF32 || y.DType() != ml.DTypeF32 {
		return false
	}

	k := x.Dim(0)
	n := x.Dim(1)
	m := y.Dim(1)
	if k*n*m < b.minElements {
		return false
	}

	batch := 1
	if len(dst.Shape()) > 2 {
		batch = dst.Dim(2)
	}

	for t := range batch {
		xv := x.RawFloats()[t*x.Stride(2)/4:]
		yv := y.RawFloats()[t*y.Stride(2)/4:]
		dv := dst.RawFloats()[t*dst.Stride(2)/4:]

		am := blas32.General{Rows: n, Cols: k, Stride: x.Stride(1) / 4, Data: xv}
		bm := blas32.General{Rows: m, Cols: k, Stride: y.Stride(1) / 4, Data: yv}
		cm := blas32.General{Rows: m, Cols: n, Stride: dst.Stride(1) / 4, Data: dv}

		blas32.Gemm(blas.NoTrans, blas.Trans, 1, bm, am, 0, cm)
	}

	return true
}
