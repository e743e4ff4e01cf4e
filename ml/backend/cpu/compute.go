// compute.go - Rechen-Kernels des CPU-Backends
// Enthaelt: Matmul (zeilen-parallel ueber Worker), Broadcast-Add,
// Softmax und Argmax entlang Dimension 0. Alle Kernels arbeiten auf
// float32 mit Byte-Strides in ggml-Konvention.
package cpu

import (
	"math"

	"golang.org/x/sync/errgroup"
)

// exp32 berechnet e^x fuer float32
func exp32(x float32) float32 {
	return float32(math.Exp(float64(x)))
}

// mulmatF32 berechnet dst = a x b mit a [k, n, t], b [k, m, t] und
// dst [n, m, t]. Die Zeilen von b werden auf nThreads Worker verteilt.
func mulmatF32(dst *Tensor, nThreads int) {
	a, b := dst.src[0], dst.src[1]

	k := a.ne[0]
	n := a.ne[1]
	m := b.ne[1]

	as := a.nb[1] / 4
	bs := b.nb[1] / 4
	ds := dst.nb[1] / 4

	if nThreads < 1 {
		nThreads = 1
	}
	chunk := (m + nThreads - 1) / nThreads

	for t := range dst.ne[2] {
		av := f32view(a.data[t*a.nb[2]:])
		bv := f32view(b.data[t*b.nb[2]:])
		dv := f32view(dst.data[t*dst.nb[2]:])

		var g errgroup.Group
		for lo := 0; lo < m; lo += chunk {
			hi := min(lo+chunk, m)

			g.Go(func() error {
				for j := lo; j < hi; j++ {
					brow := bv[j*bs : j*bs+k]
					drow := dv[j*ds : j*ds+n]

					for i := range n {
						arow := av[i*as : i*as+k]

						var sum float32
						for l, x := range arow {
							sum += x * brow[l]
						}
						drow[i] = sum
					}
				}
				return nil
			})
		}
		g.Wait()
	}
}

// addF32 berechnet dst = a + b elementweise. b wird ueber die
// aeusseren Dimensionen von a gebroadcastet (Bias-Addition).
func addF32(dst *Tensor) {
	a, b := dst.src[0], dst.src[1]

	n := dst.ne[0]
	as := a.nb[1] / 4
	bs := b.nb[1] / 4
	ds := dst.nb[1] / 4

	for t := range dst.ne[2] {
		bt := b.data[(t%b.ne[2])*b.nb[2]:]

		av := f32view(a.data[t*a.nb[2]:])
		bv := f32view(bt)
		dv := f32view(dst.data[t*dst.nb[2]:])

		for j := range dst.ne[1] {
			arow := av[j*as : j*as+n]
			brow := bv[(j%b.ne[1])*bs : (j%b.ne[1])*bs+n]
			drow := dv[j*ds : j*ds+n]

			for i := range n {
				drow[i] = arow[i] + brow[i]
			}
		}
	}
}

// softmaxF32 normalisiert jede Zeile (Dimension 0) numerisch stabil:
// Maximum abziehen, exponenzieren, durch die Summe teilen.
func softmaxF32(dst *Tensor) {
	a := dst.src[0]

	n := dst.ne[0]
	as := a.nb[1] / 4
	ds := dst.nb[1] / 4

	for t := range dst.ne[2] {
		av := f32view(a.data[t*a.nb[2]:])
		dv := f32view(dst.data[t*dst.nb[2]:])

		for j := range dst.ne[1] {
			arow := av[j*as : j*as+n]
			drow := dv[j*ds : j*ds+n]

			maxVal := arow[0]
			for _, v := range arow[1:] {
				if v > maxVal {
					maxVal = v
				}
			}

			var sum float32
			for i, v := range arow {
				e := exp32(v - maxVal)
				drow[i] = e
				sum += e
			}

			inv := 1 / sum
			for i := range drow {
				drow[i] *= inv
			}
		}
	}
}

// argmaxF32 schreibt fuer jede Zeile (Dimension 0) den Index des
// Maximums in einen I32-Tensor der Laenge ne1.
func argmaxF32(dst *Tensor) {
	a := dst.src[0]

	n := a.ne[0]
	as := a.nb[1] / 4

	av := f32view(a.data)
	dv := i32view(dst.data)

	for j := range a.ne[1] {
		arow := av[j*as : j*as+n]

		best := 0
		for i, v := range arow {
			if v > arow[best] {
				best = i
			}
		}
		dv[j] = int32(best)
	}
}
