// decoder.go - CTC-Decoder: Graph-Aufbau und Ausfuehrung
// Enthaelt: mulMatPad (Padded-Matmul-Strategie), buildDecodeGraph
// (Projektion, Bias, Softmax, Argmax mit hartem Knoten-Limit),
// computeGraph (Backend-Konfiguration und synchrone Ausfuehrung) und
// Session.Decode (der eigentliche Decode-Schritt).
package sensevoice

import (
	"fmt"
	"log/slog"
	"time"
	"unsafe"

	"github.com/lovemefan/sensevoice-go/envconfig"
	"github.com/lovemefan/sensevoice-go/logutil"
	"github.com/lovemefan/sensevoice-go/ml"
)

// decoderMaxNodes ist das harte Knoten-Limit des Decode-Graphen
const decoderMaxNodes = 8

const (
	// mulMatPadDefault ist die Standard-Ausrichtung der
	// Padded-Matmul-Strategie
	mulMatPadDefault = 32

	// mulMatPadMinRatio: Padding lohnt sich erst, wenn Dimension 0
	// mindestens 8-mal groesser als die Ausrichtung ist
	mulMatPadMinRatio = 8
)

// mulMatPad zerlegt eine Matrix-Multiplikation in einen auf pad
// ausgerichteten Block und einen kleinen Rest:
//
//	Z = X @ Y  ==  (X_0 @ Y_0) + (X_1 @ Y_1)
//
// X_0/Y_0 sind Views mit durch pad teilbarer Dimension 0 fuer breite
// Vektor-Kernels, X_1/Y_1 der Rest fuer Allzweck-Kernels. Ist
// Dimension 0 bereits teilbar (auch Rest 0) oder der Gewinn zu klein,
// bleibt es bei der direkten Multiplikation. Das Ergebnis ist bis auf
// die Summationsreihenfolge identisch zur direkten Multiplikation.
func mulMatPad(ctx ml.Context, x, y ml.Tensor, pad int) ml.Tensor {
	n0 := x.Dim(0)
	if n0%pad == 0 || n0/pad < mulMatPadMinRatio {
		return x.Mulmat(ctx, y)
	}

	split := (n0 / pad) * pad
	rest := n0 - split
	offs := split * x.DType().Size()

	x0 := x.View(ctx, 0, split, x.Stride(1), x.Dim(1), x.Stride(2), x.Dim(2))
	x1 := x.View(ctx, offs, rest, x.Stride(1), x.Dim(1), x.Stride(2), x.Dim(2))

	y0 := y.View(ctx, 0, split, y.Stride(1), y.Dim(1), y.Stride(2), y.Dim(2))
	y1 := y.View(ctx, offs, rest, y.Stride(1), y.Dim(1), y.Stride(2), y.Dim(2))

	return x0.Mulmat(ctx, y0).Add(ctx, x1.Mulmat(ctx, y1))
}

// decodeGraph buendelt den Graph-Kontext eines Decode-Schritts mit
// den benannten Ein- und Ausgabe-Tensoren. Die Ausgaben werden ueber
// diese Handles gelesen, nicht ueber die Position in der Knotenliste.
type decodeGraph struct {
	ctx ml.Context

	encoderIn ml.Tensor
	probs     ml.Tensor
	ids       ml.Tensor
}

// buildDecodeGraph baut den CTC-Decode-Graphen fuer den aktuellen
// Encoder-Ausgang der Session: Projektion, Bias, Softmax, Argmax.
// Der Aufbau zeichnet nur Shapes und Operationen auf; Daten werden
// erst bei der Graph-Allokation gebunden.
func buildDecodeGraph(m *Model, s *Session) (*decodeGraph, error) {
	if m.CTCWeight.Dim(0) != m.HiddenSize || m.CTCWeight.Dim(1) != m.VocabSize {
		return nil, fmt.Errorf("sensevoice: ctc weight shape %v does not match model %dx%d",
			m.CTCWeight.Shape(), m.HiddenSize, m.VocabSize)
	}

	ctx := s.sched.NewContext(decoderMaxNodes)

	encoderIn := ctx.Empty(ml.DTypeF32, m.HiddenSize, s.numFrames)
	encoderIn.SetName("encoder_out")
	ctx.MarkInput(encoderIn)

	var cur ml.Tensor
	if m.UsePaddedMatmul {
		cur = mulMatPad(ctx, m.CTCWeight, encoderIn, mulMatPadDefault)
	} else {
		cur = m.CTCWeight.Mulmat(ctx, encoderIn)
	}
	cur = cur.Add(ctx, m.CTCBias)

	probs := cur.Softmax(ctx)
	probs.SetName("probs")

	ids := probs.Argmax(ctx)
	ids.SetName("argmax_ids")

	ctx.MarkOutput(probs)
	ctx.MarkOutput(ids)
	ctx.Forward(ids)

	if err := ctx.Err(); err != nil {
		ctx.Close()
		return nil, err
	}

	return &decodeGraph{
		ctx:       ctx,
		encoderIn: encoderIn,
		probs:     probs,
		ids:       ids,
	}, nil
}

// computeGraph konfiguriert alle registrierten Backends und fuehrt
// den Graphen synchron aus. CPU-artige Backends erhalten nThreads
// Worker, spezialisierte Backends den entsprechenden
// Concurrency-Parameter. Der Scratch-Zustand des Schedulers wird bei
// jedem Ausgang zurueckgesetzt, damit der naechste Aufbau dieselbe
// Arena wiederverwendet.
func computeGraph(sched ml.Scheduler, g *decodeGraph, nThreads int) error {
	for _, backend := range sched.Backends() {
		switch b := backend.(type) {
		case ml.CPUThreading:
			b.SetNumThreads(nThreads)
		case ml.AccelConcurrency:
			b.SetConcurrency(nThreads)
		}
	}

	defer sched.Reset()

	if status := sched.Compute(g.ctx); status != ml.StatusSuccess {
		return fmt.Errorf("%w: %s", ErrComputeFailed, status)
	}

	return nil
}

// Decode fuehrt einen Decode-Schritt aus: Graph bauen, in der Arena
// allokieren, Encoder-Ausgang byte-genau kopieren, ausfuehren und die
// Argmax-Ids in den Session-Puffer uebernehmen. Bei jedem Fehlschlag
// bleiben Id-Puffer und Text des vorherigen Schritts unveraendert;
// der kumulative Timer waechst auf jedem Pfad.
func (s *Session) Decode(m *Model, nThreads int) error {
	if !s.guard.TryAcquire(1) {
		return ErrSessionBusy
	}
	defer s.guard.Release(1)

	tStart := time.Now()
	defer func() {
		s.tDecode += time.Since(tStart)
	}()

	if s.numFrames == 0 {
		return ErrNoEncoderOutput
	}

	g, err := buildDecodeGraph(m, s)
	if err != nil {
		return err
	}
	defer g.ctx.Close()

	if !s.sched.AllocGraph(g.ctx) {
		// Die Arena ist vorab so dimensioniert, dass dieser Pfad im
		// Normalbetrieb unerreichbar ist
		s.sched.Reset()
		return fmt.Errorf("%w: decode graph for %d frames", ml.ErrAllocFailed, s.numFrames)
	}

	// Eingabe strikt nach der Allokation und vor der Ausfuehrung setzen
	g.encoderIn.FromBytes(f32bytes(s.encoderOut))

	if err := computeGraph(s.sched, g, nThreads); err != nil {
		return err
	}

	s.ids = append(s.ids[:0], g.ids.Ints()...)
	s.text = m.Vocabulary.Render(s.ids)
	if s.retainProbs {
		s.probs = g.probs.Floats()
	}

	if envconfig.Verbose() {
		slog.Info("decode", "session", s.id, "text", s.text)
	}
	logutil.Trace("decode step", "session", s.id, "frames", s.numFrames,
		"nodes", g.ctx.Nodes(), "total_us", s.tDecode.Microseconds())

	return nil
}

// f32bytes gibt die Byte-Sicht eines float32-Slices zurueck
// (Elementanzahl mal Elementgroesse, ohne Kopie)
func f32bytes(s []float32) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*4)
}
