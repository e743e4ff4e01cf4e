// decoder_test.go - Unit-Tests fuer den CTC-Decoder
// Prueft: Padded-Matmul-Strategie (Aequivalenz und Fallback-Pfad),
// Graph-Aufbau (Knotenzahl, benannte Handles), Decode-Schritt
// (Id-Bereich, Determinismus, Blank-Filterung, Fehler-Propagation,
// Timer-Monotonie, Session-Exklusivitaet).
package sensevoice

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/lovemefan/sensevoice-go/ml"
	"github.com/lovemefan/sensevoice-go/ml/backend/cpu"
	"github.com/lovemefan/sensevoice-go/model"
)

// newTestSched erzeugt einen CPU-Scheduler fuer Tests
func newTestSched(t *testing.T, arenaSize int) *cpu.Scheduler {
	t.Helper()

	s, err := cpu.New(ml.SchedulerParams{ArenaSize: arenaSize})
	if err != nil {
		t.Fatalf("cpu.New: %v", err)
	}
	return s
}

// newTestModel baut ein Modell mit Identitaets-Projektion: bei
// HiddenSize == VocabSize ist logits[v] = encoderOut[v] + bias[v],
// damit lassen sich Argmax-Ids direkt vorgeben.
func newTestModel(t *testing.T, sched ml.Scheduler, size int, bias []float32, padded bool) *Model {
	t.Helper()

	weight := make([]float32, size*size)
	for i := 0; i < size; i++ {
		weight[i*size+i] = 1
	}
	if bias == nil {
		bias = make([]float32, size)
	}

	tokens := make([]string, size)
	tokens[0] = "<blank>"
	for i := 1; i < size; i++ {
		tokens[i] = string(rune('a' + i - 1))
	}

	m, err := New(sched.NewContext(0), model.NewVocabulary(tokens), weight, bias, Options{
		HiddenSize:      size,
		VocabSize:       size,
		UsePaddedMatmul: padded,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

// oneHotFrames baut einen Encoder-Ausgang, dessen Argmax pro Frame
// die gewuenschte Id ergibt
func oneHotFrames(size int, ids ...int32) []float32 {
	out := make([]float32, size*len(ids))
	for f, id := range ids {
		out[f*size+int(id)] = 10
	}
	return out
}

// TestMulMatPadEquivalence prueft, dass die Zerlegung numerisch
// transparent ist
func TestMulMatPadEquivalence(t *testing.T) {
	sched := newTestSched(t, 1<<22)

	cases := []struct {
		name       string
		n0, n1, m  int
		pad        int
		wantSplit  bool
	}{
		{"teilbar faellt zurueck", 320, 4, 3, 32, false},
		{"zu klein faellt zurueck", 33, 4, 3, 32, false},
		{"rest wird geteilt", 330, 4, 3, 32, true},
		{"anderes pad", 130, 5, 2, 16, true},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			x := make([]float32, tt.n0*tt.n1)
			y := make([]float32, tt.n0*tt.m)
			for i := range x {
				x[i] = float32(i%17)*0.125 - 1
			}
			for i := range y {
				y[i] = float32(i%19)*0.0625 - 0.5
			}

			run := func(padded bool) []float32 {
				ctx := sched.NewContext(8)
				xt := ctx.FromFloats(x, tt.n0, tt.n1)
				yt := ctx.FromFloats(y, tt.n0, tt.m)

				var d ml.Tensor
				if padded {
					d = mulMatPad(ctx, xt, yt, tt.pad)
				} else {
					d = xt.Mulmat(ctx, yt)
				}
				ctx.Forward(d)

				wantNodes := 1
				if padded && tt.wantSplit {
					wantNodes = 3
				}
				if got := ctx.Nodes(); got != wantNodes {
					t.Fatalf("Knotenzahl = %d, erwartet %d", got, wantNodes)
				}

				if !sched.AllocGraph(ctx) {
					t.Fatal("AllocGraph fehlgeschlagen")
				}
				if status := sched.Compute(ctx); status != ml.StatusSuccess {
					t.Fatalf("Compute: %s", status)
				}

				out := d.Floats()
				ctx.Close()
				sched.Reset()
				return out
			}

			want := run(false)
			got := run(true)

			if diff := cmp.Diff(want, got, cmpopts.EquateApprox(1e-5, 1e-6)); diff != "" {
				t.Errorf("mulMatPad weicht von direkter Multiplikation ab (-want +got):\n%s", diff)
			}
		})
	}
}

// TestBuildDecodeGraph prueft Knotenzahl und benannte Handles
func TestBuildDecodeGraph(t *testing.T) {
	for _, padded := range []bool{false, true} {
		name := "direkt"
		if padded {
			name = "padded"
		}

		t.Run(name, func(t *testing.T) {
			// 330 ist nicht durch 32 teilbar, der padded-Pfad teilt
			const size = 330

			sched := newTestSched(t, 1<<24)
			m := newTestModel(t, sched, size, nil, padded)

			s, err := NewSession(m, 4, WithScheduler(sched))
			if err != nil {
				t.Fatalf("NewSession: %v", err)
			}
			if err := s.SetEncoderOutput(make([]float32, size*2), 2); err != nil {
				t.Fatalf("SetEncoderOutput: %v", err)
			}

			g, err := buildDecodeGraph(m, s)
			if err != nil {
				t.Fatalf("buildDecodeGraph: %v", err)
			}
			defer g.ctx.Close()

			wantNodes := 4
			if padded {
				wantNodes = 6
			}
			if got := g.ctx.Nodes(); got != wantNodes {
				t.Errorf("Knotenzahl = %d, erwartet %d", got, wantNodes)
			}
			if g.ctx.Nodes() > decoderMaxNodes {
				t.Errorf("Knotenzahl %d ueberschreitet Limit %d", g.ctx.Nodes(), decoderMaxNodes)
			}

			if g.ctx.Lookup("encoder_out") != g.encoderIn {
				t.Error("encoder_out nicht ueber Namen auffindbar")
			}
			if g.encoderIn.Dim(0) != size || g.encoderIn.Dim(1) != 2 {
				t.Errorf("encoder_out Shape %v, erwartet [%d 2]", g.encoderIn.Shape(), size)
			}
		})
	}
}

// TestDecodeIDsInRange prueft, dass alle Ids im Wertebereich liegen
func TestDecodeIDsInRange(t *testing.T) {
	const size = 32

	sched := newTestSched(t, 1<<20)
	m := newTestModel(t, sched, size, nil, false)

	s, err := NewSession(m, 8, WithScheduler(sched))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	enc := make([]float32, size*8)
	for i := range enc {
		enc[i] = float32(i%23)*0.5 - 5
	}
	if err := s.SetEncoderOutput(enc, 8); err != nil {
		t.Fatalf("SetEncoderOutput: %v", err)
	}
	if err := s.Decode(m, 2); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	ids := s.IDs()
	if len(ids) != 8 {
		t.Fatalf("IDs-Laenge = %d, erwartet 8", len(ids))
	}
	for i, id := range ids {
		if id < 0 || int(id) >= size {
			t.Errorf("Id %d an Frame %d ausserhalb [0, %d)", id, i, size)
		}
	}
}

// TestDecodeAllZeroDeterministic: bei Null-Eingabe entscheidet allein
// der Bias, jede Zeile ergibt dieselbe Id
func TestDecodeAllZeroDeterministic(t *testing.T) {
	const size = 16

	bias := make([]float32, size)
	bias[3] = 1

	sched := newTestSched(t, 1<<20)
	m := newTestModel(t, sched, size, bias, false)

	s, err := NewSession(m, 4, WithScheduler(sched))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	for call := 0; call < 2; call++ {
		if err := s.SetEncoderOutput(make([]float32, size*4), 4); err != nil {
			t.Fatalf("SetEncoderOutput: %v", err)
		}
		if err := s.Decode(m, 1); err != nil {
			t.Fatalf("Decode: %v", err)
		}

		if diff := cmp.Diff([]int32{3, 3, 3, 3}, s.IDs()); diff != "" {
			t.Errorf("Aufruf %d: Ids weichen ab (-want +got):\n%s", call, diff)
		}
	}
}

// TestDecodeRendersText prueft die Blank-Filterung der Text-Ausgabe
func TestDecodeRendersText(t *testing.T) {
	const size = 8

	sched := newTestSched(t, 1<<20)
	m := newTestModel(t, sched, size, nil, false)

	s, err := NewSession(m, 8, WithScheduler(sched))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	// Argmax-Folge [0 5 0 7 0]: Blank wird gefiltert, "eg" bleibt
	enc := oneHotFrames(size, 0, 5, 0, 7, 0)
	if err := s.SetEncoderOutput(enc, 5); err != nil {
		t.Fatalf("SetEncoderOutput: %v", err)
	}
	if err := s.Decode(m, 1); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if diff := cmp.Diff([]int32{0, 5, 0, 7, 0}, s.IDs()); diff != "" {
		t.Errorf("Ids weichen ab (-want +got):\n%s", diff)
	}
	if got, want := s.Text(), m.Vocabulary.Token(5)+m.Vocabulary.Token(7); got != want {
		t.Errorf("Text = %q, erwartet %q", got, want)
	}
}

// failingScheduler laesst Compute kontrolliert fehlschlagen
type failingScheduler struct {
	ml.Scheduler
	fail bool
}

func (f *failingScheduler) Compute(ctx ml.Context) ml.Status {
	if f.fail {
		return ml.StatusDeviceError
	}
	return f.Scheduler.Compute(ctx)
}

// TestDecodeFailurePropagation prueft, dass ein Backend-Fehlschlag
// gemeldet wird und der Id-Puffer unveraendert bleibt
func TestDecodeFailurePropagation(t *testing.T) {
	const size = 8

	sched := newTestSched(t, 1<<20)
	fake := &failingScheduler{Scheduler: sched}
	m := newTestModel(t, sched, size, nil, false)

	s, err := NewSession(m, 8, WithScheduler(fake))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	if err := s.SetEncoderOutput(oneHotFrames(size, 5, 7), 2); err != nil {
		t.Fatalf("SetEncoderOutput: %v", err)
	}
	if err := s.Decode(m, 1); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	before := append([]int32(nil), s.IDs()...)

	fake.fail = true
	if err := s.SetEncoderOutput(oneHotFrames(size, 1, 2), 2); err != nil {
		t.Fatalf("SetEncoderOutput: %v", err)
	}
	if err := s.Decode(m, 1); !errors.Is(err, ErrComputeFailed) {
		t.Fatalf("Decode = %v, erwartet ErrComputeFailed", err)
	}

	if diff := cmp.Diff(before, s.IDs()); diff != "" {
		t.Errorf("Id-Puffer wurde trotz Fehlschlag veraendert (-want +got):\n%s", diff)
	}
}

// TestDecodeAllocFailure prueft den Alloc-Pfad bei zu kleiner Arena
func TestDecodeAllocFailure(t *testing.T) {
	const size = 64

	bigSched := newTestSched(t, 1<<20)
	m := newTestModel(t, bigSched, size, nil, false)

	tiny := newTestSched(t, 128)
	s, err := NewSession(m, 4, WithScheduler(tiny))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	if err := s.SetEncoderOutput(make([]float32, size*4), 4); err != nil {
		t.Fatalf("SetEncoderOutput: %v", err)
	}
	if err := s.Decode(m, 1); !errors.Is(err, ml.ErrAllocFailed) {
		t.Fatalf("Decode = %v, erwartet ErrAllocFailed", err)
	}
}

// TestDecodeTimerMonotonic prueft, dass der Timer bei Erfolg und
// Fehlschlag waechst und nie zurueckgesetzt wird
func TestDecodeTimerMonotonic(t *testing.T) {
	const size = 8

	sched := newTestSched(t, 1<<20)
	fake := &failingScheduler{Scheduler: sched}
	m := newTestModel(t, sched, size, nil, false)

	s, err := NewSession(m, 4, WithScheduler(fake))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	if err := s.SetEncoderOutput(make([]float32, size*4), 4); err != nil {
		t.Fatalf("SetEncoderOutput: %v", err)
	}

	if err := s.Decode(m, 1); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	afterSuccess := s.TotalDecodeTime()
	if afterSuccess <= 0 {
		t.Fatal("Timer waechst nach Erfolg nicht")
	}

	fake.fail = true
	if err := s.Decode(m, 1); err == nil {
		t.Fatal("Decode sollte fehlschlagen")
	}
	if s.TotalDecodeTime() <= afterSuccess {
		t.Error("Timer waechst nach Fehlschlag nicht")
	}
}

// TestDecodeSessionBusy prueft den Single-Owner-Guard
func TestDecodeSessionBusy(t *testing.T) {
	const size = 8

	sched := newTestSched(t, 1<<20)
	m := newTestModel(t, sched, size, nil, false)

	s, err := NewSession(m, 4, WithScheduler(sched))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.SetEncoderOutput(make([]float32, size*4), 4); err != nil {
		t.Fatalf("SetEncoderOutput: %v", err)
	}

	if !s.guard.TryAcquire(1) {
		t.Fatal("Guard sollte frei sein")
	}
	if err := s.Decode(m, 1); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("Decode = %v, erwartet ErrSessionBusy", err)
	}
	s.guard.Release(1)

	if err := s.Decode(m, 1); err != nil {
		t.Fatalf("Decode nach Freigabe: %v", err)
	}
}

// TestDecodeNoEncoderOutput prueft den Fehlerpfad ohne Eingabe
func TestDecodeNoEncoderOutput(t *testing.T) {
	const size = 8

	sched := newTestSched(t, 1<<20)
	m := newTestModel(t, sched, size, nil, false)

	s, err := NewSession(m, 4, WithScheduler(sched))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	if err := s.Decode(m, 1); !errors.Is(err, ErrNoEncoderOutput) {
		t.Fatalf("Decode = %v, erwartet ErrNoEncoderOutput", err)
	}
}

// TestDecodeRetainProbs prueft die aufbewahrte
// Wahrscheinlichkeits-Matrix
func TestDecodeRetainProbs(t *testing.T) {
	const size = 8

	sched := newTestSched(t, 1<<20)
	m := newTestModel(t, sched, size, nil, false)

	s, err := NewSession(m, 4, WithScheduler(sched), WithRetainProbs())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.SetEncoderOutput(oneHotFrames(size, 2, 4), 2); err != nil {
		t.Fatalf("SetEncoderOutput: %v", err)
	}
	if err := s.Decode(m, 1); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	probs := s.Probs()
	if len(probs) != size*2 {
		t.Fatalf("Probs-Laenge = %d, erwartet %d", len(probs), size*2)
	}

	for f := 0; f < 2; f++ {
		var sum float32
		for i := 0; i < size; i++ {
			sum += probs[f*size+i]
		}
		if sum < 0.9999 || sum > 1.0001 {
			t.Errorf("Frame %d: Wahrscheinlichkeiten summieren zu %f", f, sum)
		}
	}
}

// TestDecodePaddedEndToEnd prueft einen vollen Schritt mit
// Padded-Matmul-Pfad
func TestDecodePaddedEndToEnd(t *testing.T) {
	// 330 teilt der padded-Pfad in 320 + 10
	const size = 330

	sched := newTestSched(t, 1<<24)
	direct := newTestModel(t, sched, size, nil, false)
	padded := newTestModel(t, sched, size, nil, true)

	enc := oneHotFrames(size, 0, 17, 0, 33)

	run := func(m *Model) []int32 {
		s, err := NewSession(m, 4, WithScheduler(sched))
		if err != nil {
			t.Fatalf("NewSession: %v", err)
		}
		if err := s.SetEncoderOutput(enc, 4); err != nil {
			t.Fatalf("SetEncoderOutput: %v", err)
		}
		if err := s.Decode(m, 2); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		return s.IDs()
	}

	if diff := cmp.Diff(run(direct), run(padded)); diff != "" {
		t.Errorf("padded und direkt weichen ab (-direct +padded):\n%s", diff)
	}
}
