// session.go - Decode-Session mit Scratch-Arena und Zeitmessung
// Eine Session besitzt die vorreservierte Scratch-Arena (ueber ihren
// Scheduler), den Encoder-Ausgang des aktuellen Schritts, den
// Id-Puffer des letzten erfolgreichen Schritts und den kumulativen
// Decode-Timer. Gleichzeitige Decode-Aufrufe auf derselben Session
// sind nicht erlaubt und werden ueber einen Single-Owner-Guard
// abgewiesen.
package sensevoice

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/lovemefan/sensevoice-go/ml"
	_ "github.com/lovemefan/sensevoice-go/ml/backend/cpu"
)

// Session haelt den veraenderlichen Zustand einer Decode-Sitzung.
type Session struct {
	id    uuid.UUID
	sched ml.Scheduler

	opts      Options
	maxFrames int
	devices   []ml.Backend

	// encoderOut ist der Encoder-Ausgang [HiddenSize, numFrames]
	encoderOut []float32
	numFrames  int

	// ids ist der Id-Puffer des letzten erfolgreichen Schritts
	ids  []int32
	text string

	// probs haelt die letzte Wahrscheinlichkeits-Matrix, falls
	// retainProbs gesetzt ist
	probs       []float32
	retainProbs bool

	// tDecode ist der kumulative, monoton wachsende Decode-Timer
	tDecode time.Duration

	guard *semaphore.Weighted
}

// SessionOption konfiguriert eine Session
type SessionOption func(*Session)

// WithScheduler setzt einen vorgefertigten Scheduler statt des
// Standard-CPU-Schedulers (z.B. mit zusaetzlichen Geraeten).
func WithScheduler(sched ml.Scheduler) SessionOption {
	return func(s *Session) {
		s.sched = sched
	}
}

// WithDevices registriert zusaetzliche Geraete beim
// Standard-Scheduler (z.B. ein BLAS-Backend).
func WithDevices(devices ...ml.Backend) SessionOption {
	return func(s *Session) {
		s.devices = append(s.devices, devices...)
	}
}

// WithRetainProbs bewahrt nach jedem Schritt eine Kopie der
// Wahrscheinlichkeits-Matrix fuer nachgelagerte Verbraucher auf.
func WithRetainProbs() SessionOption {
	return func(s *Session) {
		s.retainProbs = true
	}
}

// NewSession erzeugt eine Decode-Session. maxFrames begrenzt die
// Anzahl Frames pro Schritt; daraus wird die Scratch-Arena vorab so
// dimensioniert, dass die Graph-Allokation im Normalbetrieb nie
// fehlschlaegt.
func NewSession(m *Model, maxFrames int, opts ...SessionOption) (*Session, error) {
	if maxFrames <= 0 {
		return nil, fmt.Errorf("sensevoice: invalid max frames %d", maxFrames)
	}

	s := &Session{
		id:        uuid.New(),
		opts:      m.Options,
		maxFrames: maxFrames,
		guard:     semaphore.NewWeighted(1),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.sched == nil {
		sched, err := ml.NewScheduler("cpu", ml.SchedulerParams{
			ArenaSize: GraphArenaSize(m.Options, maxFrames),
			Devices:   s.devices,
		})
		if err != nil {
			return nil, err
		}
		s.sched = sched
	}

	return s, nil
}

// ID gibt die Korrelations-Id der Session zurueck
func (s *Session) ID() uuid.UUID { return s.id }

// SetEncoderOutput uebernimmt den Encoder-Ausgang des naechsten
// Schritts. data muss HiddenSize*numFrames Werte enthalten.
func (s *Session) SetEncoderOutput(data []float32, numFrames int) error {
	if numFrames <= 0 || numFrames > s.maxFrames {
		return fmt.Errorf("sensevoice: %d frames outside [1, %d]", numFrames, s.maxFrames)
	}
	if len(data) != s.opts.HiddenSize*numFrames {
		return fmt.Errorf("sensevoice: encoder output has %d values, want %d", len(data), s.opts.HiddenSize*numFrames)
	}

	s.encoderOut = append(s.encoderOut[:0], data...)
	s.numFrames = numFrames
	return nil
}

// IDs gibt die Token-Ids des letzten erfolgreichen Schritts zurueck
func (s *Session) IDs() []int32 { return s.ids }

// Text gibt den gerenderten Text des letzten erfolgreichen Schritts
// zurueck (Blank-Ids gefiltert)
func (s *Session) Text() string { return s.text }

// Probs gibt die aufbewahrte Wahrscheinlichkeits-Matrix
// [VocabSize, numFrames] zurueck, oder nil ohne WithRetainProbs
func (s *Session) Probs() []float32 { return s.probs }

// TotalDecodeTime gibt die kumulierte Decode-Zeit der Session zurueck.
// Der Wert waechst bei jedem Aufruf, auch bei Fehlschlaegen, und wird
// nie zurueckgesetzt.
func (s *Session) TotalDecodeTime() time.Duration { return s.tDecode }

// GraphArenaSize berechnet die Arena-Groesse fuer den Decode-Graphen
// im unguenstigsten Fall (Padded-Matmul-Pfad mit zwei Teilprodukten).
func GraphArenaSize(opts Options, maxFrames int) int {
	const f32Size = 4

	// Eingabe, zwei Teilprodukte, deren Summe, Bias-Summe, Softmax
	size := opts.HiddenSize * maxFrames * f32Size
	size += 5 * opts.VocabSize * maxFrames * f32Size

	// Argmax-Ids plus Ausrichtungs-Verschnitt pro Tensor
	size += maxFrames * f32Size
	size += decoderMaxNodes * 2 * 32

	return size
}
