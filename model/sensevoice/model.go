// model.go - SenseVoice CTC-Modellparameter
// Dieses Modul definiert die langlebigen, unveraenderlichen Parameter
// der CTC-Ausgabeschicht (Projektions-Gewicht und Bias) sowie die
// Modell-Optionen. Das Laden der Gewichte aus einer Modelldatei liegt
// ausserhalb dieses Pakets; die Parameter werden fertig uebergeben.
package sensevoice

import (
	"errors"
	"fmt"

	"github.com/lovemefan/sensevoice-go/ml"
	"github.com/lovemefan/sensevoice-go/model"
)

// Fehler-Definitionen
var (
	ErrSessionBusy     = errors.New("sensevoice: decode already in progress on this session")
	ErrNoEncoderOutput = errors.New("sensevoice: no encoder output set")
	ErrComputeFailed   = errors.New("sensevoice: graph execution failed")
)

// Options enthaelt die Konfigurationsparameter des CTC-Decoders
type Options struct {
	// HiddenSize ist die Dimension der Encoder-Merkmalsvektoren
	HiddenSize int

	// VocabSize ist die Groesse des Vokabulars inklusive Blank
	VocabSize int

	// UsePaddedMatmul aktiviert die Padded-Matmul-Strategie fuer die
	// CTC-Projektion (lohnt sich auf Backends mit breiten
	// Vektor-Kernels)
	UsePaddedMatmul bool
}

// Model haelt die unveraenderlichen Parameter der CTC-Ausgabeschicht.
// Ein Model kann gefahrlos von mehreren Sessions geteilt werden.
type Model struct {
	// CTCWeight ist die Projektionsmatrix [HiddenSize, VocabSize]
	CTCWeight ml.Tensor `gguf:"ctc.out_linear.weight"`

	// CTCBias ist der Projektions-Bias [VocabSize]
	CTCBias ml.Tensor `gguf:"ctc.out_linear.bias"`

	// Vocabulary ist die geordnete Id-zu-Token-Tabelle
	Vocabulary *model.Vocabulary

	Options
}

// New erzeugt ein Model aus fertig geladenen Parametern. Der Kontext
// muss so lange leben wie das Model.
func New(ctx ml.Context, vocab *model.Vocabulary, weight, bias []float32, opts Options) (*Model, error) {
	if opts.HiddenSize <= 0 || opts.VocabSize <= 0 {
		return nil, fmt.Errorf("sensevoice: invalid model dimensions %dx%d", opts.HiddenSize, opts.VocabSize)
	}
	if len(weight) != opts.HiddenSize*opts.VocabSize {
		return nil, fmt.Errorf("sensevoice: ctc weight has %d values, want %d", len(weight), opts.HiddenSize*opts.VocabSize)
	}
	if len(bias) != opts.VocabSize {
		return nil, fmt.Errorf("sensevoice: ctc bias has %d values, want %d", len(bias), opts.VocabSize)
	}
	if vocab.Size() != opts.VocabSize {
		return nil, fmt.Errorf("sensevoice: vocabulary has %d tokens, want %d", vocab.Size(), opts.VocabSize)
	}

	w := ctx.FromFloats(weight, opts.HiddenSize, opts.VocabSize)
	w.SetName("ctc.out_linear.weight")

	b := ctx.FromFloats(bias, opts.VocabSize)
	b.SetName("ctc.out_linear.bias")

	return &Model{
		CTCWeight:  w,
		CTCBias:    b,
		Vocabulary: vocab,
		Options:    opts,
	}, nil
}
