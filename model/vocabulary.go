// vocabulary.go - Vokabular fuer die CTC-Dekodierung
// Dieses Modul definiert die geordnete Zuordnung von Token-Id zu
// Token-Text. Id 0 ist das reservierte CTC-Blank-Symbol und wird bei
// der Text-Ausgabe gefiltert.
package model

import "strings"

// BlankID ist die reservierte Id des CTC-Blank-Symbols
const BlankID int32 = 0

// Vocabulary ist eine geordnete, unveraenderliche Zuordnung von
// Token-Id zu Token-Text. Sie kann gefahrlos von mehreren Sessions
// gleichzeitig gelesen werden.
type Vocabulary struct {
	values []string
}

// NewVocabulary erzeugt ein Vokabular aus der geordneten Token-Liste.
// Index 0 gehoert dem Blank-Symbol.
func NewVocabulary(tokens []string) *Vocabulary {
	values := make([]string, len(tokens))
	copy(values, tokens)
	return &Vocabulary{values: values}
}

// Size gibt die Anzahl der Tokens zurueck
func (v *Vocabulary) Size() int { return len(v.values) }

// Token gibt den Text fuer eine Id zurueck, oder "" ausserhalb des
// Wertebereichs
func (v *Vocabulary) Token(id int32) string {
	if id < 0 || int(id) >= len(v.values) {
		return ""
	}
	return v.values[id]
}

// RenderOption steuert die Text-Ausgabe von Render
type RenderOption func(*renderOptions)

type renderOptions struct {
	collapseRepeats bool
}

// WithCollapseRepeats aktiviert das Zusammenfassen aufeinanderfolgender
// gleicher Ids vor der Blank-Filterung (klassische CTC-Ausgabe).
// Standard ist die rohe Ausgabe pro Frame.
func WithCollapseRepeats() RenderOption {
	return func(o *renderOptions) {
		o.collapseRepeats = true
	}
}

// Render setzt eine Id-Folge in Text um. Blank-Ids werden gefiltert;
// Ids ausserhalb des Wertebereichs werden uebersprungen.
func (v *Vocabulary) Render(ids []int32, opts ...RenderOption) string {
	var options renderOptions
	for _, opt := range opts {
		opt(&options)
	}

	var sb strings.Builder
	prev := BlankID
	for _, id := range ids {
		if options.collapseRepeats && id == prev {
			continue
		}
		prev = id

		if id != BlankID {
			sb.WriteString(v.Token(id))
		}
	}

	return sb.String()
}
