// context.go - Context und Tensor Interfaces fuer Graph-Operationen
// Dieses Modul definiert die Schnittstellen fuer Graph-Kontexte und
// Tensor-Operationen. Ein Context zeichnet einen begrenzten
// Berechnungsgraphen auf; die Operationen sind Tensor-Methoden.
package ml

// Context repraesentiert einen Graph-Kontext fuer einen Decode-Schritt.
// Der Kontext zeichnet Operationen nur auf (no_alloc); Tensor-Daten
// werden erst durch Scheduler.AllocGraph in der Arena platziert.
type Context interface {
	// Empty erzeugt einen Tensor ohne Daten (Shape-Deklaration).
	Empty(dtype DType, shape ...int) Tensor

	// FromFloats erzeugt einen Tensor mit sofort hinterlegten Daten,
	// z.B. fuer langlebige Modell-Parameter.
	FromFloats(s []float32, shape ...int) Tensor

	// FromInts erzeugt einen I32-Tensor mit sofort hinterlegten Daten.
	FromInts(s []int32, shape ...int) Tensor

	// Forward haengt Tensoren als Terminal-Knoten an den Graphen an.
	Forward(...Tensor) Context

	// MarkInput markiert einen benannten Eingabe-Tensor.
	MarkInput(Tensor)

	// MarkOutput markiert einen Tensor als Graph-Ausgabe; seine Daten
	// bleiben nach der Ausfuehrung bis zum naechsten Reset lesbar.
	MarkOutput(Tensor)

	// Lookup gibt den benannten Tensor des Graphen zurueck, oder nil.
	Lookup(name string) Tensor

	// Nodes gibt die Anzahl der aufgezeichneten Rechen-Knoten zurueck.
	Nodes() int

	// MaxGraphNodes gibt die maximale Anzahl an Graph-Knoten zurueck.
	MaxGraphNodes() int

	// Err gibt den gespeicherten Konstruktionsfehler zurueck
	// (z.B. ErrGraphTooLarge), oder nil.
	Err() error

	Close()
}

// Tensor repraesentiert ein mehrdimensionales Array. Operationen
// zeichnen Knoten im Kontext auf und geben den Ergebnis-Tensor zurueck.
type Tensor interface {
	Name() string
	SetName(string)

	Dim(n int) int

	// Stride gibt den Abstand in Bytes entlang Dimension n zurueck.
	Stride(n int) int

	Shape() []int
	DType() DType

	Bytes() []byte
	Floats() []float32
	Ints() []int32

	// FromBytes kopiert exakt len(Bytes()) Bytes in den Tensor.
	FromBytes([]byte)
	FromFloats([]float32)

	Add(ctx Context, t2 Tensor) Tensor

	// Mulmat berechnet die Matrix-Multiplikation.
	// Bei Shape [m, p, ...] und t2 [m, n, ...] ergibt sich [p, n, ...]
	Mulmat(ctx Context, t2 Tensor) Tensor

	// Softmax normalisiert entlang Dimension 0.
	Softmax(ctx Context) Tensor

	// Argmax gibt den Index des Maximums entlang Dimension 0 als
	// I32-Tensor zurueck.
	Argmax(ctx Context) Tensor

	// View erstellt eine Ansicht des Tensors. Die Argumente wechseln
	// sich ab: (ne0), (ne0, nb1, ne1) oder (ne0, nb1, ne1, nb2, ne2),
	// offset in Bytes.
	View(ctx Context, offset int, shape ...int) Tensor

	Reshape(ctx Context, shape ...int) Tensor
}
