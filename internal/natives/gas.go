package natives

// Gas is an opaque cost unit attached to each operation.
type Gas uint64

// GasParameters holds the flat cost of each aggregator operation.
type GasParameters struct {
	New     Gas // New is the cost of creating an aggregator
	Open    Gas // Open is the cost of attaching an existing aggregator
	Add     Gas // Add is the cost of an add
	Sub     Gas // Sub is the cost of a subtract
	Read    Gas // Read is the cost of a read, materializing or not
	Destroy Gas // Destroy is the cost of destroying an aggregator
}

// DefaultGasParameters returns placeholder costs until governance sets real ones.
func DefaultGasParameters() GasParameters {
	return GasParameters{
		New:     1000,
		Open:    100,
		Add:     300,
		Sub:     300,
		Read:    500,
		Destroy: 100,
	}
}
