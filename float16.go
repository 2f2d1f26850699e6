package segloss

import "github.com/x448/float16"

var f16LookupTable [65536]float32

func init() {
	// precompute float16 lookup table for faster conversion to float32
	for i := range f16LookupTable {
		f16 := float16.Frombits(uint16(i))
		f16LookupTable[i] = f16.Float32()
	}
}

// Float16ToFloat32 converts a slice of raw float16 bits, as produced by a
// half precision model head, into float32 values
func Float16ToFloat32(src []uint16) []float32 {

	dst := make([]float32, len(src))

	for i, b := range src {
		dst[i] = f16LookupTable[b]
	}

	return dst
}

// NewTensorFromFloat16 wraps raw float16 bits in a float32 Tensor of the
// given dimensions
func NewTensorFromFloat16(src []uint16, dims ...int) (*Tensor, error) {
	return NewTensorFrom(Float16ToFloat32(src), dims...)
}
