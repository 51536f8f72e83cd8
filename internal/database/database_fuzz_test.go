package database

import (
	"encoding/binary"
	"math"
	"testing"
)

func FuzzExtractVector(f *testing.F) {
	seed := make([]byte, 16)
	binary.LittleEndian.PutUint32(seed[4:], math.Float32bits(0.5))
	f.Add(seed, 4)
	f.Add([]byte{1, 2, 3}, 1)
	f.Add([]byte{}, 0)

	f.Fuzz(func(t *testing.T, blob []byte, dims int) {
		v, err := ExtractVector(blob, dims)
		if err != nil {
			return
		}
		if len(blob) > 0 && len(v) != dims {
			t.Fatalf("decoded %d components, want %d", len(v), dims)
		}
	})
}
