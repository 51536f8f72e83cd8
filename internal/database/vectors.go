package database

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// vectorToString converts a float32 array to libSQL vector string format
func (dm *DBManager) vectorToString(numbers []float32) (string, error) {
	dims := dm.config.EmbeddingDims
	if len(numbers) != dims {
		return "", fmt.Errorf("vector must have exactly %d dimensions, got %d", dims, len(numbers))
	}

	parts := make([]string, len(numbers))
	for i, n := range numbers {
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			dm.log.WithField("value", n).Warn("invalid vector value, using 0")
			n = 0
		}
		parts[i] = strconv.FormatFloat(float64(n), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ", ") + "]", nil
}

// ExtractVector decodes a little-endian F32_BLOB of the given dimension
func ExtractVector(embedding []byte, dims int) ([]float32, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	expectedBytes := dims * 4
	if dims <= 0 || len(embedding) != expectedBytes {
		return nil, fmt.Errorf("invalid embedding size: expected %d bytes for %d-dimensional vector, got %d", expectedBytes, dims, len(embedding))
	}

	vector := make([]float32, dims)
	for i := 0; i < dims; i++ {
		bits := binary.LittleEndian.Uint32(embedding[i*4 : (i+1)*4])
		vector[i] = math.Float32frombits(bits)
	}
	return vector, nil
}
