package embeddings

import (
	"context"
	"fmt"
	"strings"
)

const (
	adaptPadOrTruncate = "pad_or_truncate"
	adaptTruncate      = "truncate"
	adaptPad           = "pad"
)

// adaptingProvider wraps a Provider and coerces its vectors to the index
// dimension. Short vectors are zero-padded in every mode; in "pad" mode a
// vector longer than the target is an error.
type adaptingProvider struct {
	base       Provider
	targetDims int
	mode       string
}

// WrapToDims returns a Provider that adapts output vectors to targetDims using the given mode.
// If base already matches targetDims, base is returned unchanged.
func WrapToDims(base Provider, targetDims int, mode string) Provider {
	if base == nil || targetDims <= 0 || base.Dimensions() == targetDims {
		return base
	}
	m := strings.ToLower(strings.TrimSpace(mode))
	switch m {
	case adaptTruncate, adaptPad:
	default:
		m = adaptPadOrTruncate
	}
	return &adaptingProvider{base: base, targetDims: targetDims, mode: m}
}

func (p *adaptingProvider) Name() string { return p.base.Name() }

func (p *adaptingProvider) Dimensions() int { return p.targetDims }

func (p *adaptingProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	vecs, err := p.base.Embed(ctx, inputs)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		a, aErr := adaptVector(v, p.targetDims, p.mode)
		if aErr != nil {
			return nil, fmt.Errorf("%s: %w", p.base.Name(), aErr)
		}
		out[i] = a
	}
	return out, nil
}

func adaptVector(v []float32, target int, mode string) ([]float32, error) {
	n := len(v)
	switch {
	case n == target:
		return v, nil
	case n < target:
		out := make([]float32, target)
		copy(out, v)
		return out, nil
	case mode == adaptPad:
		return nil, fmt.Errorf("vector has %d dims, more than target %d, and adapt mode is pad", n, target)
	default:
		return append([]float32(nil), v[:target]...), nil
	}
}
