package reasoning

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const tokenEncoding = "cl100k_base"

// tokenCounter counts prompt tokens with the cl100k_base encoding. The
// encoding is loaded on first use; when it cannot be loaded counts fall back
// to roughly four runes per token.
type tokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

func (t *tokenCounter) Count(s string) int {
	t.once.Do(func() {
		t.enc, t.err = tiktoken.GetEncoding(tokenEncoding)
	})
	if t.err != nil || t.enc == nil {
		return utf8.RuneCountInString(s)/4 + 1
	}
	return len(t.enc.Encode(s, nil, nil))
}
