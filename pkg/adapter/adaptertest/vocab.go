// Package adaptertest provides a deterministic in-process Embedder for tests.
package adaptertest

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/m-mizutani/actid/pkg/adapter"
	"github.com/m-mizutani/goerr/v2"
)

var ErrInjected = goerr.New("injected embedding failure")

// Vocab is a bag-of-words embedder: every distinct token owns one dimension,
// so two texts have cosine similarity equal to their normalized token
// overlap. Identical texts always embed identically.
type Vocab struct {
	dim int

	mu    sync.Mutex
	vocab map[string]int
	calls atomic.Int64

	// FailOn makes Embed return ErrInjected for matching texts
	FailOn func(text string) bool
}

var _ adapter.Embedder = (*Vocab)(nil)

func NewVocab(dim int) *Vocab {
	return &Vocab{dim: dim, vocab: make(map[string]int)}
}

// Calls returns how many times Embed was invoked
func (v *Vocab) Calls() int64 { return v.calls.Load() }

func (v *Vocab) Embed(ctx context.Context, text string) ([]float32, error) {
	v.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if v.FailOn != nil && v.FailOn(text) {
		return nil, goerr.Wrap(ErrInjected, "embedder refused text", goerr.V("text", text))
	}

	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(tokens) == 0 {
		return nil, goerr.New("nothing to embed", goerr.V("text", text))
	}

	vec := make([]float32, v.dim)
	v.mu.Lock()
	for _, tok := range tokens {
		pos, ok := v.vocab[tok]
		if !ok {
			if len(v.vocab) >= v.dim {
				v.mu.Unlock()
				return nil, goerr.New("vocabulary exhausted", goerr.V("dim", v.dim))
			}
			pos = len(v.vocab)
			v.vocab[tok] = pos
		}
		vec[pos]++
	}
	v.mu.Unlock()

	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}
