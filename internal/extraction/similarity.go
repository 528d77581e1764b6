package extraction

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/yegors/nudge/internal/config"
	"github.com/yegors/nudge/internal/llm"
	"github.com/yegors/nudge/pkg/logger"
)

// Similarity scores how alike two task descriptions are, in [0,1]
type Similarity interface {
	Similarity(ctx context.Context, a, b string) float64
}

// NewSimilarity picks the measure named by cfg.Similarity.
func NewSimilarity(cfg config.ExtractionConfig, llmCfg config.LLMConfig, log *logger.Logger) Similarity {
	if cfg.Similarity == "embedding" {
		return NewEmbeddingSimilarity(llm.NewOllamaEmbedder(llmCfg.OllamaHost, llmCfg.EmbeddingModel), log)
	}
	return TextSimilarity{}
}

// TextSimilarity is the Ratcliff/Obershelp ratio of the normalized texts
type TextSimilarity struct{}

func (TextSimilarity) Similarity(_ context.Context, a, b string) float64 {
	return Ratio(normalizeTask(a), normalizeTask(b))
}

// EmbeddingSimilarity compares embedding vectors and falls back to the text
// ratio when the embedder fails. Vectors are cached per text.
type EmbeddingSimilarity struct {
	embedder llm.Embedder
	logger   *logger.Logger

	mu    sync.Mutex
	cache map[string][]float32
}

func NewEmbeddingSimilarity(embedder llm.Embedder, log *logger.Logger) *EmbeddingSimilarity {
	return &EmbeddingSimilarity{
		embedder: embedder,
		logger:   log.Named("similarity"),
		cache:    make(map[string][]float32),
	}
}

func (e *EmbeddingSimilarity) Similarity(ctx context.Context, a, b string) float64 {
	va, errA := e.vector(ctx, a)
	vb, errB := e.vector(ctx, b)
	if errA != nil || errB != nil {
		err := errA
		if err == nil {
			err = errB
		}
		e.logger.Warn("Embedding failed, using text similarity", logger.Error(err))
		return TextSimilarity{}.Similarity(ctx, a, b)
	}
	return llm.CosineSimilarity(va, vb)
}

func (e *EmbeddingSimilarity) vector(ctx context.Context, text string) ([]float32, error) {
	key := normalizeTask(text)
	e.mu.Lock()
	v, ok := e.cache[key]
	e.mu.Unlock()
	if ok {
		return v, nil
	}
	v, err := e.embedder.Embed(ctx, key)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.cache[key] = v
	e.mu.Unlock()
	return v, nil
}

// normalizeTask lowercases, drops punctuation and collapses whitespace.
func normalizeTask(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Ratio is the Ratcliff/Obershelp similarity 2*M/T, where M counts the
// characters in recursively found longest common blocks and T is the total
// length. Two empty strings are identical.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchingChars(ra, rb, 0, len(ra), 0, len(rb))) / float64(total)
}

func matchingChars(a, b []rune, alo, ahi, blo, bhi int) int {
	i, j, k := longestMatch(a, b, alo, ahi, blo, bhi)
	if k == 0 {
		return 0
	}
	return k + matchingChars(a, b, alo, i, blo, j) + matchingChars(a, b, i+k, ahi, j+k, bhi)
}

// longestMatch finds the longest common block of a[alo:ahi] and b[blo:bhi],
// the earliest in a on ties, then the earliest in b.
func longestMatch(a, b []rune, alo, ahi, blo, bhi int) (besti, bestj, bestk int) {
	besti, bestj = alo, blo
	width := bhi - blo
	prev := make([]int, width+1)
	cur := make([]int, width+1)
	for i := alo; i < ahi; i++ {
		for j := blo; j < bhi; j++ {
			if a[i] != b[j] {
				cur[j-blo+1] = 0
				continue
			}
			k := prev[j-blo] + 1
			cur[j-blo+1] = k
			if k > bestk {
				besti, bestj, bestk = i-k+1, j-k+1, k
			}
		}
		prev, cur = cur, prev
	}
	return besti, bestj, bestk
}
