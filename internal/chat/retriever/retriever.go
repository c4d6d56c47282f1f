package retriever

import (
	"context"
	"sort"
	"time"

	"github.com/travelmate-poc/server/internal/chat/model"
	logx "github.com/travelmate-poc/server/pkg/logger"
)

const (
	MinTopK = 1
	MaxTopK = 20
)

// Searcher is a ranked passage search backend. Implementations return
// passages ordered by descending score and may fail; the Retriever
// wrapper absorbs those failures.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]model.Passage, error)
	Name() string
}

// Retriever wraps a Searcher with the loop's retrieval contract: topK
// clamped to [1, 20], results filtered by a configurable relevance
// threshold, an upper-bound wait per call, and backend failures degraded
// to zero passages. Retrieval never aborts a conversational turn.
type Retriever struct {
	inner    Searcher
	minScore float64
	timeout  time.Duration
}

func New(inner Searcher, minScore float64, timeout time.Duration) *Retriever {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Retriever{inner: inner, minScore: minScore, timeout: timeout}
}

// Search returns up to topK passages, best first. It never returns an
// error: failures and timeouts yield an empty result, logged.
func (r *Retriever) Search(ctx context.Context, query string, topK int) []model.Passage {
	topK = clampTopK(topK)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	passages, err := r.inner.Search(ctx, query, topK)
	if err != nil {
		logx.Warn().Err(err).Str("backend", r.inner.Name()).Str("query", query).
			Msg("knowledge search failed; continuing with empty context")
		return nil
	}

	if r.minScore > 0 {
		kept := passages[:0]
		for _, p := range passages {
			if p.Score > r.minScore {
				kept = append(kept, p)
			}
		}
		passages = kept
	}
	if len(passages) > topK {
		passages = passages[:topK]
	}
	return passages
}

func clampTopK(k int) int {
	if k < MinTopK {
		return MinTopK
	}
	if k > MaxTopK {
		return MaxTopK
	}
	return k
}

// rankDescending orders passages by score, breaking ties by id so a
// larger topK always extends (never reorders) a smaller one.
func rankDescending(passages []model.Passage) {
	sort.SliceStable(passages, func(i, j int) bool {
		if passages[i].Score != passages[j].Score {
			return passages[i].Score > passages[j].Score
		}
		return passages[i].ID < passages[j].ID
	})
}
