package answer

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/travelmate-poc/server/internal/core/errx"
	logx "github.com/travelmate-poc/server/pkg/logger"
)

// RetryModel wraps a chat model with a small bounded retry. Generation
// is the mandatory path of a turn, so one retry (the default) is
// attempted before the failure is surfaced as ErrGenerationFailed and
// the loop degrades to its fallback reply.
type RetryModel struct {
	inner   einomodel.BaseChatModel
	retries int
}

// WithRetry wraps inner with up to retries re-attempts (total attempts
// retries+1). Negative values mean no retry.
func WithRetry(inner einomodel.BaseChatModel, retries int) *RetryModel {
	if retries < 0 {
		retries = 0
	}
	return &RetryModel{inner: inner, retries: retries}
}

func (m *RetryModel) Generate(ctx context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	var lastErr error
	for attempt := 0; attempt <= m.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := m.inner.Generate(ctx, in, opts...)
		if err == nil {
			return out, nil
		}
		lastErr = err
		logx.Warn().Err(err).Int("attempt", attempt+1).Msg("model generation failed")
	}
	return nil, fmt.Errorf("%w: %w", errx.ErrGenerationFailed, lastErr)
}

// Stream retries only the initial call; once fragments are flowing a
// mid-stream failure cannot be replayed and is surfaced to the caller.
func (m *RetryModel) Stream(ctx context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	var lastErr error
	for attempt := 0; attempt <= m.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sr, err := m.inner.Stream(ctx, in, opts...)
		if err == nil {
			return sr, nil
		}
		lastErr = err
		logx.Warn().Err(err).Int("attempt", attempt+1).Msg("model stream open failed")
	}
	return nil, fmt.Errorf("%w: %w", errx.ErrGenerationFailed, lastErr)
}

var _ einomodel.BaseChatModel = (*RetryModel)(nil)
