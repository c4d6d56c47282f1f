package loop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travelmate-poc/server/internal/chat/graph"
	"github.com/travelmate-poc/server/internal/chat/graph/prompts"
	"github.com/travelmate-poc/server/internal/chat/model"
	"github.com/travelmate-poc/server/internal/chat/store"
	"github.com/travelmate-poc/server/internal/core/errx"
)

// fakeRunner is a scripted graph runner.
type fakeRunner struct {
	msg        *schema.Message
	stream     []*schema.Message
	err        error
	retrieval  bool
	passageIDs []string
}

func (f *fakeRunner) mark(ctx context.Context) {
	if !f.retrieval {
		return
	}
	if tr := model.TraceFrom(ctx); tr != nil {
		tr.RetrievalUsed = true
		tr.RetrievedPassageIDs = append(tr.RetrievedPassageIDs, f.passageIDs...)
	}
}

func (f *fakeRunner) Invoke(ctx context.Context, _ model.TurnInput) (*schema.Message, error) {
	f.mark(ctx)
	if f.err != nil {
		return nil, f.err
	}
	return f.msg, nil
}

func (f *fakeRunner) Stream(ctx context.Context, _ model.TurnInput) (*schema.StreamReader[*schema.Message], error) {
	f.mark(ctx)
	if f.err != nil {
		return nil, f.err
	}
	return schema.StreamReaderFromArray(f.stream), nil
}

// pipeRunner streams from a hand-fed pipe so tests can interleave
// fragments with errors and cancellation.
type pipeRunner struct {
	sr *schema.StreamReader[*schema.Message]
}

func (p *pipeRunner) Invoke(context.Context, model.TurnInput) (*schema.Message, error) {
	return nil, errors.New("invoke not scripted")
}

func (p *pipeRunner) Stream(context.Context, model.TurnInput) (*schema.StreamReader[*schema.Message], error) {
	return p.sr, nil
}

// hangRunner blocks until the turn context gives up.
type hangRunner struct{}

func (hangRunner) Invoke(ctx context.Context, _ model.TurnInput) (*schema.Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (hangRunner) Stream(ctx context.Context, _ model.TurnInput) (*schema.StreamReader[*schema.Message], error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// slowBootstrapStore stalls CreateSession until the context expires.
type slowBootstrapStore struct {
	store.Store
}

func (s *slowBootstrapStore) CreateSession(ctx context.Context, id string, metadata map[string]string) (*model.Session, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Second):
		return s.Store.CreateSession(ctx, id, metadata)
	}
}

func newTestLoop(runner graph.Runner) (*Loop, store.Store) {
	st := store.NewInMemoryStore()
	l := New(Config{Store: st, Runner: runner, TurnTimeout: time.Minute})
	return l, st
}

func TestSubmitTurnRejectsEmptyMessage(t *testing.T) {
	l, st := newTestLoop(&fakeRunner{})

	_, err := l.SubmitTurn(context.Background(), "sess-1", "   ")
	assert.ErrorIs(t, err, errx.ErrInvalidInput)

	turns, _ := st.RecentTurns(context.Background(), "sess-1", 10)
	assert.Empty(t, turns)
}

func TestSubmitTurnPersistsCompletedExchange(t *testing.T) {
	l, st := newTestLoop(&fakeRunner{msg: schema.AssistantMessage("Paris is lovely in May.", nil)})

	res, err := l.SubmitTurn(context.Background(), "sess-1", "When should I visit Paris?")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", res.SessionID)
	assert.Equal(t, "Paris is lovely in May.", res.Response)

	turns, err := st.RecentTurns(context.Background(), "sess-1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "When should I visit Paris?", turns[0].UserMessage)
	assert.Equal(t, "Paris is lovely in May.", turns[0].AssistantResponse)
	assert.False(t, turns[0].RetrievalUsed)
}

func TestSubmitTurnRecordsRetrievalProvenance(t *testing.T) {
	l, st := newTestLoop(&fakeRunner{
		msg:        schema.AssistantMessage("Here is what I found.", nil),
		retrieval:  true,
		passageIDs: []string{"doc-paris-attractions"},
	})

	_, err := l.SubmitTurn(context.Background(), "sess-1", "What can I see in Paris?")
	require.NoError(t, err)

	turns, err := st.RecentTurns(context.Background(), "sess-1", 1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.True(t, turns[0].RetrievalUsed)
	assert.Equal(t, []string{"doc-paris-attractions"}, turns[0].RetrievedPassageIDs)
}

func TestSubmitTurnDegradesToFallback(t *testing.T) {
	l, st := newTestLoop(&fakeRunner{err: errors.New("model exploded")})

	res, err := l.SubmitTurn(context.Background(), "sess-1", "any tips?")
	require.NoError(t, err)
	assert.Equal(t, prompts.Fallback, res.Response)

	// The fallback exchange still persists so the next turn has context.
	turns, err := st.RecentTurns(context.Background(), "sess-1", 1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, prompts.Fallback, turns[0].AssistantResponse)
}

func TestSubmitTurnAllocatesSession(t *testing.T) {
	l, _ := newTestLoop(&fakeRunner{msg: schema.AssistantMessage("hi!", nil)})

	res, err := l.SubmitTurn(context.Background(), "", "hello there")
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
}

func TestSubmitTurnStreamDeliversAllFragments(t *testing.T) {
	l, st := newTestLoop(&fakeRunner{stream: []*schema.Message{
		schema.AssistantMessage("Paris ", nil),
		schema.AssistantMessage("is ", nil),
		schema.AssistantMessage("lovely.", nil),
	}})

	var got []Fragment
	err := l.SubmitTurnStream(context.Background(), "sess-1", "tell me about Paris", func(f Fragment) error {
		got = append(got, f)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 4)
	var full strings.Builder
	for _, f := range got[:3] {
		assert.False(t, f.Done)
		full.WriteString(f.Content)
	}
	assert.True(t, got[3].Done)
	assert.Empty(t, got[3].Content)

	// Concatenated fragments equal the persisted response.
	turns, err := st.RecentTurns(context.Background(), "sess-1", 1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, full.String(), turns[0].AssistantResponse)
	assert.Equal(t, "Paris is lovely.", turns[0].AssistantResponse)
}

func TestSubmitTurnStreamAbortLeavesNoTurn(t *testing.T) {
	l, st := newTestLoop(&fakeRunner{stream: []*schema.Message{
		schema.AssistantMessage("partial ", nil),
		schema.AssistantMessage("answer", nil),
	}})

	clientGone := errors.New("client disconnected")
	err := l.SubmitTurnStream(context.Background(), "sess-1", "tell me more", func(f Fragment) error {
		return clientGone
	})
	assert.ErrorIs(t, err, clientGone)

	// An interrupted stream never persists a partial turn.
	turns, _ := st.RecentTurns(context.Background(), "sess-1", 10)
	assert.Empty(t, turns)
}

func TestSubmitTurnTimeoutDegradesToFallback(t *testing.T) {
	st := store.NewInMemoryStore()
	l := New(Config{Store: st, Runner: hangRunner{}, TurnTimeout: 50 * time.Millisecond})

	res, err := l.SubmitTurn(context.Background(), "sess-1", "slow question")
	require.NoError(t, err)
	assert.Equal(t, prompts.Fallback, res.Response)

	// The degraded turn still persists, same as any other fallback.
	turns, err := st.RecentTurns(context.Background(), "sess-1", 1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, prompts.Fallback, turns[0].AssistantResponse)
}

func TestSubmitTurnStreamTimeoutFallsBack(t *testing.T) {
	st := store.NewInMemoryStore()
	l := New(Config{Store: st, Runner: hangRunner{}, TurnTimeout: 50 * time.Millisecond})

	var got []Fragment
	err := l.SubmitTurnStream(context.Background(), "sess-1", "slow question", func(f Fragment) error {
		got = append(got, f)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, prompts.Fallback, got[0].Content)
	assert.True(t, got[1].Done)
}

func TestSubmitTurnCallerCancelReturnsError(t *testing.T) {
	l, st := newTestLoop(hangRunner{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := l.SubmitTurn(ctx, "sess-1", "a question")
	assert.ErrorIs(t, err, context.Canceled)

	turns, _ := st.RecentTurns(context.Background(), "sess-1", 10)
	assert.Empty(t, turns)
}

func TestSubmitTurnBoundsSessionBootstrap(t *testing.T) {
	st := &slowBootstrapStore{Store: store.NewInMemoryStore()}
	l := New(Config{
		Store:       st,
		Runner:      &fakeRunner{msg: schema.AssistantMessage("answer", nil)},
		TurnTimeout: 50 * time.Millisecond,
	})

	begin := time.Now()
	res, err := l.SubmitTurn(context.Background(), "sess-1", "a question")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Response)
	assert.Less(t, time.Since(begin), 2*time.Second)
}

func TestSubmitTurnStreamCancelledPersistsNothing(t *testing.T) {
	sr, sw := schema.Pipe[*schema.Message](2)
	l, st := newTestLoop(&pipeRunner{sr: sr})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer sw.Close()
		sw.Send(schema.AssistantMessage("partial ", nil), nil)
		cancel()
		sw.Send(nil, context.Canceled)
	}()

	err := l.SubmitTurnStream(ctx, "sess-1", "tell me about Rome", func(Fragment) error {
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	turns, _ := st.RecentTurns(context.Background(), "sess-1", 10)
	assert.Empty(t, turns)
}

func TestConcurrentSessionsStayIsolated(t *testing.T) {
	l, st := newTestLoop(&fakeRunner{msg: schema.AssistantMessage("answer", nil)})

	sessions := []string{"sess-a", "sess-b"}
	var wg sync.WaitGroup
	for _, id := range sessions {
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(id string, n int) {
				defer wg.Done()
				_, err := l.SubmitTurn(context.Background(), id, fmt.Sprintf("question %d for %s", n, id))
				assert.NoError(t, err)
			}(id, i)
		}
	}
	wg.Wait()

	for _, id := range sessions {
		turns, err := st.RecentTurns(context.Background(), id, 20)
		require.NoError(t, err)
		require.Len(t, turns, 5)
		for _, turn := range turns {
			assert.Contains(t, turn.UserMessage, id)
		}
	}
}

func TestSubmitTurnStreamOpenFailureFallsBack(t *testing.T) {
	l, st := newTestLoop(&fakeRunner{err: errors.New("stream open failed")})

	var got []Fragment
	err := l.SubmitTurnStream(context.Background(), "sess-1", "hello world question", func(f Fragment) error {
		got = append(got, f)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, prompts.Fallback, got[0].Content)
	assert.True(t, got[1].Done)

	turns, err := st.RecentTurns(context.Background(), "sess-1", 1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, prompts.Fallback, turns[0].AssistantResponse)
}

func TestHistoryUnknownSession(t *testing.T) {
	l, _ := newTestLoop(&fakeRunner{})

	_, _, err := l.History(context.Background(), "ghost", 0)
	assert.ErrorIs(t, err, errx.ErrSessionNotFound)
}

func TestHistoryReturnsTurnsOldestFirst(t *testing.T) {
	runner := &fakeRunner{msg: schema.AssistantMessage("answer", nil)}
	l, _ := newTestLoop(runner)

	_, err := l.SubmitTurn(context.Background(), "sess-1", "first question")
	require.NoError(t, err)
	_, err = l.SubmitTurn(context.Background(), "sess-1", "second question")
	require.NoError(t, err)

	sess, turns, err := l.History(context.Background(), "sess-1", 0)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sess.ID)
	require.Len(t, turns, 2)
	assert.Equal(t, "first question", turns[0].UserMessage)
	assert.Equal(t, "second question", turns[1].UserMessage)
}

func TestClearSession(t *testing.T) {
	l, _ := newTestLoop(&fakeRunner{msg: schema.AssistantMessage("answer", nil)})

	_, err := l.SubmitTurn(context.Background(), "sess-1", "a question")
	require.NoError(t, err)

	require.NoError(t, l.ClearSession(context.Background(), "sess-1"))

	_, turns, err := l.History(context.Background(), "sess-1", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)

	assert.ErrorIs(t, l.ClearSession(context.Background(), "ghost"), errx.ErrSessionNotFound)
}
