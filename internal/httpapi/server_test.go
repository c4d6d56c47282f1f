package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travelmate-poc/server/internal/chat/loop"
	"github.com/travelmate-poc/server/internal/chat/model"
	"github.com/travelmate-poc/server/internal/chat/store"
	"github.com/travelmate-poc/server/internal/observability"
)

type fakeRunner struct {
	msg    *schema.Message
	stream []*schema.Message
}

func (f *fakeRunner) Invoke(_ context.Context, _ model.TurnInput) (*schema.Message, error) {
	return f.msg, nil
}

func (f *fakeRunner) Stream(_ context.Context, _ model.TurnInput) (*schema.StreamReader[*schema.Message], error) {
	return schema.StreamReaderFromArray(f.stream), nil
}

func newTestServer(t *testing.T, runner *fakeRunner) (*httptest.Server, store.Store) {
	t.Helper()
	st := store.NewInMemoryStore()
	l := loop.New(loop.Config{
		Store:       st,
		Runner:      runner,
		Metrics:     observability.NewMetrics("travelmate_test"),
		TurnTimeout: time.Minute,
	})
	s := New(Config{}, l, observability.NewMetrics("travelmate_http_test"))
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestChatEndpoint(t *testing.T) {
	ts, st := newTestServer(t, &fakeRunner{msg: schema.AssistantMessage("Visit in May.", nil)})

	resp := postJSON(t, ts.URL+"/chat", map[string]string{
		"session_id": "sess-1",
		"message":    "when to visit Paris?",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decodeBody[model.TurnResult](t, resp)
	assert.Equal(t, "sess-1", result.SessionID)
	assert.Equal(t, "Visit in May.", result.Response)

	turns, err := st.RecentTurns(context.Background(), "sess-1", 10)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

func TestChatEndpointRejectsEmptyMessage(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRunner{})

	resp := postJSON(t, ts.URL+"/chat", map[string]string{"message": "   "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody[errorResponse](t, resp)
	assert.Equal(t, "invalid_input", body.Code)
}

func TestChatStreamEndpoint(t *testing.T) {
	ts, st := newTestServer(t, &fakeRunner{stream: []*schema.Message{
		schema.AssistantMessage("Take ", nil),
		schema.AssistantMessage("the train.", nil),
	}})

	resp := postJSON(t, ts.URL+"/chat/stream", map[string]string{
		"session_id": "sess-1",
		"message":    "how to get to Versailles?",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	defer resp.Body.Close()

	var fragments []loop.Fragment
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var f loop.Fragment
		require.NoError(t, json.Unmarshal([]byte(line), &f))
		fragments = append(fragments, f)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, fragments, 3)
	assert.Equal(t, "Take ", fragments[0].Content)
	assert.Equal(t, "the train.", fragments[1].Content)
	assert.True(t, fragments[2].Done)

	turns, err := st.RecentTurns(context.Background(), "sess-1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "Take the train.", turns[0].AssistantResponse)
}

func TestCreateSessionEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRunner{})

	resp := postJSON(t, ts.URL+"/v1/sessions", map[string]any{
		"metadata": map[string]string{"user": "amelie"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	sess := decodeBody[model.Session](t, resp)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "amelie", sess.Metadata["user"])
}

func TestHistoryEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRunner{msg: schema.AssistantMessage("answer", nil)})

	resp := postJSON(t, ts.URL+"/chat", map[string]string{"session_id": "sess-1", "message": "a question"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/v1/sessions/sess-1/history")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	hist := decodeBody[historyResponse](t, resp)
	require.NotNil(t, hist.Session)
	assert.Equal(t, "sess-1", hist.Session.ID)
	require.Len(t, hist.Turns, 1)
	assert.Equal(t, "a question", hist.Turns[0].UserMessage)
}

func TestHistoryUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRunner{})

	resp, err := http.Get(ts.URL + "/v1/sessions/ghost/history")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := decodeBody[errorResponse](t, resp)
	assert.Equal(t, "session_not_found", body.Code)
}

func TestHistoryRejectsBadLimit(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRunner{})

	resp, err := http.Get(ts.URL + "/v1/sessions/sess-1/history?limit=-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestClearSessionEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRunner{msg: schema.AssistantMessage("answer", nil)})

	resp := postJSON(t, ts.URL+"/chat", map[string]string{"session_id": "sess-1", "message": "a question"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/v1/sessions/sess-1", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/v1/sessions/sess-1/history")
	require.NoError(t, err)
	hist := decodeBody[historyResponse](t, resp)
	assert.Empty(t, hist.Turns)
}

func TestClearUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRunner{})

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/v1/sessions/ghost", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRunner{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
