package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/rotor/internal/bulker"
	"github.com/arc-self/rotor/internal/chain"
	"github.com/arc-self/rotor/internal/model"
	"github.com/arc-self/rotor/internal/udf"
)

type fakeResolver struct {
	conns map[string]*model.Connection
}

func (f *fakeResolver) GetEnrichedConnection(ctx context.Context, id string) (*model.Connection, error) {
	c, ok := f.conns[id]
	if !ok {
		return nil, model.NewErr(model.KindUnknownConnection, "", errors.New("not found"))
	}
	return c, nil
}

type fakeFunctions struct {
	defs map[string]*model.FunctionDefinition
}

func (f *fakeFunctions) GetFunctionDefinition(ctx context.Context, id string) (*model.FunctionDefinition, error) {
	d, ok := f.defs[id]
	if !ok {
		return nil, model.NewErr(model.KindUnknownFunction, "", errors.New("not found"))
	}
	return d, nil
}

type fakeWebhook struct{ calls []string }

func (f *fakeWebhook) Deliver(ctx context.Context, url, secret string, payload any) error {
	f.calls = append(f.calls, url)
	return nil
}

type fakeEmail struct{}

func (fakeEmail) Deliver(ctx context.Context, conn model.Connection, event *model.Event) error {
	return nil
}

type fakeMetrics struct{ recorded int }

func (f *fakeMetrics) RecordExecution(workspaceID string, log model.ExecutionLog, outcome string) {
	f.recorded++
}

type memKV struct{ data map[string][]byte }

func (m *memKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}
func (m *memKV) Set(ctx context.Context, key string, value []byte) error {
	m.data[key] = value
	return nil
}
func (m *memKV) Delete(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func newDeps(t *testing.T, bulkerURL string, fns map[string]*model.FunctionDefinition) (chain.Deps, *fakeWebhook) {
	t.Helper()
	reg := udf.NewRegistry(udf.NewGojaCompiler())
	t.Cleanup(reg.Close)

	wh := &fakeWebhook{}
	return chain.Deps{
		Functions: &fakeFunctions{defs: fns},
		UDFs:      reg,
		Webhook:   wh,
		Email:     fakeEmail{},
		Bulker:    bulker.New(bulkerURL, "test-token"),
	}, wh
}

// scenario 1: passthrough — no functions, usesBulker=true.
func TestHandler_Passthrough(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	deps, _ := newDeps(t, srv.URL, nil)
	resolver := &fakeResolver{conns: map[string]*model.Connection{
		"c1": {ID: "c1", WorkspaceID: "w1", UsesBulker: true, Options: map[string]any{"dataLayout": "segment"}},
	}}
	metrics := &fakeMetrics{}
	h := New(resolver, deps, &memKV{data: map[string][]byte{}}, nil, metrics, nil, zaptest.NewLogger(t))

	raw, _ := json.Marshal(model.IngestMessage{
		ConnectionID: "c1",
		MessageID:    "m1",
		Type:         model.TagTrack,
		HTTPPayload:  json.RawMessage(`{"messageId":"m1","type":"track","event":"click"}`),
	})

	outcome := h.HandleMessage(context.Background(), raw, 0)
	assert.False(t, outcome.Retry)
	assert.False(t, outcome.Dropped)
	assert.Equal(t, "/post/c1", gotPath)
	assert.Equal(t, 1, metrics.recorded)
}

// scenario 2: builtin transform fills in a missing timestamp.
func TestHandler_BuiltinAddTimestamp(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	deps, _ := newDeps(t, srv.URL, nil)
	resolver := &fakeResolver{conns: map[string]*model.Connection{
		"c2": {
			ID: "c2", WorkspaceID: "w1", UsesBulker: true,
			Options: map[string]any{"functions": []map[string]any{
				{"functionId": "builtin.transformation.addTimestamp"},
			}},
		},
	}}
	h := New(resolver, deps, &memKV{data: map[string][]byte{}}, nil, &fakeMetrics{}, nil, zaptest.NewLogger(t))

	raw, _ := json.Marshal(model.IngestMessage{
		ConnectionID: "c2", MessageID: "m2", Type: model.TagTrack,
		HTTPPayload: json.RawMessage(`{"messageId":"m2","type":"track"}`),
	})

	outcome := h.HandleMessage(context.Background(), raw, 0)
	assert.False(t, outcome.Retry)
	require.NotEmpty(t, gotBody)
	assert.NotEmpty(t, gotBody["timestamp"])
}

// scenario 5: workspace mismatch on a udf reference is fatal, no delivery.
func TestHandler_WorkspaceMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("bulker must not be called when the chain build fails fatally")
	}))
	defer srv.Close()

	deps, _ := newDeps(t, srv.URL, map[string]*model.FunctionDefinition{
		"f9": {ID: "f9", WorkspaceID: "W2", Name: "evil", Code: "function default(e){return e}"},
	})
	resolver := &fakeResolver{conns: map[string]*model.Connection{
		"c3": {
			ID: "c3", WorkspaceID: "W1", UsesBulker: true,
			Options: map[string]any{"functions": []map[string]any{
				{"functionId": "udf.f9"},
			}},
		},
	}}
	metrics := &fakeMetrics{}
	h := New(resolver, deps, &memKV{data: map[string][]byte{}}, nil, metrics, nil, zaptest.NewLogger(t))

	raw, _ := json.Marshal(model.IngestMessage{
		ConnectionID: "c3", MessageID: "m3", Type: model.TagTrack,
		HTTPPayload: json.RawMessage(`{"messageId":"m3","type":"track"}`),
	})

	outcome := h.HandleMessage(context.Background(), raw, 0)
	assert.True(t, outcome.Dropped)
	assert.False(t, outcome.Retry)
}

// scenario 6: a transient 5xx from the bulker results in a retryable outcome.
func TestHandler_Transient503IsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	deps, _ := newDeps(t, srv.URL, nil)
	resolver := &fakeResolver{conns: map[string]*model.Connection{
		"c1": {ID: "c1", WorkspaceID: "w1", UsesBulker: true},
	}}
	h := New(resolver, deps, &memKV{data: map[string][]byte{}}, nil, &fakeMetrics{}, nil, zaptest.NewLogger(t))

	raw, _ := json.Marshal(model.IngestMessage{
		ConnectionID: "c1", MessageID: "m1", Type: model.TagTrack,
		HTTPPayload: json.RawMessage(`{"messageId":"m1","type":"track"}`),
	})

	outcome := h.HandleMessage(context.Background(), raw, 0)
	assert.True(t, outcome.Retry)
}

func TestHandler_MalformedJSONDropsWithoutRetry(t *testing.T) {
	h := New(&fakeResolver{}, chain.Deps{}, &memKV{data: map[string][]byte{}}, nil, &fakeMetrics{}, nil, zaptest.NewLogger(t))
	outcome := h.HandleMessage(context.Background(), []byte(`{not-json`), 0)
	assert.True(t, outcome.Dropped)
	assert.False(t, outcome.Retry)
}

func TestHandler_UnknownConnectionDropsWithoutRetry(t *testing.T) {
	h := New(&fakeResolver{conns: map[string]*model.Connection{}}, chain.Deps{}, &memKV{data: map[string][]byte{}}, nil, &fakeMetrics{}, nil, zaptest.NewLogger(t))

	raw, _ := json.Marshal(model.IngestMessage{
		ConnectionID: "missing", MessageID: "m1",
		HTTPPayload: json.RawMessage(`{}`),
	})
	outcome := h.HandleMessage(context.Background(), raw, 0)
	assert.True(t, outcome.Dropped)
	assert.False(t, outcome.Retry)
}
