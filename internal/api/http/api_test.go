package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	blerrors "github.com/blocklog/blocklog/internal/errors"
	"github.com/blocklog/blocklog/internal/observability"
	"github.com/blocklog/blocklog/pkg/types"
)

type fakeReader struct {
	gotPos   types.BlockPos
	gotLimit int
	entries  []types.LogEntry
	txns     []types.ContainerTransaction
	err      error
}

func (f *fakeReader) RecentActionsAt(_ context.Context, pos types.BlockPos, limit int) ([]types.LogEntry, error) {
	f.gotPos, f.gotLimit = pos, limit
	return f.entries, f.err
}

func (f *fakeReader) ContainerHistoryAt(_ context.Context, pos types.BlockPos, limit int) ([]types.ContainerTransaction, error) {
	f.gotPos, f.gotLimit = pos, limit
	return f.txns, f.err
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestRouter(reader *fakeReader, db Pinger) http.Handler {
	reg := prometheus.NewRegistry()
	observability.NewMetrics(reg).IncDropped(observability.QueueEntries)
	return NewRouter(RouterConfig{
		History:        reader,
		DB:             db,
		Gatherer:       reg,
		InspectLimit:   10,
		ContainerLimit: 5,
	})
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHistory_ReturnsEntries(t *testing.T) {
	reader := &fakeReader{entries: []types.LogEntry{{
		ID: "e1", ActorName: "Alice", World: "world", X: 1, Y: 64, Z: -3,
		Material: "STONE", Action: types.ActionPlaced, CreatedAt: 1000,
	}}}
	rec := get(t, newTestRouter(reader, fakePinger{}), "/v1/history?world=world&x=1&y=64&z=-3")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, types.BlockPos{World: "world", X: 1, Y: 64, Z: -3}, reader.gotPos)
	assert.Equal(t, 10, reader.gotLimit)

	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "e1", resp.Entries[0].ID)
	assert.Equal(t, types.ActionPlaced.String(), resp.Entries[0].ActionName)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), resp.RequestID)
}

func TestHistory_LimitIsCapped(t *testing.T) {
	reader := &fakeReader{}
	rec := get(t, newTestRouter(reader, fakePinger{}), "/v1/history?world=w&x=0&y=0&z=0&limit=50000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MaxLimit, reader.gotLimit)
}

func TestHistory_BadParameters(t *testing.T) {
	router := newTestRouter(&fakeReader{}, fakePinger{})
	for _, target := range []string{
		"/v1/history?x=0&y=0&z=0",
		"/v1/history?world=w&y=0&z=0",
		"/v1/history?world=w&x=a&y=0&z=0",
		"/v1/history?world=w&x=0&y=0&z=0&limit=-1",
	} {
		rec := get(t, router, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestHistory_UnavailableStore(t *testing.T) {
	reader := &fakeReader{err: blerrors.ErrUnavailable}
	rec := get(t, newTestRouter(reader, fakePinger{}), "/v1/history?world=w&x=0&y=0&z=0")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestQueryFailures_LogDetailButReturnFixedMessage(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	reader := &fakeReader{err: errors.New("disk I/O error at /var/secret/blocklog.sqlite")}
	h := NewRouter(RouterConfig{History: reader, DB: fakePinger{}, Logger: zap.New(core)})

	for target, msg := range map[string]string{
		"/v1/history?world=world&x=1&y=2&z=3":    "history query failed",
		"/v1/containers?world=world&x=1&y=2&z=3": "container query failed",
	} {
		rec := get(t, h, target)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, target)
		assert.NotContains(t, rec.Body.String(), "secret", target)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, msg, body.Error, target)

		found := logs.FilterMessage(msg).All()
		require.Len(t, found, 1, target)
		assert.Contains(t, found[0].ContextMap()["error"], "/var/secret")
	}
}

func TestHistory_RejectsPost(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(&fakeReader{}, fakePinger{}).ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/v1/history?world=w&x=0&y=0&z=0", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestContainers_UsesContainerLimit(t *testing.T) {
	reader := &fakeReader{}
	rec := get(t, newTestRouter(reader, fakePinger{}), "/v1/containers?world=w&x=1&y=2&z=3")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, reader.gotLimit)

	var resp ContainerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotNil(t, resp.Transactions)
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestRouter(&fakeReader{}, fakePinger{}), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, newTestRouter(&fakeReader{}, fakePinger{err: errors.New("closed")}), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "closed")
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestRouter(&fakeReader{}, fakePinger{}), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "blocklog_"))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := DefaultMiddleware(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := get(t, h, "/")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetRequestID(r.Context())))
	}))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Body.String())
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}
