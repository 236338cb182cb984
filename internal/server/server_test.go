package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.cscs.ch/openchami/chamicore-ui/internal/config"
	"git.cscs.ch/openchami/chamicore-ui/internal/events"
	"git.cscs.ch/openchami/chamicore-ui/internal/metrics"
	"git.cscs.ch/openchami/chamicore-ui/internal/state"
	"git.cscs.ch/openchami/chamicore-ui/internal/syncer"
	"git.cscs.ch/openchami/chamicore-ui/pkg/client"
	"git.cscs.ch/openchami/chamicore-ui/pkg/types"
)

type apiError struct {
	body string
}

func (e *apiError) Error() string { return "remote API returned 404 Not Found" }

func (e *apiError) ResponseBody() json.RawMessage { return json.RawMessage(e.body) }

// fakeFetcher answers from fixed payloads. Detail ids absent from details
// fail with a structured body.
type fakeFetcher struct {
	machines   []types.Record
	activities []types.Record
	details    map[string]types.Record
	imagesErr  error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		machines:   []types.Record{types.Record(`{"id":"m1"}`)},
		activities: []types.Record{types.Record(`{"t":1}`), types.Record(`{"t":2}`)},
		details:    map[string]types.Record{"m1": types.Record(`{"mem":16}`)},
	}
}

func (f *fakeFetcher) Version(context.Context) (*types.VersionInfo, error) {
	return &types.VersionInfo{Version: "1.2.3"}, nil
}

func (f *fakeFetcher) ListMachines(context.Context) ([]types.Record, error) { return f.machines, nil }

func (f *fakeFetcher) ListSSHKeys(context.Context) ([]types.Record, error) {
	return []types.Record{}, nil
}

func (f *fakeFetcher) ListImages(context.Context) ([]types.Record, error) {
	if f.imagesErr != nil {
		return nil, f.imagesErr
	}
	return []types.Record{}, nil
}

func (f *fakeFetcher) ListNetworks(context.Context) ([]types.Record, error) {
	return []types.Record{}, nil
}

func (f *fakeFetcher) ListActivities(context.Context) (*types.ActivityList, error) {
	return &types.ActivityList{Activities: f.activities}, nil
}

func (f *fakeFetcher) GetMachine(_ context.Context, id string) (types.Record, error) {
	detail, ok := f.details[id]
	if !ok {
		return nil, &apiError{body: `{"message":"not found"}`}
	}
	return detail, nil
}

type mockRefresher struct {
	triggerFn func(ctx context.Context) (syncer.Counts, error)
}

func (m *mockRefresher) Trigger(ctx context.Context) (syncer.Counts, error) {
	return m.triggerFn(ctx)
}

func (m *mockRefresher) Status() syncer.Status {
	return syncer.Status{Ready: true, SuccessfulRuns: 1}
}

func newTestServer(t *testing.T, f *fakeFetcher, cfg config.Config, opts ...Option) (*Server, *state.Store) {
	t.Helper()
	st, err := state.New(f)
	require.NoError(t, err)
	return New(st, cfg, "v-test", "c-test", "b-test", zerolog.Nop(), opts...), st
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_PublicEndpoints(t *testing.T) {
	m := metrics.New(nil)
	srv, st := newTestServer(t, newFakeFetcher(), config.Config{MetricsEnabled: true}, WithMetricsHandler(m.Handler()))
	router := srv.Router()

	resp := do(t, router, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ui/v1", resp.Header().Get("X-API-Version"))
	assert.Equal(t, "nosniff", resp.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", resp.Header().Get("Cache-Control"))

	resp = do(t, router, http.MethodGet, "/readiness")
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, problemContentType, resp.Header().Get("Content-Type"))

	require.Equal(t, state.OutcomeUpdated, st.Connect(context.Background()))
	resp = do(t, router, http.MethodGet, "/readiness")
	require.Equal(t, http.StatusOK, resp.Code)

	resp = do(t, router, http.MethodGet, "/version")
	require.Equal(t, http.StatusOK, resp.Code)
	version := decode[versionResponse](t, resp)
	assert.Equal(t, "v-test", version.Version)
	assert.Equal(t, "1.2.3", version.Remote)

	resp = do(t, router, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestServer_MetricsDisabled(t *testing.T) {
	srv, _ := newTestServer(t, newFakeFetcher(), config.Config{}, WithMetricsHandler(metrics.New(nil).Handler()))

	resp := do(t, srv.Router(), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, problemContentType, resp.Header().Get("Content-Type"))
}

func TestServer_StateBeforeAndAfterRefresh(t *testing.T) {
	srv, _ := newTestServer(t, newFakeFetcher(), config.Config{})
	router := srv.Router()

	resp := do(t, router, http.MethodGet, "/ui/v1/state")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{
		"version": "",
		"machines": [],
		"sshKeys": [],
		"images": [],
		"networks": [],
		"machineDetails": {},
		"activities": [],
		"reversedActivities": [],
		"error": ""
	}`, resp.Body.String())

	for _, resource := range []string{"version", "machines", "activities"} {
		resp = do(t, router, http.MethodPost, "/ui/v1/"+resource+"/refresh")
		require.Equal(t, http.StatusOK, resp.Code, resource)
		result := decode[types.RefreshResult](t, resp)
		assert.Equal(t, resource, result.Resource)
		assert.Equal(t, "updated", result.Outcome)
	}

	resp = do(t, router, http.MethodGet, "/ui/v1/machines")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `[{"id":"m1"}]`, resp.Body.String())

	resp = do(t, router, http.MethodGet, "/ui/v1/version")
	assert.JSONEq(t, `{"version":"1.2.3"}`, resp.Body.String())

	resp = do(t, router, http.MethodGet, "/ui/v1/activities/recent")
	assert.JSONEq(t, `[{"t":2},{"t":1}]`, resp.Body.String())

	resp = do(t, router, http.MethodGet, "/ui/v1/activities")
	assert.JSONEq(t, `[{"t":1},{"t":2}]`, resp.Body.String())
}

func TestServer_MachineDetails(t *testing.T) {
	srv, _ := newTestServer(t, newFakeFetcher(), config.Config{})
	router := srv.Router()

	resp := do(t, router, http.MethodGet, "/ui/v1/machines/m1")
	require.Equal(t, http.StatusNotFound, resp.Code)
	problem := decode[types.ProblemDetail](t, resp)
	assert.Equal(t, http.StatusNotFound, problem.Status)
	assert.Equal(t, "/ui/v1/machines/m1", problem.Instance)

	resp = do(t, router, http.MethodPost, "/ui/v1/machines/m1/refresh")
	require.Equal(t, http.StatusOK, resp.Code)
	result := decode[types.RefreshResult](t, resp)
	assert.Equal(t, types.RefreshResult{Resource: "machineDetails", Key: "m1", Outcome: "updated"}, result)

	resp = do(t, router, http.MethodGet, "/ui/v1/machines/m1")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"mem":16}`, resp.Body.String())

	resp = do(t, router, http.MethodPost, "/ui/v1/machines/m2/refresh")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "failed", decode[types.RefreshResult](t, resp).Outcome)

	resp = do(t, router, http.MethodGet, "/ui/v1/error")
	require.Equal(t, http.StatusOK, resp.Code)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, map[string]any{"message": "not found"}, body["error"])
	assert.NotEmpty(t, body["occurredAt"])
}

func TestServer_FailedRefreshKeepsValueAndSetsError(t *testing.T) {
	f := newFakeFetcher()
	f.imagesErr = errors.New("timeout")
	srv, _ := newTestServer(t, f, config.Config{})
	router := srv.Router()

	resp := do(t, router, http.MethodPost, "/ui/v1/images/refresh")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "failed", decode[types.RefreshResult](t, resp).Outcome)

	resp = do(t, router, http.MethodGet, "/ui/v1/images")
	assert.JSONEq(t, `[]`, resp.Body.String())

	resp = do(t, router, http.MethodGet, "/ui/v1/error")
	assert.Equal(t, "timeout", decode[map[string]any](t, resp)["error"])
}

func TestServer_RefreshOutlivesDisconnectedCaller(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"m1"}]`))
	}))
	defer upstream.Close()

	apiClient, err := client.New(client.Config{BaseURL: upstream.URL})
	require.NoError(t, err)
	st, err := state.New(apiClient)
	require.NoError(t, err)
	local := httptest.NewServer(New(st, config.Config{}, "v-test", "c-test", "b-test", zerolog.Nop()).Router())
	defer local.Close()

	caller := &http.Client{Timeout: 50 * time.Millisecond}
	resp, err := caller.Post(local.URL+"/ui/v1/machines/refresh", "application/json", nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.Error(t, err)

	require.Eventually(t, func() bool { return len(st.Machines()) == 1 }, 2*time.Second, 20*time.Millisecond)
	assert.JSONEq(t, `{"id":"m1"}`, string(st.Machines()[0]))
	assert.True(t, st.Error().IsZero(), "unexpected error slot value %v", st.Error().Value())
}

func TestServer_RefreshAll(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		srv, _ := newTestServer(t, newFakeFetcher(), config.Config{})
		resp := do(t, srv.Router(), http.MethodPost, "/ui/v1/refresh")
		assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

		resp = do(t, srv.Router(), http.MethodGet, "/ui/v1/refresh")
		assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	})

	t.Run("triggers cycle", func(t *testing.T) {
		refresher := &mockRefresher{triggerFn: func(context.Context) (syncer.Counts, error) {
			return syncer.Counts{Updated: 6, Failed: 1}, nil
		}}
		srv, _ := newTestServer(t, newFakeFetcher(), config.Config{}, WithRefresher(refresher))

		resp := do(t, srv.Router(), http.MethodPost, "/ui/v1/refresh")
		require.Equal(t, http.StatusOK, resp.Code)
		body := decode[refreshAllResponse](t, resp)
		assert.Equal(t, syncer.Counts{Updated: 6, Failed: 1}, body.Counts)
		assert.True(t, body.Status.Ready)

		resp = do(t, srv.Router(), http.MethodGet, "/ui/v1/refresh")
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, int64(1), decode[syncer.Status](t, resp).SuccessfulRuns)
	})

	t.Run("trigger error", func(t *testing.T) {
		refresher := &mockRefresher{triggerFn: func(context.Context) (syncer.Counts, error) {
			return syncer.Counts{}, context.DeadlineExceeded
		}}
		srv, _ := newTestServer(t, newFakeFetcher(), config.Config{}, WithRefresher(refresher))

		resp := do(t, srv.Router(), http.MethodPost, "/ui/v1/refresh")
		assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	})
}

func TestServer_UnknownRoutes(t *testing.T) {
	srv, _ := newTestServer(t, newFakeFetcher(), config.Config{})

	resp := do(t, srv.Router(), http.MethodGet, "/ui/v1/bogus")
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, problemContentType, resp.Header().Get("Content-Type"))

	resp = do(t, srv.Router(), http.MethodDelete, "/ui/v1/machines")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)
}

func TestServer_RefreshRejectsResourceWithoutSlot(t *testing.T) {
	srv, _ := newTestServer(t, newFakeFetcher(), config.Config{})

	resp := do(t, srv.handleRefreshResource("bogus"), http.MethodPost, "/ui/v1/bogus/refresh")
	require.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, problemContentType, resp.Header().Get("Content-Type"))
	problem := decode[types.ProblemDetail](t, resp)
	assert.Contains(t, problem.Detail, "bogus")
}

func TestServer_DevCORS(t *testing.T) {
	srv, _ := newTestServer(t, newFakeFetcher(), config.Config{DevMode: true})

	resp := do(t, srv.Router(), http.MethodOptions, "/ui/v1/state")
	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))

	srv, _ = newTestServer(t, newFakeFetcher(), config.Config{})
	resp = do(t, srv.Router(), http.MethodGet, "/health")
	assert.Empty(t, resp.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_EventsNotConfigured(t *testing.T) {
	srv, _ := newTestServer(t, newFakeFetcher(), config.Config{})

	resp := do(t, srv.Router(), http.MethodGet, "/ui/v1/events")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestServer_EventsStreamChanges(t *testing.T) {
	broker := events.NewBroker(8)
	srv, st := newTestServer(t, newFakeFetcher(), config.Config{}, WithEvents(broker), WithKeepAlive(time.Hour))
	cancelSub := st.Subscribe(broker)
	t.Cleanup(cancelSub)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/ui/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	event, _ := readSSEEvent(t, reader)
	require.Equal(t, "ready", event)
	require.Eventually(t, func() bool { return broker.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, state.OutcomeUpdated, st.RefreshMachines(context.Background()))

	event, data := readSSEEvent(t, reader)
	require.Equal(t, "change", event)
	var change types.ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(data), &change))
	assert.Equal(t, state.ResourceMachines, change.Resource)
	assert.Equal(t, events.Source, change.Source)
	assert.NotEmpty(t, change.ID)
}

func readSSEEvent(t *testing.T, reader *bufio.Reader) (string, string) {
	t.Helper()

	var event, data string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if event != "" {
				return event, data
			}
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}
