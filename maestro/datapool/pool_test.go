package datapool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSession struct {
	baseURL string
	headers http.Header
	client  *http.Client
	timeout time.Duration
}

func (s *testSession) BaseURL() string          { return s.baseURL }
func (s *testSession) Headers() http.Header     { return s.headers }
func (s *testSession) HTTPClient() *http.Client { return s.client }
func (s *testSession) Timeout() time.Duration   { return s.timeout }

func newTestSession(server *httptest.Server) *testSession {
	headers := http.Header{}
	headers.Set("token", "test-token")
	headers.Set("organization", "test-org")
	return &testSession{baseURL: server.URL, headers: headers, client: server.Client()}
}

func TestNewPoolDefaults(t *testing.T) {
	t.Parallel()

	pool := New("orders", "process-orders")
	assert.Equal(t, "orders", pool.Label)
	assert.Equal(t, "process-orders", pool.DefaultAutomation)
	assert.Equal(t, ConsumptionFIFO, pool.ConsumptionPolicy)
	assert.Equal(t, TriggerNever, pool.Trigger)
	assert.Equal(t, "DEFAULT", pool.RepositoryLabel)
	assert.True(t, pool.AutoRetry)
	assert.True(t, pool.AbortOnError)
	assert.True(t, pool.Active)
	assert.NotNil(t, pool.Schema)
}

func TestCreateSendsConfigAndBindsPool(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/datapool", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("token"))
		assert.Equal(t, "test-org", r.Header.Get("organization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "orders", body["label"])
		assert.Equal(t, "process-orders", body["defaultAutomation"])
		assert.Equal(t, "FIFO", body["consumptionPolicy"])
		assert.Equal(t, true, body["active"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	pool, err := Create(context.Background(), newTestSession(server), New("orders", "process-orders"))
	require.NoError(t, err)
	assert.Equal(t, "process-orders", pool.DefaultAutomation, "create keeps local fields")
	assert.NotNil(t, pool.session)
}

func TestCreateRequiresSession(t *testing.T) {
	t.Parallel()

	_, err := Create(context.Background(), nil, New("orders", "process-orders"))
	require.ErrorIs(t, err, ErrNoSession)
}

func TestCreateReportsServerRejection(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message": "label already in use"}`))
	}))
	t.Cleanup(server.Close)

	_, err := Create(context.Background(), newTestSession(server), New("orders", "process-orders"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "label already in use")
}

func TestFetchHydratesFromResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v2/datapool/orders", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": 77,
			"label": "orders",
			"defaultActivity": "process-orders",
			"consumptionPolicy": "LIFO",
			"schema": ["ticket"],
			"repositoryLabel": "DEFAULT",
			"trigger": "ALWAYS",
			"autoRetry": false,
			"maxAutoRetry": 2,
			"abortOnError": false,
			"maxErrorsBeforeInactive": 5,
			"itemMaxProcessingTime": 600,
			"active": false
		}`))
	}))
	t.Cleanup(server.Close)

	pool, err := Fetch(context.Background(), newTestSession(server), "orders")
	require.NoError(t, err)
	assert.Equal(t, "77", pool.ID)
	assert.Equal(t, "process-orders", pool.DefaultAutomation)
	assert.Equal(t, ConsumptionLIFO, pool.ConsumptionPolicy)
	assert.Equal(t, []string{"ticket"}, pool.Schema)
	assert.Equal(t, TriggerAlways, pool.Trigger)
	assert.False(t, pool.AutoRetry)
	assert.Equal(t, 2, pool.MaxAutoRetry)
	assert.Equal(t, 5, pool.MaxErrorsInactive)
	assert.Equal(t, 600, pool.MaxProcessingTime)
	assert.False(t, pool.Active)
}

func TestActivatePostsFullConfig(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/datapool/orders", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["active"])
		assert.Equal(t, "process-orders", body["defaultAutomation"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"label": "orders", "defaultActivity": "process-orders", "active": true}`))
	}))
	t.Cleanup(server.Close)

	pool := New("orders", "process-orders")
	pool.Active = false
	pool.Bind(newTestSession(server))

	require.NoError(t, pool.Activate(context.Background()))
	assert.True(t, pool.Active)
}

func TestDeactivatePostsFullConfig(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, false, body["active"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"label": "orders", "defaultActivity": "process-orders", "active": false}`))
	}))
	t.Cleanup(server.Close)

	pool := New("orders", "process-orders")
	pool.Bind(newTestSession(server))

	require.NoError(t, pool.Deactivate(context.Background()))
	assert.False(t, pool.Active)
}

func TestIsActiveRefreshesFromPortal(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"label": "orders", "defaultActivity": "process-orders", "active": false}`))
	}))
	t.Cleanup(server.Close)

	pool := New("orders", "process-orders")
	pool.Bind(newTestSession(server))

	active, err := pool.IsActive(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
	assert.False(t, pool.Active)
}

func TestSummaryReadsCounters(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/datapool/orders/summary", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"countPending": 4,
			"countProcessing": 1,
			"countDone": 10,
			"countError": 2,
			"countTimeout": 1,
			"avgDone": 34.5
		}`))
	}))
	t.Cleanup(server.Close)

	pool := New("orders", "process-orders")
	pool.Bind(newTestSession(server))

	summary, err := pool.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, summary.CountPending)
	assert.Equal(t, 1, summary.CountProcessing)
	assert.Equal(t, 10, summary.CountDone)
	assert.Equal(t, 2, summary.CountError)
	assert.Equal(t, 1, summary.CountTimeout)
	assert.Equal(t, 34.5, summary.AvgDone)
}

func TestIsEmptyAndHasNext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		pending   int
		wantEmpty bool
	}{
		{name: "pending entries", pending: 3, wantEmpty: false},
		{name: "drained pool", pending: 0, wantEmpty: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				require.NoError(t, json.NewEncoder(w).Encode(map[string]int{"countPending": tt.pending}))
			}))
			t.Cleanup(server.Close)

			pool := New("orders", "process-orders")
			pool.Bind(newTestSession(server))

			empty, err := pool.IsEmpty(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantEmpty, empty)

			hasNext, err := pool.HasNext(context.Background())
			require.NoError(t, err)
			assert.Equal(t, !tt.wantEmpty, hasNext)
		})
	}
}

func TestCreateEntrySendsOnlyPriorityAndValues(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/datapool/orders/push", r.URL.Path)

		raw, err := json.Marshal(map[string]any{"priority": 2, "values": map[string]any{"ticket": "T-1"}})
		require.NoError(t, err)
		var body json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.JSONEq(t, string(raw), string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "entry-1",
			"dataPoolLabel": "orders",
			"state": "PENDING",
			"values": {"ticket": "T-1"},
			"priority": 2,
			"dateRegister": "2026-08-20T09:00:00"
		}`))
	}))
	t.Cleanup(server.Close)

	pool := New("orders", "process-orders")
	pool.Bind(newTestSession(server))

	entry, err := pool.CreateEntry(context.Background(), NewEntry(map[string]any{"ticket": "T-1"}, 2))
	require.NoError(t, err)
	assert.Equal(t, "entry-1", entry.ID)
	assert.Equal(t, StatePending, entry.State())
	assert.Equal(t, "orders", entry.PoolLabel)
	assert.NotNil(t, entry.session)
}

func TestGetEntryReturnsFreshEntry(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v2/datapool/orders/entry/entry-9", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "entry-9",
			"dataPoolLabel": "orders",
			"state": "TIMEOUT",
			"values": {"ticket": "T-9"},
			"taskId": 2210,
			"priority": 0
		}`))
	}))
	t.Cleanup(server.Close)

	pool := New("orders", "process-orders")
	pool.Bind(newTestSession(server))

	entry, err := pool.GetEntry(context.Background(), "entry-9")
	require.NoError(t, err)
	assert.Equal(t, "entry-9", entry.ID)
	assert.Equal(t, StateTimeout, entry.State())
	assert.Equal(t, "2210", entry.TaskID)
	assert.NotNil(t, entry.session)
}

func TestNextReturnsNoEntryOnNoContent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/datapool/orders/pull", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	pool := New("orders", "process-orders")
	pool.Bind(newTestSession(server))

	entry, err := pool.Next(context.Background(), "41")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestNextStampsCallerTaskID(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "entry-1",
			"dataPoolLabel": "orders",
			"state": "PROCESSING",
			"values": {"ticket": "T-1"},
			"priority": 0,
			"dateProcessing": "2026-08-20T09:05:00"
		}`))
	}))
	t.Cleanup(server.Close)

	pool := New("orders", "process-orders")
	pool.Bind(newTestSession(server))

	entry, err := pool.Next(context.Background(), "41")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, StateProcessing, entry.State())
	assert.Equal(t, "41", entry.TaskID, "pull responses never echo the claiming task")
	assert.Equal(t, "T-1", entry.StringValue("ticket", ""))
}

func TestNextPropagatesServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message": "queue unavailable"}`))
	}))
	t.Cleanup(server.Close)

	pool := New("orders", "process-orders")
	pool.Bind(newTestSession(server))

	entry, err := pool.Next(context.Background(), "41")
	require.Error(t, err)
	assert.Nil(t, entry)
	assert.Contains(t, err.Error(), "queue unavailable")
}

func TestNextSurfacesTransportFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	session := newTestSession(server)
	server.Close()

	pool := New("orders", "process-orders")
	pool.Bind(session)

	entry, err := pool.Next(context.Background(), "41")
	require.Error(t, err)
	assert.Nil(t, entry)
}

func TestDeleteRemovesPool(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v2/datapool/orders", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message": "deleted", "type": "success"}`))
	}))
	t.Cleanup(server.Close)

	pool := New("orders", "process-orders")
	pool.Bind(newTestSession(server))

	require.NoError(t, pool.Delete(context.Background()))
}

func TestPoolEscapesLabelInPaths(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/datapool/orders%2Fhigh/summary", r.URL.RawPath)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"countPending": 0}`))
	}))
	t.Cleanup(server.Close)

	pool := New("orders/high", "process-orders")
	pool.Bind(newTestSession(server))

	_, err := pool.Summary(context.Background())
	require.NoError(t, err)
}

// fakePortal is an in-memory queue backend for the full produce-claim-finish
// cycle.
type fakePortal struct {
	mu      sync.Mutex
	nextID  int
	order   []string
	entries map[string]map[string]any
}

func newFakePortal() *fakePortal {
	return &fakePortal{entries: map[string]map[string]any{}}
}

func (f *fakePortal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path

	switch {
	case path == "/api/v2/datapool" && r.Method == http.MethodPost:
		_, _ = w.Write([]byte(`{}`))

	case strings.HasSuffix(path, "/push") && r.Method == http.MethodPost:
		label := strings.TrimSuffix(strings.TrimPrefix(path, "/api/v2/datapool/"), "/push")
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.nextID++
		id := "entry-" + strconv.Itoa(f.nextID)
		record := map[string]any{
			"id":            id,
			"dataPoolLabel": label,
			"state":         "PENDING",
			"priority":      body["priority"],
			"values":        body["values"],
		}
		f.entries[id] = record
		f.order = append(f.order, id)
		_ = json.NewEncoder(w).Encode(record)

	case strings.HasSuffix(path, "/pull") && r.Method == http.MethodGet:
		for _, id := range f.order {
			record := f.entries[id]
			if record["state"] == "PENDING" {
				record["state"] = "PROCESSING"
				_ = json.NewEncoder(w).Encode(record)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)

	case strings.HasSuffix(path, "/summary") && r.Method == http.MethodGet:
		counts := map[string]int{}
		for _, record := range f.entries {
			counts[record["state"].(string)]++
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"countPending":    counts["PENDING"],
			"countProcessing": counts["PROCESSING"],
			"countDone":       counts["DONE"],
			"countError":      counts["ERROR"],
			"countTimeout":    counts["TIMEOUT"],
		})

	case strings.Contains(path, "/entry/") && r.Method == http.MethodPost:
		id := path[strings.LastIndex(path, "/")+1:]
		record, ok := f.entries[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		record["state"] = body["state"]
		record["values"] = body["values"]
		if body["taskId"] != nil {
			record["taskId"] = body["taskId"]
		}
		_ = json.NewEncoder(w).Encode(record)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestPoolProduceClaimFinishCycle(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(newFakePortal())
	t.Cleanup(server.Close)
	session := newTestSession(server)
	ctx := context.Background()

	// Unique label per run, the way agents name throwaway pools on a
	// shared portal.
	label := "pool-" + uuid.NewString()

	pool, err := Create(ctx, session, New(label, "process-orders"))
	require.NoError(t, err)

	first, err := pool.CreateEntry(ctx, NewEntry(map[string]any{"ticket": "T-1"}, 0))
	require.NoError(t, err)
	assert.Equal(t, StatePending, first.State())
	assert.Equal(t, label, first.PoolLabel)

	_, err = pool.CreateEntry(ctx, NewEntry(map[string]any{"ticket": "T-2"}, 0))
	require.NoError(t, err)

	claimed, err := pool.Next(ctx, "41")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, StateProcessing, claimed.State())
	assert.Equal(t, "41", claimed.TaskID)
	assert.Equal(t, "T-1", claimed.StringValue("ticket", ""))

	claimed.SetValue("result", "shipped")
	require.NoError(t, claimed.ReportDone(ctx))
	assert.Equal(t, StateDone, claimed.State())

	second, err := pool.Next(ctx, "41")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "T-2", second.StringValue("ticket", ""))
	require.NoError(t, second.ReportError(ctx))

	drained, err := pool.Next(ctx, "41")
	require.NoError(t, err)
	assert.Nil(t, drained)

	summary, err := pool.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.CountPending)
	assert.Equal(t, 1, summary.CountDone)
	assert.Equal(t, 1, summary.CountError)

	empty, err := pool.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)
}
