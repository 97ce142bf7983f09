package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/olx-listing-scraper/internal/coordinator"
)

type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockOutboxStats struct {
	mock.Mock
}

func (m *MockOutboxStats) PendingCount(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOutboxStats) DeadLetterCount(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockRunner) Running() bool {
	return m.Called().Bool(0)
}

func (m *MockRunner) LastReport() *coordinator.Report {
	args := m.Called()
	if r := args.Get(0); r != nil {
		return r.(*coordinator.Report)
	}
	return nil
}

func newTestServer(t *testing.T, db Pinger, outbox OutboxStats, runner Runner) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandlers(context.Background(), db, outbox, runner, logger)
	srv := httptest.NewServer(NewRouter(h, []string{"http://localhost"}))
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestDatabaseHealth(t *testing.T) {
	t.Run("database reachable", func(t *testing.T) {
		db := new(MockPinger)
		db.On("Ping", mock.Anything).Return(nil)
		srv := newTestServer(t, db, nil, new(MockRunner))

		resp, err := http.Get(srv.URL + "/")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Database is working!", decode(t, resp)["message"])
		db.AssertExpectations(t)
	})

	t.Run("database down", func(t *testing.T) {
		db := new(MockPinger)
		db.On("Ping", mock.Anything).Return(errors.New("connection refused"))
		srv := newTestServer(t, db, nil, new(MockRunner))

		resp, err := http.Get(srv.URL + "/")
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "Error connecting to the db", decode(t, resp)["detail"])
	})
}

func TestHealth(t *testing.T) {
	t.Run("healthy with last run", func(t *testing.T) {
		outbox := new(MockOutboxStats)
		outbox.On("PendingCount", mock.Anything).Return(int64(3), nil)
		outbox.On("DeadLetterCount", mock.Anything).Return(int64(0), nil)

		runner := new(MockRunner)
		runner.On("Running").Return(false)
		runner.On("LastReport").Return(&coordinator.Report{
			RunID:      uuid.New(),
			Succeeded:  7,
			Failed:     1,
			FinishedAt: time.Now(),
		})

		srv := newTestServer(t, new(MockPinger), outbox, runner)
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decode(t, resp)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, float64(3), body["outbox"].(map[string]any)["pending"])
		assert.Equal(t, float64(7), body["last_run"].(map[string]any)["succeeded"])
	})

	t.Run("too many dead letters", func(t *testing.T) {
		outbox := new(MockOutboxStats)
		outbox.On("PendingCount", mock.Anything).Return(int64(0), nil)
		outbox.On("DeadLetterCount", mock.Anything).Return(int64(101), nil)

		runner := new(MockRunner)
		runner.On("Running").Return(true)
		runner.On("LastReport").Return(nil)

		srv := newTestServer(t, new(MockPinger), outbox, runner)
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		body := decode(t, resp)
		assert.Equal(t, "error", body["status"])
		assert.Equal(t, true, body["running"])
		assert.NotContains(t, body, "last_run")
	})

	t.Run("failed last run", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("Running").Return(false)
		runner.On("LastReport").Return(&coordinator.Report{
			RunID:      uuid.New(),
			FinishedAt: time.Now(),
			Error:      "failed to open index page",
		})

		srv := newTestServer(t, new(MockPinger), nil, runner)
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		lastRun := decode(t, resp)["last_run"].(map[string]any)
		assert.Equal(t, "failed to open index page", lastRun["error"])
	})

	t.Run("relay disabled", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("Running").Return(false)
		runner.On("LastReport").Return(nil)

		srv := newTestServer(t, new(MockPinger), nil, runner)
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotContains(t, decode(t, resp), "outbox")
	})
}

func TestStartRun(t *testing.T) {
	tests := []struct {
		name       string
		startErr   error
		wantStatus int
	}{
		{name: "accepted", wantStatus: http.StatusAccepted},
		{name: "already running", startErr: coordinator.ErrRunInProgress, wantStatus: http.StatusConflict},
		{name: "unexpected error", startErr: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := new(MockRunner)
			runner.On("Start", mock.Anything).Return(tt.startErr)

			srv := newTestServer(t, new(MockPinger), nil, runner)
			resp, err := http.Post(srv.URL+"/api/v1/runs", "application/json", nil)
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			runner.AssertExpectations(t)
		})
	}
}

func TestLastRun(t *testing.T) {
	t.Run("no run yet", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("LastReport").Return(nil)

		srv := newTestServer(t, new(MockPinger), nil, runner)
		resp, err := http.Get(srv.URL + "/api/v1/runs/last")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("report", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("LastReport").Return(&coordinator.Report{
			Target:    "https://www.olx.ua/uk/list/",
			Links:     []string{"/d/a.html", "/d/b.html"},
			Total:     2,
			Succeeded: 2,
		})

		srv := newTestServer(t, new(MockPinger), nil, runner)
		resp, err := http.Get(srv.URL + "/api/v1/runs/last")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decode(t, resp)
		assert.Equal(t, float64(2), body["succeeded"])
		assert.Len(t, body["links"], 2)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, new(MockPinger), nil, new(MockRunner))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(raw), "go_goroutines"))
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, new(MockPinger), nil, new(MockRunner))

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/runs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "http://localhost", resp.Header.Get("Access-Control-Allow-Origin"))
}
