package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/deploy-orchestrator/internal/runtime"
)

func portOf(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestWaitReady_SucceedsOnReadyStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(readyBody{Status: "ready"})
	}))
	defer srv.Close()

	p := New(runtime.NewFake(), nil, nil)
	ok := p.WaitReady(context.Background(), portOf(t, srv), 2*time.Second, 50*time.Millisecond)
	assert.True(t, ok)
}

func TestWaitReady_TransientFailuresToleratedUntilReady(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(readyBody{Status: "not_ready", Reason: "loading"})
			return
		}
		_ = json.NewEncoder(w).Encode(readyBody{Status: "ready"})
	}))
	defer srv.Close()

	p := New(runtime.NewFake(), nil, nil)
	ok := p.WaitReady(context.Background(), portOf(t, srv), 2*time.Second, 20*time.Millisecond)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, calls, 3)
}

func TestWaitReady_WindowExpires(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(readyBody{Status: "not_ready"})
	}))
	defer srv.Close()

	p := New(runtime.NewFake(), nil, nil)
	ok := p.WaitReady(context.Background(), portOf(t, srv), 120*time.Millisecond, 20*time.Millisecond)
	assert.False(t, ok)
}

func TestWaitReady_NonJSONBodyCountsAsFailedPoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer srv.Close()

	p := New(runtime.NewFake(), nil, nil)
	ok := p.WaitReady(context.Background(), portOf(t, srv), 80*time.Millisecond, 20*time.Millisecond)
	assert.False(t, ok)
}

func TestWaitReady_CancelledContextAbortsWithoutBurningWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(readyBody{Status: "not_ready"})
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(runtime.NewFake(), nil, nil)
	start := time.Now()
	ok := p.WaitReady(ctx, portOf(t, srv), 30*time.Second, time.Second)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must end the poll, not run out the window")
}

func TestQuickCheck_SingleAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(readyBody{Status: "ready"})
	}))
	defer srv.Close()

	p := New(runtime.NewFake(), nil, nil)
	assert.True(t, p.QuickCheck(context.Background(), portOf(t, srv), time.Second))
}

func TestWarmup_SucceedsOnNonEmptyAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat", r.URL.Path)
		_ = json.NewEncoder(w).Encode(chatResponse{Response: "pong", TokensGenerated: 3})
	}))
	defer srv.Close()

	p := New(runtime.NewFake(), nil, nil)
	err := p.Warmup(context.Background(), portOf(t, srv))
	require.NoError(t, err)
}

func TestWarmup_FailsOnMissingAnswerField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse{Response: ""})
	}))
	defer srv.Close()

	p := New(runtime.NewFake(), nil, nil)
	err := p.Warmup(context.Background(), portOf(t, srv))
	require.Error(t, err)

	var warmupErr *WarmupError
	require.ErrorAs(t, err, &warmupErr)
}

func TestWarmup_FailsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := New(runtime.NewFake(), nil, nil)
	err := p.Warmup(context.Background(), portOf(t, srv))
	require.Error(t, err)
}

func TestHealthz_AliveStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(healthzBody{Status: "alive"})
	}))
	defer srv.Close()

	p := New(runtime.NewFake(), nil, nil)
	alive, err := p.Healthz(context.Background(), portOf(t, srv))
	require.NoError(t, err)
	assert.True(t, alive)
}

func TestIsRunningAndContainerID(t *testing.T) {
	fake := runtime.NewFake()
	ctx := context.Background()
	require.NoError(t, fake.Start(ctx, "blue-svc"))

	p := New(fake, map[string]string{"blue": "blue-svc"}, nil)

	running, err := p.IsRunning(ctx, "blue")
	require.NoError(t, err)
	assert.True(t, running)

	id, err := p.ContainerID(ctx, "blue")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// A recreated container must be observed on the next lookup, never
	// papered over by a remembered id.
	fake.SetContainerID("blue-svc", "different-id")
	idAgain, err := p.ContainerID(ctx, "blue")
	require.NoError(t, err)
	assert.Equal(t, "different-id", idAgain)
}

func TestIsRunning_UnknownColor(t *testing.T) {
	p := New(runtime.NewFake(), map[string]string{}, nil)
	_, err := p.IsRunning(context.Background(), "purple")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown color"))
}
