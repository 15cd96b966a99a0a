package engine

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/vitaliisemenov/deploy-orchestrator/internal/config"
	"github.com/vitaliisemenov/deploy-orchestrator/internal/metrics"
	"github.com/vitaliisemenov/deploy-orchestrator/internal/probe"
	"github.com/vitaliisemenov/deploy-orchestrator/internal/proxy"
	"github.com/vitaliisemenov/deploy-orchestrator/internal/runtime"
	"github.com/vitaliisemenov/deploy-orchestrator/internal/state"
)

// replicaFake stands in for one inference replica's /ready, /healthz,
// and /chat endpoints (and doubles as the proxy's external /healthz
// when the test needs one).
type replicaFake struct {
	mu      sync.Mutex
	ready   bool
	healthy bool
	chatErr bool
}

func newReplicaFake() *replicaFake {
	return &replicaFake{ready: true, healthy: true}
}

func (r *replicaFake) setReady(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = v
}

func (r *replicaFake) setHealthy(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthy = v
}

func (r *replicaFake) setChatErr(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chatErr = v
}

func (r *replicaFake) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		r.mu.Lock()
		ready := r.ready
		r.mu.Unlock()
		status := "not_ready"
		if ready {
			status = "ready"
		}
		writeJSON(w, map[string]string{"status": status})
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		r.mu.Lock()
		healthy := r.healthy
		r.mu.Unlock()
		status := "unhealthy"
		if healthy {
			status = "alive"
		}
		writeJSON(w, map[string]string{"status": status})
	})
	mux.HandleFunc("/chat", func(w http.ResponseWriter, _ *http.Request) {
		r.mu.Lock()
		chatErr := r.chatErr
		r.mu.Unlock()
		if chatErr {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"response": "pong", "tokens_generated": 3, "inference_ms": 12.5})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func portOf(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse %s: %v", srv.URL, err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("port %s: %v", u.Port(), err)
	}
	return port
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness wires a full Engine against fakes: an in-memory Runtime, real
// httptest servers standing in for the two replicas and the proxy's
// external health endpoint, and a State Store rooted in a temp dir.
type harness struct {
	t        *testing.T
	cfg      *config.Config
	rt       *runtime.Fake
	engine   *Engine
	store    *state.Store
	blue     *replicaFake
	green    *replicaFake
	extProxy *replicaFake
	dir      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	blue := newReplicaFake()
	green := newReplicaFake()
	extProxy := newReplicaFake()

	bluePort := portOf(t, blue.server(t))
	greenPort := portOf(t, green.server(t))
	extPort := portOf(t, extProxy.server(t))

	confDir := filepath.Join(dir, "nginx", "conf.d")
	tmplDir := filepath.Join(dir, "nginx")
	if err := os.MkdirAll(confDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(confDir, "upstream.conf"), []byte("upstream blue\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmplDir, "upstream-blue.conf"), []byte("upstream blue\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmplDir, "upstream-green.conf"), []byte("upstream green\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		ProjectRoot:   dir,
		DrainSeconds:  0,
		HealthTimeout: 2 * time.Second,
		Colors: []config.ColorConfig{
			{Name: "blue", Port: bluePort, ContainerService: "blue"},
			{Name: "green", Port: greenPort, ContainerService: "green"},
		},
		ProxyContainer:      "nginx",
		ProxyConfDir:        "nginx/conf.d",
		ProxyTemplateDir:    "nginx",
		ProxyActiveConfName: "upstream.conf",
		ProxyExternalPort:   extPort,
		StateDir:            "deploy",
		RuntimeBinary:       "docker",
		PrewarmMaxAge:       60 * time.Minute,
	}

	rt := runtime.NewFake()
	rt.Running["blue"] = true
	rt.Running["nginx"] = true
	rt.ContainerIDs["blue"] = "container-blue-seed"

	services := map[string]string{"blue": "blue", "green": "green"}
	pr := probe.New(rt, services, testLogger())
	proxyCtl := proxy.New(cfg.ActiveConfPath(), cfg.TemplatePath, cfg.ProxyContainer, rt)
	store := state.New(cfg.StatePath(), testLogger())
	rec := metrics.NewRecorder()

	eng := New(cfg, rt, pr, proxyCtl, store, rec, testLogger())
	eng.settleDelay = 10 * time.Millisecond
	eng.verifyInterval = 10 * time.Millisecond

	return &harness{t: t, cfg: cfg, rt: rt, engine: eng, store: store, blue: blue, green: green, extProxy: extProxy, dir: dir}
}

func (h *harness) loadState() *state.DeploymentState {
	h.t.Helper()
	st, err := h.store.Load(state.Default("blue", h.cfg.Colors[0].Port, "green", h.cfg.Colors[1].Port))
	if err != nil {
		h.t.Fatalf("load state: %v", err)
	}
	return st
}

func (h *harness) activeConfContents() string {
	h.t.Helper()
	data, err := os.ReadFile(h.cfg.ActiveConfPath())
	if err != nil {
		h.t.Fatalf("read active conf: %v", err)
	}
	return string(data)
}
