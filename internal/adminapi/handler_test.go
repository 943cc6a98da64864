package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"meetflow/internal/notifier"
	"meetflow/internal/queue"
	logx "meetflow/pkg/logx"
)

func init() { gin.SetMode(gin.TestMode) }

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeAlerts []notifier.HistoryItem

func (a fakeAlerts) Snapshot() []notifier.HistoryItem { return a }

func newTestRegistry(t *testing.T) *queue.Registry {
	t.Helper()
	reg := queue.NewRegistry(queue.NewMemoryBroker(), queue.RegistryOptions{
		Settings: map[string]queue.Settings{"email": {Concurrency: 5}, "weekly-digest": {Concurrency: 1}},
		Log:      logx.Nop(),
	})
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func newTestHandler(t *testing.T, opt Options, mut func(*Deps)) (http.Handler, *queue.Registry) {
	t.Helper()
	reg := newTestRegistry(t)
	d := Deps{Queues: reg, Store: fakePinger{}, Log: logx.Nop()}
	if mut != nil {
		mut(&d)
	}
	return NewHandler(opt, d), reg
}

func do(h http.Handler, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"store down", errors.New("connection refused"), http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h, _ := newTestHandler(t, Options{Token: "secret"}, func(d *Deps) { d.Store = fakePinger{err: tc.err} })
			// healthz is unauthenticated so probes need no token
			if rec := do(h, http.MethodGet, "/healthz", "", nil); rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestTokenRequired(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, Options{Token: "secret"}, nil)
	if rec := do(h, http.MethodGet, "/queues", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/queues", "", map[string]string{"Authorization": "Bearer wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/queues", "", map[string]string{"Authorization": "Bearer secret"}); rec.Code != http.StatusOK {
		t.Fatalf("bearer: status = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/queues?token=secret", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("query token: status = %d", rec.Code)
	}
}

func TestListQueuesIncludesCountsAndWorkers(t *testing.T) {
	t.Parallel()
	h, reg := newTestHandler(t, Options{}, func(d *Deps) {
		d.Workers = func() []queue.WorkerStats {
			return []queue.WorkerStats{{Queue: "email", Concurrency: 5, Processed: 3}}
		}
	})
	if _, err := reg.Queue("email").Add(context.Background(), "send-email", map[string]string{"to": "a@x"}, queue.Options{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	rec := do(h, http.MethodGet, "/queues", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Queues []queueView `json:"queues"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Queues) != 2 || resp.Queues[0].Name != "email" {
		t.Fatalf("unexpected queues %+v", resp.Queues)
	}
	email := resp.Queues[0]
	if email.Counts.Waiting != 1 {
		t.Fatalf("waiting = %d, want 1", email.Counts.Waiting)
	}
	if email.Workers == nil || email.Workers.Processed != 3 {
		t.Fatalf("worker stats missing: %+v", email.Workers)
	}
	if resp.Queues[1].Workers != nil {
		t.Fatalf("weekly-digest has no worker, got %+v", resp.Queues[1].Workers)
	}
}

func TestEnqueueAndDuplicate(t *testing.T) {
	t.Parallel()
	h, reg := newTestHandler(t, Options{}, nil)
	body := `{"name":"send-weekly-digest","job_id":"manual-1","payload":{"organization_id":"org-1"}}`

	rec := do(h, http.MethodPost, "/queues/weekly-digest/jobs", body, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	job, err := reg.Queue("weekly-digest").Get(context.Background(), "manual-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Name != "send-weekly-digest" || !strings.Contains(string(job.Payload), "org-1") {
		t.Fatalf("unexpected job %+v", job)
	}

	if rec := do(h, http.MethodPost, "/queues/weekly-digest/jobs", body, nil); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: status = %d", rec.Code)
	}
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, Options{}, nil)
	tests := []struct {
		name   string
		target string
		body   string
		want   int
	}{
		{"unknown queue", "/queues/nope/jobs", `{"name":"x"}`, http.StatusNotFound},
		{"missing name", "/queues/email/jobs", `{"payload":{}}`, http.StatusBadRequest},
		{"bad delay", "/queues/email/jobs", `{"name":"send-email","delay":"soon"}`, http.StatusBadRequest},
		{"delayed", "/queues/email/jobs", `{"name":"send-email","delay":"1m"}`, http.StatusAccepted},
	}
	for _, tc := range tests {
		if rec := do(h, http.MethodPost, tc.target, tc.body, nil); rec.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, rec.Code, tc.want)
		}
	}
}

func TestJobsHistoryAndLookup(t *testing.T) {
	t.Parallel()
	h, reg := newTestHandler(t, Options{}, nil)
	ctx := context.Background()
	q := reg.Queue("email")
	if _, err := q.Add(ctx, "send-email", nil, queue.Options{JobID: "e1", Attempts: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	w := queue.NewWorker(q, func(context.Context, *queue.Job) (any, error) {
		return nil, errors.New("mail provider down")
	}, queue.WorkerOptions{PollInterval: 5 * time.Millisecond})
	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() { _ = w.Run(wctx); close(done) }()
	deadline := time.Now().Add(2 * time.Second)
	for {
		c, _ := q.Counts(ctx)
		if c.Failed == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never failed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	rec := do(h, http.MethodGet, "/queues/email/jobs?state=failed", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "mail provider down") {
		t.Fatalf("history: status = %d body=%s", rec.Code, rec.Body.String())
	}
	if rec := do(h, http.MethodGet, "/queues/email/jobs?state=active", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad state: status = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/queues/email/jobs/e1", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/queues/email/jobs/missing", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing: status = %d", rec.Code)
	}
}

func TestRecurringListing(t *testing.T) {
	t.Parallel()
	h, reg := newTestHandler(t, Options{}, nil)
	err := reg.Queue("weekly-digest").UpsertRecurring(context.Background(), queue.RecurringEntry{
		Name: "weekly-digest", JobName: "send-weekly-digest", Cadence: "0 9 * * 1",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	rec := do(h, http.MethodGet, "/queues/weekly-digest/recurring", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestMetricsAlertsAndPprof(t *testing.T) {
	t.Parallel()
	preg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "meetflow_test_total", Help: "test"})
	preg.MustRegister(c)
	c.Inc()

	h, _ := newTestHandler(t, Options{Pprof: true}, func(d *Deps) {
		d.Gatherer = preg
		d.Alerts = fakeAlerts{{At: time.Now(), Text: "job failed: email/send-email"}}
	})
	if rec := do(h, http.MethodGet, "/metrics", "", nil); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "meetflow_test_total 1") {
		t.Fatalf("metrics: status = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/alerts", "", nil); !strings.Contains(rec.Body.String(), "send-email") {
		t.Fatalf("alerts body = %s", rec.Body.String())
	}
	if rec := do(h, http.MethodGet, "/debug/pprof/goroutine?debug=1", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("pprof: status = %d", rec.Code)
	}

	off, _ := newTestHandler(t, Options{}, nil)
	if rec := do(off, http.MethodGet, "/debug/pprof/", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled: status = %d", rec.Code)
	}
}

func TestServerRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()
	s := NewServer(Config{Addr: ":8089"}, Deps{}, logx.Nop())
	if err := s.Run(context.Background()); err == nil {
		t.Fatalf("expected refusal")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := NewServer(Config{Addr: ln.Addr().String()}, Deps{Queues: newTestRegistry(t)}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:8089": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":8089":          false,
		"0.0.0.0:8089":   false,
		"10.0.0.5:80":    false,
		"nonsense":       false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
