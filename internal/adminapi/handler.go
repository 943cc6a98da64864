// Package adminapi is the operator HTTP API: health, metrics, queue
// inspection, on-demand enqueue and optional pprof.
package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meetflow/internal/notifier"
	"meetflow/internal/queue"
	logx "meetflow/pkg/logx"
)

// Queues is the registry view the API needs.
type Queues interface {
	Names() []string
	Queue(name string) *queue.Queue
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type AlertHistory interface {
	Snapshot() []notifier.HistoryItem
}

// Deps wires the handlers. Optional fields may be nil.
type Deps struct {
	Queues   Queues
	Store    Pinger
	Gatherer prometheus.Gatherer
	// Workers reports live consumer stats, keyed by queue name.
	Workers func() []queue.WorkerStats
	Alerts  AlertHistory
	Log     logx.Logger
}

type Options struct {
	Token string
	Pprof bool
}

const maxHistoryLimit = 500

type handler struct {
	d Deps
}

// NewHandler builds the gin engine serving the admin routes.
func NewHandler(opt Options, d Deps) http.Handler {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	h := &handler{d: d}

	engine := gin.New()
	engine.Use(gin.Recovery(), h.accessLog())

	engine.GET("/healthz", h.healthz)

	api := engine.Group("/", requireToken(opt.Token))
	{
		if d.Gatherer != nil {
			api.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
		}
		api.GET("/queues", h.listQueues)
		api.GET("/queues/:queue/recurring", h.listRecurring)
		api.GET("/queues/:queue/jobs", h.listJobs)
		api.GET("/queues/:queue/jobs/:id", h.getJob)
		api.POST("/queues/:queue/jobs", h.enqueue)
		api.GET("/alerts", h.alerts)
	}
	if opt.Pprof {
		dbg := engine.Group("/debug/pprof", requireToken(opt.Token))
		dbg.GET("/", gin.WrapF(hpprof.Index))
		dbg.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
		dbg.GET("/profile", gin.WrapF(hpprof.Profile))
		dbg.GET("/symbol", gin.WrapF(hpprof.Symbol))
		dbg.POST("/symbol", gin.WrapF(hpprof.Symbol))
		dbg.GET("/trace", gin.WrapF(hpprof.Trace))
		dbg.GET("/:profile", func(c *gin.Context) {
			hpprof.Handler(c.Param("profile")).ServeHTTP(c.Writer, c.Request)
		})
	}
	return engine
}

func (h *handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.d.Log.Debug("admin request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("dur", time.Since(start)),
		)
	}
}

// requireToken accepts "Authorization: Bearer <token>" or ?token=<token>.
func requireToken(token string) gin.HandlerFunc {
	tok := strings.TrimSpace(token)
	return func(c *gin.Context) {
		if tok == "" {
			c.Next()
			return
		}
		got := c.Query("token")
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		}
		if got != tok {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// GET /healthz
func (h *handler) healthz(c *gin.Context) {
	if h.d.Store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.d.Store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "store ping failed"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
}

type queueView struct {
	Name    string             `json:"name"`
	Counts  queue.Counts       `json:"counts"`
	Workers *queue.WorkerStats `json:"worker,omitempty"`
}

// GET /queues
func (h *handler) listQueues(c *gin.Context) {
	stats := map[string]queue.WorkerStats{}
	if h.d.Workers != nil {
		for _, st := range h.d.Workers() {
			stats[st.Queue] = st
		}
	}
	names := h.d.Queues.Names()
	out := make([]queueView, 0, len(names))
	for _, name := range names {
		counts, err := h.d.Queues.Queue(name).Counts(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "queue counts failed", "queue": name, "detail": err.Error()})
			return
		}
		v := queueView{Name: name, Counts: counts}
		if st, ok := stats[name]; ok {
			v.Workers = &st
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"queues": out})
}

// queue resolves :queue, answering 404 for names the daemon does not run.
func (h *handler) queue(c *gin.Context) (*queue.Queue, bool) {
	name := c.Param("queue")
	for _, n := range h.d.Queues.Names() {
		if n == name {
			return h.d.Queues.Queue(name), true
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown queue", "queue": name})
	return nil, false
}

// GET /queues/:queue/recurring
func (h *handler) listRecurring(c *gin.Context) {
	q, ok := h.queue(c)
	if !ok {
		return
	}
	entries, err := q.ListRecurring(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list recurring failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": q.Name(), "count": len(entries), "items": entries})
}

// GET /queues/:queue/jobs?state=completed|failed&limit=N
func (h *handler) listJobs(c *gin.Context) {
	q, ok := h.queue(c)
	if !ok {
		return
	}
	state := queue.State(c.DefaultQuery("state", string(queue.StateFailed)))
	if state != queue.StateCompleted && state != queue.StateFailed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state must be completed or failed"})
		return
	}
	limit := 50
	if s := c.Query("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = min(v, maxHistoryLimit)
		}
	}
	jobs, err := q.History(c.Request.Context(), state, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list jobs failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": q.Name(), "state": state, "count": len(jobs), "items": jobs})
}

// GET /queues/:queue/jobs/:id
func (h *handler) getJob(c *gin.Context) {
	q, ok := h.queue(c)
	if !ok {
		return
	}
	job, err := q.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, queue.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get job failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

// POST /queues/:queue/jobs
type EnqueueRequest struct {
	Name     string          `json:"name" binding:"required"`
	Payload  json.RawMessage `json:"payload"`
	JobID    string          `json:"job_id"`
	Delay    string          `json:"delay"`
	Priority int             `json:"priority"`
}

func (h *handler) enqueue(c *gin.Context) {
	q, ok := h.queue(c)
	if !ok {
		return
	}
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	opts := queue.Options{JobID: req.JobID, Priority: req.Priority}
	if req.Delay != "" {
		d, err := time.ParseDuration(req.Delay)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid delay"})
			return
		}
		opts.Delay = d
	}
	job, err := q.Add(c.Request.Context(), req.Name, req.Payload, opts)
	if errors.Is(err, queue.ErrDuplicate) {
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate job id", "job_id": req.JobID})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed", "detail": err.Error()})
		return
	}
	h.d.Log.Info("job enqueued via admin", logx.String("queue", q.Name()), logx.String("job", job.Name), logx.String("id", job.ID))
	c.JSON(http.StatusAccepted, gin.H{"queue": q.Name(), "id": job.ID, "state": job.State})
}

// GET /alerts
func (h *handler) alerts(c *gin.Context) {
	var items []notifier.HistoryItem
	if h.d.Alerts != nil {
		items = h.d.Alerts.Snapshot()
	}
	c.JSON(http.StatusOK, gin.H{"count": len(items), "items": items})
}
