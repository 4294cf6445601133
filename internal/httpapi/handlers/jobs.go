// Package handlers implements the HTTP Surface's (C8) request handlers:
// job creation/listing/retrieval, SSE progress streaming, and the
// admin-gated log endpoints (spec.md §4.8, §6).
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nimbusbuild/orchestrator/internal/apperr"
	"github.com/nimbusbuild/orchestrator/internal/archive"
	"github.com/nimbusbuild/orchestrator/internal/httpapi/middleware"
	"github.com/nimbusbuild/orchestrator/internal/job"
	"github.com/nimbusbuild/orchestrator/internal/queue"
	"github.com/nimbusbuild/orchestrator/internal/store"
)

// JobHandler wires the job endpoints to their collaborators. Only the Job
// Store (C1), Log Archive (C2), the build queue publisher, and the SSE
// event bus are needed here — the pipeline itself runs out-of-process in
// cmd/worker (SPEC_FULL.md §2 "Architecture decision").
type JobHandler struct {
	Store        store.Store
	Archive      archive.Archive
	Publisher    *queue.Publisher
	Events       *queue.EventBus
	DefaultModel string
	AdminToken   string
}

func NewJobHandler(st store.Store, ar archive.Archive, pub *queue.Publisher, events *queue.EventBus, defaultModel, adminToken string) *JobHandler {
	return &JobHandler{Store: st, Archive: ar, Publisher: pub, Events: events, DefaultModel: defaultModel, AdminToken: adminToken}
}

type createJobReq struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

func writeErr(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

// CreateJob implements spec.md §4.1 stage 1 plus the SSE framing from §6/§9:
// validate the body, create the pending row (or return the row an earlier
// request with the same Idempotency-Key already created), publish the job
// onto the build queue, and stream progress back over SSE until the
// pipeline, running in a worker process, reaches a terminal event.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req createJobReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		writeErr(c, http.StatusBadRequest, "prompt is required")
		return
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = h.DefaultModel
	}

	ctx := c.Request.Context()
	newJob := &job.Job{
		ID:        newJobID(),
		Prompt:    req.Prompt,
		Model:     model,
		Status:    job.StatusPending,
		RequestID: middleware.RequestIDFrom(c),
	}
	if key := strings.TrimSpace(c.GetHeader("Idempotency-Key")); key != "" {
		newJob.IdempotencyKey = &key
	}
	newJob.CreatedAt = time.Now()

	existing, created, err := h.Store.CreateJobOrGetExisting(ctx, newJob)
	if err != nil {
		writeErr(c, http.StatusInternalServerError, "failed to create job")
		return
	}
	if created {
		if err := h.Publisher.PublishJob(ctx, existing.ID); err != nil {
			writeErr(c, http.StatusInternalServerError, "failed to enqueue job")
			return
		}
	}

	h.streamJob(c, existing.ID, created)
}

// streamJob implements the SSE framing contract of spec.md §6: each event
// is "data: <JSON>\n\n", and the stream always ends with exactly one of
// complete or error (spec.md §8). It subscribes to the per-job Redis
// channel the worker process publishes onto (SPEC_FULL.md §2) rather than
// running the pipeline in-process, so a client disconnect never interrupts
// the underlying job.
func (h *JobHandler) streamJob(c *gin.Context, jobID string, emitCreated bool) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return
	}

	write := func(ev job.Event) bool {
		b, err := marshalEvent(ev)
		if err != nil {
			return true
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", b); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if emitCreated {
		if !write(job.NewEvent(job.EventJobCreated, map[string]any{"jobId": jobID})) {
			return
		}
	}

	// A job that already reached a terminal state before this request (the
	// idempotent-replay case landing after the original pipeline run
	// finished) has nothing left to publish; serve its final state directly
	// instead of subscribing to a channel nothing will ever write to again.
	if existing, err := h.Store.GetJob(c.Request.Context(), jobID); err == nil && terminal(existing.Status) {
		write(terminalEventFor(existing))
		return
	}

	sub := h.Events.Subscribe(c.Request.Context(), jobID)
	defer sub.Close()
	ch := sub.Channel()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, err := queue.DecodeEvent(msg.Payload)
			if err != nil {
				continue
			}
			if !write(ev) {
				return
			}
			if eventType(ev).IsTerminal() {
				return
			}
		}
	}
}

func eventType(ev job.Event) job.EventType {
	t, _ := ev["type"].(string)
	return job.EventType(t)
}

func terminal(s job.Status) bool {
	return s == job.StatusCompleted || s == job.StatusFailed
}

func terminalEventFor(j *job.Job) job.Event {
	if j.Status == job.StatusFailed {
		msg := ""
		if j.ErrorMessage != nil {
			msg = *j.ErrorMessage
		}
		return job.NewEvent(job.EventError, map[string]any{"message": msg})
	}
	return job.NewEvent(job.EventComplete, map[string]any{
		"previewUrl":  j.PreviewURL,
		"deployedUrl": j.DeployedURL,
		"metrics":     j.Metrics,
	})
}

// ListJobs implements GET /api/jobs: the truncated projection from spec.md
// §4.5.
func (h *JobHandler) ListJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.Store.ListJobs(c.Request.Context(), limit)
	if err != nil {
		writeErr(c, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": items})
}

// GetJob implements GET /api/jobs/{id}.
func (h *JobHandler) GetJob(c *gin.Context) {
	j, err := h.Store.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			writeErr(c, http.StatusNotFound, "job not found")
			return
		}
		writeErr(c, http.StatusInternalServerError, "failed to get job")
		return
	}
	c.JSON(http.StatusOK, j)
}

// GetJobLogs implements GET /api/jobs/{id}/logs?type=build|deploy, gated by
// middleware.AdminAuth (spec.md §4.8, §8 boundary cases).
func (h *JobHandler) GetJobLogs(c *gin.Context) {
	id := c.Param("id")
	logType := c.Query("type")
	if logType != "build" && logType != "deploy" {
		writeErr(c, http.StatusBadRequest, "type must be build or deploy")
		return
	}

	keys, err := h.Store.GetJobLogKeys(c.Request.Context(), id)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			writeErr(c, http.StatusNotFound, "job not found")
			return
		}
		writeErr(c, http.StatusInternalServerError, "failed to get job")
		return
	}

	var key *string
	if logType == "build" {
		key = keys.BuildLogKey
	} else {
		key = keys.DeployLogKey
	}
	if key == nil || *key == "" {
		writeErr(c, http.StatusNotFound, "log not available")
		return
	}

	body, err := h.Archive.Get(c.Request.Context(), *key)
	if err != nil {
		writeErr(c, http.StatusNotFound, "log not available")
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(body))
}

// Health implements GET /health.
func (h *JobHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func marshalEvent(ev job.Event) ([]byte, error) {
	return json.Marshal(ev)
}

func newJobID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return "job_" + id
}
