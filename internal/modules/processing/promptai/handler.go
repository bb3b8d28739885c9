package promptai

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/promptai/internal/middleware"
	"github.com/mx-space/promptai/internal/modules/processing/ai"
	"github.com/mx-space/promptai/internal/pkg/response"
	"github.com/mx-space/promptai/internal/pkg/sse"
	"github.com/mx-space/promptai/internal/pkg/taskqueue"
	"go.uber.org/zap"
)

const streamPingInterval = 15 * time.Second

type Handler struct {
	svc    *Service
	logger *zap.Logger
}

func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/prompt-ai", authMW)
	g.GET("/prompts", h.prompts)
	g.GET("/options", h.options)
	g.GET("/notices", h.notices)
	g.POST("/inline", h.inline)
	g.POST("/inline/stream", h.inlineStream)
	g.GET("/pages/:id/actions", h.actions)
	g.GET("/pages/:id/fields/:field/prompts", h.fieldPrompts)
	g.POST("/pages/:id/run", h.runPage)
	g.GET("/tasks/:id", h.task)
}

// GET /prompt-ai/prompts
func (h *Handler) prompts(c *gin.Context) {
	prompts, err := h.svc.InlinePrompts(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{
		"prompts":   prompts,
		"streaming": h.svc.StreamingEnabled(),
	})
}

// GET /prompt-ai/options
func (h *Handler) options(c *gin.Context) {
	opts, err := h.svc.Options(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, opts)
}

// GET /prompt-ai/notices
func (h *Handler) notices(c *gin.Context) {
	items, err := h.svc.PopNotices(c.Request.Context(), c.GetString(middleware.ContextKeyUserID))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, items)
}

// POST /prompt-ai/inline
func (h *Handler) inline(c *gin.Context) {
	var req InlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	result, err := h.svc.Inline(c.Request.Context(), req, nil)
	if errors.Is(err, ai.ErrEmptyResponse) {
		response.OK(c, InlineResult{TargetSubfield: req.TargetSubfield})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, result)
}

// POST /prompt-ai/inline/stream
func (h *Handler) inlineStream(c *gin.Context) {
	var req InlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	w := sse.Start(c)
	var mu sync.Mutex
	send := func(event string, data interface{}) error {
		mu.Lock()
		defer mu.Unlock()
		return w.Send(event, data)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				_ = w.Ping()
				mu.Unlock()
			}
		}
	}()

	result, err := h.svc.Inline(ctx, req, func(chunk string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return send("chunk", gin.H{"text": chunk})
	})
	if ctx.Err() != nil {
		h.logger.Debug("inline stream client went away")
		return
	}
	switch {
	case errors.Is(err, ai.ErrEmptyResponse):
		_ = send("done", InlineResult{TargetSubfield: req.TargetSubfield})
	case err != nil:
		_ = send("error", gin.H{"message": err.Error()})
	default:
		_ = send("done", result)
	}
	mu.Lock()
	_ = w.Close()
	mu.Unlock()
}

// GET /prompt-ai/pages/:id/actions
func (h *Handler) actions(c *gin.Context) {
	actions, err := h.svc.SubmitActions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, actions)
}

// GET /prompt-ai/pages/:id/fields/:field/prompts
func (h *Handler) fieldPrompts(c *gin.Context) {
	indices, err := h.svc.FieldPrompts(c.Request.Context(), c.Param("id"), c.Param("field"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, indices)
}

// POST /prompt-ai/pages/:id/run?rule=N&async=true
func (h *Handler) runPage(c *gin.Context) {
	index := AllRules
	if raw := c.Query("rule"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.BadRequest(c, "rule must be a non-negative integer")
			return
		}
		index = n
	}

	if c.Query("async") == "true" {
		task, created, err := h.svc.EnqueuePageRun(c.Request.Context(), c.Param("id"), index)
		if err != nil {
			h.writeError(c, err)
			return
		}
		response.Accepted(c, gin.H{"task_id": task.ID, "status": task.Status, "created": created})
		return
	}

	res, items, err := h.svc.RunPageByID(c.Request.Context(), c.Param("id"), index)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, pageRunOutcome{Result: res, Notices: items})
}

// GET /prompt-ai/tasks/:id
func (h *Handler) task(c *gin.Context) {
	task, err := h.svc.Task(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, task)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrEntityNotFound):
		response.NotFoundMsg(c, err.Error())
	case errors.Is(err, taskqueue.ErrNotFound):
		response.NotFoundMsg(c, err.Error())
	case errors.Is(err, ErrRuleNotFound), errors.Is(err, ErrRuleWrongMode), errors.Is(err, ErrEmptyPrompt):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrFileNotFound), errors.Is(err, ErrUnsupportedMediaType), errors.Is(err, ai.ErrProviderNoFiles):
		response.UnprocessableEntity(c, err.Error())
	case errors.Is(err, ai.ErrNoProvider), errors.Is(err, ErrTasksDisabled):
		response.ServiceUnavailable(c, err.Error())
	default:
		h.logger.Warn("prompt request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.UnprocessableEntity(c, err.Error())
	}
}
