package page

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/promptai/internal/middleware"
	"github.com/mx-space/promptai/internal/modules/processing/promptai"
	"github.com/mx-space/promptai/internal/pkg/notice"
	"github.com/mx-space/promptai/internal/pkg/response"
	"go.uber.org/zap"
)

// SaveHook runs after a page has been saved through the API.
type SaveHook interface {
	AfterSave(ctx context.Context, userID string, page promptai.Entity, action string, lastModified time.Time) ([]notice.Notice, bool)
}

type Handler struct {
	svc    *Service
	hook   SaveHook
	logger *zap.Logger
}

func NewHandler(svc *Service, hook SaveHook, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, hook: hook, logger: logger}
}

// RegisterRoutes mounts the page routes. saveMW wraps the write routes only.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc, saveMW ...gin.HandlerFunc) {
	with := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, saveMW...), handler)
	}
	pages := rg.Group("/pages", authMW)
	pages.GET("/:id", h.get)
	pages.POST("", with(h.create)...)
	pages.PUT("/:id", with(h.update)...)
}

func (h *Handler) get(c *gin.Context) {
	p, err := h.svc.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, toResponse(p))
}

func (h *Handler) create(c *gin.Context) {
	var in CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	p, err := h.svc.Create(c.Request.Context(), &in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, toResponse(p))
}

type updateResponse struct {
	Page    Response        `json:"page"`
	Notices []notice.Notice `json:"notices"`
}

func (h *Handler) update(c *gin.Context) {
	var in UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	p, previous, err := h.svc.Update(ctx, c.Param("id"), in.Values)
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := updateResponse{Notices: []notice.Notice{}}
	if h.hook != nil && in.AfterSubmitAction != "" {
		items, ran := h.hook.AfterSave(ctx, middleware.CurrentUserID(c), p, in.AfterSubmitAction, previous)
		if ran {
			out.Notices = append(out.Notices, items...)
			// values written by the prompt pass
			if fresh, err := h.svc.Load(ctx, p.ID()); err == nil {
				p = fresh
			} else {
				h.logger.Warn("reload page after prompts failed", zap.String("page", p.ID()), zap.Error(err))
			}
		}
	}
	out.Page = toResponse(p)
	response.OK(c, out)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	if errors.Is(err, promptai.ErrEntityNotFound) {
		response.NotFoundMsg(c, err.Error())
		return
	}
	if errors.Is(err, ErrInvalidRelation) {
		response.UnprocessableEntity(c, err.Error())
		return
	}
	response.InternalError(c, err)
}
