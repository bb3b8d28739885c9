package configs

import (
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/promptai/internal/pkg/notice"
	"github.com/mx-space/promptai/internal/pkg/response"
)

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/configs", authMW)
	g.GET("", h.getAll)
	g.PATCH("", h.patch)

	// /options/:key is used by the admin panel, e.g. PATCH /options/promptAi
	opts := rg.Group("/options", authMW)
	opts.GET("", h.getOptionsAll)
	opts.GET("/:key", h.getOption)
	opts.PATCH("/:key", h.patchOption)
}

type patchResponse struct {
	Config  interface{}     `json:"config"`
	Notices []notice.Notice `json:"notices"`
}

// getAll returns the full config. API keys are included.
func (h *Handler) getAll(c *gin.Context) {
	cfg, err := h.svc.Get()
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, cfg)
}

func (h *Handler) patch(c *gin.Context) {
	var partial map[string]json.RawMessage
	if err := c.ShouldBindJSON(&partial); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	updated, items, err := h.svc.Patch(c.Request.Context(), partial)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, patchResponse{Config: updated, Notices: items})
}

func (h *Handler) getOptionsAll(c *gin.Context) {
	cfg, err := h.svc.Get()
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, convertMapKeys(cfg, snakeToCamelKey))
}

// getOption returns a single top-level config key (e.g. GET /options/promptAi).
func (h *Handler) getOption(c *gin.Context) {
	cfg, err := h.svc.Get()
	if err != nil {
		response.InternalError(c, err)
		return
	}
	section, err := pickSection(cfg, normalizeOptionKey(c.Param("key")))
	if err != nil {
		response.NotFoundMsg(c, err.Error())
		return
	}
	response.OK(c, convertMapKeys(section, snakeToCamelKey))
}

// patchOption merges an update into a single top-level config key.
func (h *Handler) patchOption(c *gin.Context) {
	key := normalizeOptionKey(c.Param("key"))
	var body json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	normalized, err := normalizeJSONKeys(body, camelToSnakeKey)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	current, err := h.svc.Get()
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if _, err := pickSection(current, key); err != nil {
		response.NotFoundMsg(c, err.Error())
		return
	}

	updated, items, err := h.svc.Patch(c.Request.Context(), map[string]json.RawMessage{key: normalized})
	if err != nil {
		response.InternalError(c, err)
		return
	}
	section, _ := pickSection(updated, key)
	response.OK(c, patchResponse{Config: convertMapKeys(section, snakeToCamelKey), Notices: items})
}

func pickSection(cfg interface{}, key string) (interface{}, error) {
	full, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(full, &m); err != nil {
		return nil, err
	}
	raw, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownOption, key)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
