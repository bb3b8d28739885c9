package ai

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	appcfg "github.com/mx-space/promptai/internal/config"
	"github.com/mx-space/promptai/internal/pkg/response"
	"go.uber.org/zap"
)

type ConfigSource interface {
	Get() (*appcfg.FullConfig, error)
}

type Handler struct {
	cfgSvc ConfigSource
	logger *zap.Logger
}

func NewHandler(cfgSvc ConfigSource, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{cfgSvc: cfgSvc, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/ai", authMW)
	g.POST("/test", h.testConnection)
}

type testConnectionDTO struct {
	ProviderID string `json:"provider_id"`
	Type       string `json:"type"`
	APIKey     string `json:"api_key"`
	Endpoint   string `json:"endpoint"`
	Model      string `json:"model"`
}

// POST /ai/test  [auth]
func (h *Handler) testConnection(c *gin.Context) {
	var dto testConnectionDTO
	if err := c.ShouldBindJSON(&dto); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, err.Error())
		return
	}

	cfg, err := h.cfgSvc.Get()
	if err != nil {
		response.InternalError(c, err)
		return
	}
	provider := resolveTestProvider(cfg.AI, dto)
	if provider == nil {
		response.BadRequest(c, ErrNoProvider.Error())
		return
	}

	client, err := New(c.Request.Context(), provider, Options{
		SystemPrompt:    cfg.PromptAI.SystemPrompt,
		MaxOutputTokens: cfg.PromptAI.MaxOutputTokens,
	})
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	result, err := TestConnection(c.Request.Context(), client)
	if err != nil {
		h.logger.Warn("AI connection test failed", zap.String("provider", provider.Type), zap.Error(err))
		response.UnprocessableEntity(c, err.Error())
		return
	}
	response.OK(c, result)
}

// resolveTestProvider fills blanks in the request from the stored provider.
// An empty request tests the provider the prompt engine would use.
func resolveTestProvider(cfg appcfg.AIConfig, dto testConnectionDTO) *appcfg.AIProvider {
	if dto.ProviderID == "" && dto.Type == "" {
		return cfg.SelectProvider()
	}

	provider := appcfg.AIProvider{
		ID:           dto.ProviderID,
		Type:         dto.Type,
		APIKey:       dto.APIKey,
		Endpoint:     dto.Endpoint,
		DefaultModel: dto.Model,
		Enabled:      true,
	}
	for _, p := range cfg.Providers {
		if dto.ProviderID == "" || p.ID != dto.ProviderID {
			continue
		}
		if provider.Type == "" {
			provider.Type = p.Type
		}
		if provider.APIKey == "" {
			provider.APIKey = p.APIKey
		}
		if provider.Endpoint == "" {
			provider.Endpoint = p.Endpoint
		}
		if provider.DefaultModel == "" {
			provider.DefaultModel = p.DefaultModel
		}
		provider.Name = p.Name
		break
	}
	if provider.Type == "" {
		return nil
	}
	return &provider
}
