package app

import (
	"github.com/gin-gonic/gin"
	"github.com/mx-space/promptai/internal/middleware"
	"github.com/mx-space/promptai/internal/modules/content/page"
	"github.com/mx-space/promptai/internal/modules/processing/ai"
	"github.com/mx-space/promptai/internal/modules/processing/promptai"
	appconfigs "github.com/mx-space/promptai/internal/modules/system/core/configs"
	"github.com/mx-space/promptai/internal/modules/system/core/health"
	"github.com/mx-space/promptai/internal/pkg/notice"
	"github.com/mx-space/promptai/internal/pkg/response"
	"github.com/mx-space/promptai/internal/pkg/taskqueue"
)

func (a *App) registerRoutes() {
	r := a.router
	authMW := middleware.Auth(a.tokens)

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c)
	})
	r.NoMethod(func(c *gin.Context) {
		response.MethodNotAllowed(c)
	})

	api := r.Group("/api/v2")
	api.GET("", func(c *gin.Context) {
		c.JSON(200, gin.H{"name": "promptai", "env": a.cfg.Env})
	})

	configSvc := appconfigs.NewService(a.db, a.logger)
	pageSvc := page.NewService(a.db, a.files, promptai.FieldTypesFromConfig(a.cfg.PromptAI.FieldTypes), a.logger)
	promptSvc := promptai.NewService(promptai.ServiceDeps{
		Config:    configSvc,
		Catalogs:  pageSvc,
		Store:     pageSvc,
		NewClient: ai.New,
		Tasks:     taskqueue.NewService(a.rc),
		Flash:     notice.NewFlashStore(a.rc),
		Logger:    a.logger,
	}, promptai.ServiceOptions{
		Throttle:      a.cfg.Throttle(),
		ImageMaxWidth: a.cfg.PromptAI.ImageMaxWidth,
	})
	configSvc.SetValidator(promptSvc)

	health.NewHandler(a.db, a.rc, configSvc, a.cfg.LogDir()).RegisterRoutes(api, authMW)
	appconfigs.NewHandler(configSvc).RegisterRoutes(api, authMW)
	ai.NewHandler(configSvc, a.logger).RegisterRoutes(api, authMW)
	promptai.NewHandler(promptSvc, a.logger).RegisterRoutes(api, authMW)
	page.NewHandler(pageSvc, promptSvc, a.logger).RegisterRoutes(api, authMW, middleware.Idempotence(a.rc.Raw()))
}
