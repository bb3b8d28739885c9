package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/promptai/internal/config"
	"github.com/mx-space/promptai/internal/modules/processing/ai"
	"github.com/mx-space/promptai/internal/pkg/nativelog"
	redisc "github.com/mx-space/promptai/internal/pkg/redis"
	"github.com/mx-space/promptai/internal/pkg/response"
	"gorm.io/gorm"
)

type ConfigSource interface {
	Get() (*config.FullConfig, error)
}

type logItem struct {
	Size     string `json:"size"`
	Filename string `json:"filename"`
	Created  int64  `json:"created"`
}

// Handler reports service status and exposes the native log files to admins.
type Handler struct {
	db     *gorm.DB
	rc     *redisc.Client
	cfgSvc ConfigSource
	logDir string
	now    func() time.Time
}

func NewHandler(db *gorm.DB, rc *redisc.Client, cfgSvc ConfigSource, logDir string) *Handler {
	return &Handler{db: db, rc: rc, cfgSvc: cfgSvc, logDir: nativelog.ResolveDir(logDir), now: time.Now}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	rg.GET("/health", h.status)

	logGroup := rg.Group("/health/log", authMW)
	logGroup.GET("", h.listLogs)
	logGroup.GET("/:filename", h.readLog)
	logGroup.DELETE("/:filename", h.deleteLog)
}

func (h *Handler) status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbOK := false
	if sqlDB, err := h.db.DB(); err == nil {
		dbOK = sqlDB.PingContext(ctx) == nil
	}
	redisOK := h.rc != nil && h.rc.Raw().Ping(ctx).Err() == nil

	provider := ""
	if cfg, err := h.cfgSvc.Get(); err == nil {
		if p := cfg.AI.SelectProvider(); p != nil {
			provider = ai.DisplayName(p.Type)
		}
	}

	status := "ok"
	code := http.StatusOK
	if !dbOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":      status,
		"database":    dbOK,
		"redis":       redisOK,
		"ai_provider": provider,
	})
}

func (h *Handler) listLogs(c *gin.Context) {
	entries, err := os.ReadDir(h.logDir)
	if errors.Is(err, os.ErrNotExist) {
		response.OK(c, []logItem{})
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}

	items := make([]logItem, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, logItem{
			Size:     formatByteSize(info.Size()),
			Filename: entry.Name(),
			Created:  info.ModTime().UnixMilli(),
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Created > items[j].Created })
	response.OK(c, items)
}

func (h *Handler) readLog(c *gin.Context) {
	path, ok := h.logPath(c)
	if !ok {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		response.NotFoundMsg(c, "log file not exists")
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}

// deleteLog removes a log file. Today's file is truncated instead since the
// logger keeps appending to it.
func (h *Handler) deleteLog(c *gin.Context) {
	path, ok := h.logPath(c)
	if !ok {
		return
	}
	today := filepath.Join(h.logDir, nativelog.DailyFilename(h.now()))
	if filepath.Clean(path) == filepath.Clean(today) {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			response.InternalError(c, err)
			return
		}
		response.NoContent(c)
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) logPath(c *gin.Context) (string, bool) {
	filename := filepath.Base(strings.TrimSpace(c.Param("filename")))
	if filename == "." || filename == string(filepath.Separator) || !strings.HasSuffix(filename, ".log") {
		response.UnprocessableEntity(c, "filename must be a log file name")
		return "", false
	}
	return filepath.Join(h.logDir, filename), true
}

func formatByteSize(size int64) string {
	switch {
	case size >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(size)/(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.2f KB", float64(size)/(1<<10))
	default:
		return fmt.Sprintf("%d B", size)
	}
}
