package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/mx-space/promptai/internal/config"
	"github.com/mx-space/promptai/internal/database"
	"github.com/mx-space/promptai/internal/pkg/nativelog"
	redisc "github.com/mx-space/promptai/internal/pkg/redis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"
)

type fixedConfig struct{ cfg config.FullConfig }

func (f fixedConfig) Get() (*config.FullConfig, error) { return &f.cfg, nil }

func newRouter(t *testing.T) (*gin.Engine, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := database.Open(sqlite.Open(filepath.Join(t.TempDir(), "health.db")), logger.Silent)
	require.NoError(t, err)
	mr := miniredis.RunT(t)
	rc := redisc.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	cfg := config.DefaultFullConfig()
	cfg.AI.Providers = []config.AIProvider{{ID: "g", Type: "gemini", APIKey: "k", Enabled: true}}

	h := NewHandler(db, rc, fixedConfig{cfg: cfg}, t.TempDir())
	h.now = func() time.Time { return time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC) }
	r := gin.New()
	h.RegisterRoutes(r.Group("/api"), func(c *gin.Context) { c.Next() })
	return r, h
}

func TestStatus(t *testing.T) {
	r, _ := newRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","database":true,"redis":true,"ai_provider":"Gemini"}`, w.Body.String())
}

func TestLogFiles(t *testing.T) {
	r, h := newRouter(t)
	today := nativelog.DailyFilename(h.now())
	require.NoError(t, os.WriteFile(filepath.Join(h.logDir, today), []byte("today\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(h.logDir, "promptai_2024-05-01.log"), []byte("yesterday\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(h.logDir, "notes.txt"), []byte("x"), 0o644))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health/log", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Data []logItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Len(t, listed.Data, 2)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health/log/promptai_2024-05-01.log", nil))
	assert.Equal(t, "yesterday\n", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health/log/notes.txt", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/health/log/"+today, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	data, err := os.ReadFile(filepath.Join(h.logDir, today))
	require.NoError(t, err)
	assert.Empty(t, data)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/health/log/promptai_2024-05-01.log", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	_, err = os.Stat(filepath.Join(h.logDir, "promptai_2024-05-01.log"))
	assert.True(t, os.IsNotExist(err))
}

func TestFormatByteSize(t *testing.T) {
	assert.Equal(t, "12 B", formatByteSize(12))
	assert.Equal(t, "2.00 KB", formatByteSize(2048))
	assert.Equal(t, "1.50 MB", formatByteSize(3<<19))
}
