package configs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/promptai/internal/database"
	"github.com/mx-space/promptai/internal/pkg/notice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"
)

type matrixCheck struct {
	seen []string
}

func (m *matrixCheck) ValidateMatrix(_ context.Context, raw string) ([]notice.Notice, error) {
	m.seen = append(m.seen, raw)
	if strings.Contains(raw, "404") {
		return []notice.Notice{{Level: notice.LevelError, Text: "Field ID 404 does not exist in configuration 1"}}, nil
	}
	return []notice.Notice{}, nil
}

func newTestService(t *testing.T) (*Service, *matrixCheck) {
	t.Helper()
	db, err := database.Open(sqlite.Open(filepath.Join(t.TempDir(), "configs.db")), logger.Silent)
	require.NoError(t, err)
	svc := NewService(db, nil)
	check := &matrixCheck{}
	svc.SetValidator(check)
	return svc, check
}

func TestGetPersistsDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	cfg, err := svc.Get()
	require.NoError(t, err)
	assert.Equal(t, "[]", cfg.PromptAI.PromptMatrix)
	assert.True(t, cfg.PromptAI.Streaming)

	svc.Invalidate()
	again, err := svc.Get()
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestPatchMergesAndValidates(t *testing.T) {
	svc, check := newTestService(t)
	ctx := context.Background()

	_, items, err := svc.Patch(ctx, map[string]json.RawMessage{
		"ai": json.RawMessage(`{"providers":[{"id":"main","type":" OpenAI ","api_key":"sk","enabled":"on"}]}`),
	})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, check.seen)

	updated, items, err := svc.Patch(ctx, map[string]json.RawMessage{
		"prompt_ai": json.RawMessage(`{"prompt_matrix":[{"mode":"page","fields":[404],"prompt":"x"}],"streaming":"0","max_output_tokens":"512"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, []notice.Notice{{Level: notice.LevelError, Text: "Field ID 404 does not exist in configuration 1"}}, items)
	assert.JSONEq(t, `[{"mode":"page","fields":[404],"prompt":"x"}]`, updated.PromptAI.PromptMatrix)
	assert.False(t, updated.PromptAI.Streaming)
	assert.Equal(t, 512, updated.PromptAI.MaxOutputTokens)
	assert.Equal(t, "openai", updated.AI.Providers[0].Type)
	assert.True(t, updated.AI.Providers[0].Enabled)
	assert.NotEmpty(t, updated.PromptAI.SystemPrompt)

	svc.Invalidate()
	reloaded, err := svc.Get()
	require.NoError(t, err)
	assert.Equal(t, updated.PromptAI, reloaded.PromptAI)
}

func TestPatchWarnsWithoutProvider(t *testing.T) {
	svc, _ := newTestService(t)
	_, items, err := svc.Patch(context.Background(), map[string]json.RawMessage{
		"prompt_ai": json.RawMessage(`{"prompt_matrix":"[{\"fields\":[1],\"prompt\":\"x\"}]"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, []notice.Notice{
		{Level: notice.LevelWarning, Text: "No AI provider is enabled. Prompts will not run until one is."},
		{Level: notice.LevelMessage, Text: "Prompt configuration saved successfully!"},
	}, items)
}

func TestPatchConfirmsCleanMatrix(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, items, err := svc.Patch(ctx, map[string]json.RawMessage{
		"ai":        json.RawMessage(`{"providers":[{"id":"main","type":"openai","api_key":"sk","enabled":true}]}`),
		"prompt_ai": json.RawMessage(`{"prompt_matrix":[{"mode":"page","fields":[1],"prompt":"x"}]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, []notice.Notice{{Level: notice.LevelMessage, Text: "Prompt configuration saved successfully!"}}, items)
}

func TestOptionRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, _ := newTestService(t)
	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/api"), func(c *gin.Context) { c.Next() })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/options/promptAi", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"promptMatrix":"[]"`)

	body := `{"promptMatrix":[{"mode":"inline","fields":[1],"prompt":"x","overwriteTarget":true}],"individualButtons":true}`
	req := httptest.NewRequest(http.MethodPatch, "/api/options/promptAI", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	cfg, err := svc.Get()
	require.NoError(t, err)
	assert.True(t, cfg.PromptAI.IndividualButtons)
	assert.JSONEq(t, `[{"mode":"inline","fields":[1],"prompt":"x","overwriteTarget":true}]`, cfg.PromptAI.PromptMatrix)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/options/nothing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKeyConversion(t *testing.T) {
	assert.Equal(t, "prompt_ai", camelToSnakeKey("promptAI"))
	assert.Equal(t, "prompt_ai", camelToSnakeKey("promptAi"))
	assert.Equal(t, "max_output_tokens", camelToSnakeKey("maxOutputTokens"))
	assert.Equal(t, "promptAi", snakeToCamelKey("prompt_ai"))
	assert.Equal(t, "api_key", camelToSnakeKey("apiKey"))
}
