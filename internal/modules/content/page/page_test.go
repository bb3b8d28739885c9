package page

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/promptai/internal/database"
	"github.com/mx-space/promptai/internal/middleware"
	"github.com/mx-space/promptai/internal/models"
	"github.com/mx-space/promptai/internal/modules/processing/promptai"
	"github.com/mx-space/promptai/internal/pkg/blob"
	"github.com/mx-space/promptai/internal/pkg/notice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	db   *gorm.DB
	svc  *Service
	root string
	page *models.PageModel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(sqlite.Open(filepath.Join(t.TempDir(), "pages.db")), logger.Silent)
	require.NoError(t, err)

	fields := []models.FieldModel{
		{ID: 1, Name: "title", Type: "page_title"},
		{ID: 2, Name: "body", Type: "textarea"},
		{ID: 3, Name: "images", Type: "image"},
		{ID: 4, Name: "gallery", Type: "repeater"},
		{ID: 5, Name: "caption", Type: "text"},
	}
	require.NoError(t, db.Create(&fields).Error)
	templates := []models.TemplateModel{
		{ID: 10, Name: "article", Label: "Article"},
		{ID: 11, Name: "repeater_gallery"},
	}
	require.NoError(t, db.Create(&templates).Error)
	links := []models.TemplateFieldModel{
		{TemplateID: 10, FieldID: 4, Sort: 3},
		{TemplateID: 10, FieldID: 1, Sort: 1},
		{TemplateID: 10, FieldID: 2, Sort: 2},
		{TemplateID: 10, FieldID: 3, Sort: 4},
		{TemplateID: 11, FieldID: 5, Sort: 1},
	}
	require.NoError(t, db.Create(&links).Error)

	page := &models.PageModel{TemplateID: 10, Values: map[string]interface{}{"title": "Hello", "body": "World"}}
	require.NoError(t, db.Create(page).Error)
	for i, caption := range []string{"second", "first"} {
		item := &models.PageModel{TemplateID: 11, ParentID: &page.ID, Relation: "gallery", Sort: 2 - i, Values: map[string]interface{}{"caption": caption}}
		require.NoError(t, db.Create(item).Error)
	}
	require.NoError(t, db.Create(&models.PageFileModel{
		PageID: page.ID, Field: "images", Basename: "cat.png", Path: "files/cat.png", MediaType: "image/png",
		Subfields: map[string]string{"description": "A cat"},
	}).Error)

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "files"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "files", "cat.png"), []byte("png-bytes"), 0o644))

	return &fixture{
		db:   db,
		svc:  NewService(db, blob.NewLocal(root), promptai.DefaultFieldTypes(), nil),
		root: root,
		page: page,
	}
}

func TestLoadBuildsTree(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.Load(context.Background(), f.page.ID)
	require.NoError(t, err)

	assert.Equal(t, 10, p.TemplateID())
	assert.Equal(t, "Hello", p.Get("title"))

	files, ok := p.Get("images").([]*promptai.File)
	require.True(t, ok)
	require.Len(t, files, 1)
	assert.Equal(t, "A cat", files[0].Description())

	items, ok := p.Get("gallery").([]promptai.Entity)
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, "first", items[0].Get("caption"))
	assert.Equal(t, "second", items[1].Get("caption"))
	assert.Equal(t, 11, items[0].TemplateID())

	_, err = f.svc.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, promptai.ErrEntityNotFound)
}

func TestSaveFieldKeepsModified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Load(ctx, f.page.ID)
	require.NoError(t, err)
	before := p.Modified()

	p.Set("body", "Generated")
	require.NoError(t, f.svc.SaveField(ctx, p, "body"))

	again, err := f.svc.Load(ctx, f.page.ID)
	require.NoError(t, err)
	assert.Equal(t, "Generated", again.Get("body"))
	assert.Equal(t, "Hello", again.Get("title"))
	assert.True(t, before.Equal(again.Modified()))
}

func TestSaveAndReadFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Load(ctx, f.page.ID)
	require.NoError(t, err)

	file := p.Get("images").([]*promptai.File)[0]
	file.SetSubfield("description", "A sleeping cat")
	require.NoError(t, f.svc.SaveFile(ctx, p, "images", file))

	again, err := f.svc.Load(ctx, f.page.ID)
	require.NoError(t, err)
	assert.Equal(t, "A sleeping cat", again.Get("images").([]*promptai.File)[0].Description())

	data, err := f.svc.ReadFile(ctx, file)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)

	orphan := &promptai.File{Basename: "dog.png"}
	assert.ErrorIs(t, f.svc.SaveFile(ctx, p, "images", orphan), promptai.ErrFileNotFound)
}

func TestCatalog(t *testing.T) {
	f := newFixture(t)
	cat, err := f.svc.Catalog(context.Background())
	require.NoError(t, err)

	tmpl, ok := cat.Template(10)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 4, 3}, tmpl.FieldIDs)

	name, ok := cat.RepeaterName(11)
	assert.True(t, ok)
	assert.Equal(t, "gallery", name)

	def, ok := cat.FieldByName("images")
	require.True(t, ok)
	assert.Equal(t, promptai.KindFile, def.Kind)
	assert.True(t, def.Image)
}

type recordingHook struct {
	svc      *Service
	userID   string
	action   string
	previous time.Time
}

func (h *recordingHook) AfterSave(ctx context.Context, userID string, page promptai.Entity, action string, lastModified time.Time) ([]notice.Notice, bool) {
	h.userID, h.action, h.previous = userID, action, lastModified
	if action != "save_and_chat" {
		return nil, false
	}
	page.Set("body", "From AI")
	_ = h.svc.SaveField(ctx, page, "body")
	notes := &notice.List{}
	notes.Message("AI result stored in field body")
	return notes.Items(), true
}

func TestUpdateRunsSaveHook(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	hook := &recordingHook{svc: f.svc}
	h := NewHandler(f.svc, hook, nil)

	r := gin.New()
	auth := func(c *gin.Context) { c.Set(middleware.ContextKeyUserID, "editor-1") }
	h.RegisterRoutes(r.Group("/api"), auth)

	body := `{"values":{"title":"Updated"},"afterSubmitAction":"save_and_chat"}`
	req := httptest.NewRequest(http.MethodPut, "/api/pages/"+f.page.ID, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Page    Response        `json:"page"`
		Notices []notice.Notice `json:"notices"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "Updated", out.Page.Values["title"])
	assert.Equal(t, "From AI", out.Page.Values["body"])
	require.Len(t, out.Notices, 1)
	assert.Equal(t, "editor-1", hook.userID)
	assert.Equal(t, "save_and_chat", hook.action)
	assert.True(t, hook.previous.Equal(f.page.UpdatedAt))
	assert.Len(t, out.Page.Items["gallery"], 2)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/pages/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateWithoutActionSkipsPrompts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	hook := &recordingHook{svc: f.svc}
	r := gin.New()
	NewHandler(f.svc, hook, nil).RegisterRoutes(r.Group("/api"), func(c *gin.Context) {})

	req := httptest.NewRequest(http.MethodPut, "/api/pages/"+f.page.ID, strings.NewReader(`{"values":{"body":"Manual"}}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, hook.action)
	assert.Contains(t, w.Body.String(), `"body":"Manual"`)
}

func TestCreateChecksRelation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.svc.Create(ctx, &CreateInput{TemplateID: 11, ParentID: &f.page.ID, Relation: "gallery", Sort: 3, Values: map[string]interface{}{"caption": "third"}})
	require.NoError(t, err)
	assert.Equal(t, "third", item.Get("caption"))

	p, err := f.svc.Load(ctx, f.page.ID)
	require.NoError(t, err)
	assert.Len(t, p.Get("gallery"), 3)

	for _, relation := range []string{"", "body", "missing"} {
		_, err := f.svc.Create(ctx, &CreateInput{TemplateID: 11, ParentID: &f.page.ID, Relation: relation})
		assert.ErrorIs(t, err, ErrInvalidRelation, relation)
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(f.svc, nil, nil).RegisterRoutes(r.Group("/api"), func(c *gin.Context) { c.Next() })
	body := `{"template_id":11,"parent_id":"` + f.page.ID + `","relation":"title"}`
	req := httptest.NewRequest(http.MethodPost, "/api/pages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
