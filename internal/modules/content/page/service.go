package page

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mx-space/promptai/internal/models"
	"github.com/mx-space/promptai/internal/modules/processing/promptai"
	"github.com/mx-space/promptai/internal/pkg/blob"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxDepth bounds how many levels of repeater items and blocks are loaded.
const maxDepth = 3

// Service stores pages and serves them to the prompt engine. It implements
// promptai.Store and promptai.CatalogSource.
type Service struct {
	db     *gorm.DB
	files  blob.Reader
	types  promptai.FieldTypes
	logger *zap.Logger
}

func NewService(db *gorm.DB, files blob.Reader, types promptai.FieldTypes, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, files: files, types: types, logger: logger}
}

// Load reads a page with its files and nested items.
func (s *Service) Load(ctx context.Context, id string) (*Page, error) {
	var m models.PageModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", promptai.ErrEntityNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	p := newPage(&m)
	if err := s.loadTree(ctx, p, 1); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) loadTree(ctx context.Context, p *Page, depth int) error {
	var files []models.PageFileModel
	if err := s.db.WithContext(ctx).
		Where("page_id = ?", p.ID()).
		Order("field ASC").Order("sort ASC").
		Find(&files).Error; err != nil {
		return err
	}
	for i := range files {
		p.addFile(&files[i])
	}

	if depth >= maxDepth {
		return nil
	}
	var children []models.PageModel
	if err := s.db.WithContext(ctx).
		Where("parent_id = ?", p.ID()).
		Order("relation ASC").Order("sort ASC").
		Find(&children).Error; err != nil {
		return err
	}
	for i := range children {
		child := newPage(&children[i])
		if err := s.loadTree(ctx, child, depth+1); err != nil {
			return err
		}
		p.addChild(children[i].Relation, child)
	}
	return nil
}

// Fetch always goes to the database so callers see committed nested items.
func (s *Service) Fetch(ctx context.Context, id string) (promptai.Entity, error) {
	p, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SaveField writes one value into the stored field map. Hooks and the
// modification time are left alone.
func (s *Service) SaveField(ctx context.Context, e promptai.Entity, field string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m models.PageModel
		if err := tx.Select("id", "field_values").First(&m, "id = ?", e.ID()).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", promptai.ErrEntityNotFound, e.ID())
			}
			return err
		}
		if m.Values == nil {
			m.Values = map[string]interface{}{}
		}
		m.Values[field] = e.Get(field)
		raw, err := json.Marshal(m.Values)
		if err != nil {
			return err
		}
		return tx.Model(&models.PageModel{}).Where("id = ?", e.ID()).UpdateColumn("field_values", string(raw)).Error
	})
}

// SaveFile persists the subfields of one file item.
func (s *Service) SaveFile(ctx context.Context, e promptai.Entity, field string, f *promptai.File) error {
	raw, err := json.Marshal(f.Subfields)
	if err != nil {
		return err
	}
	q := s.db.WithContext(ctx).Model(&models.PageFileModel{})
	if p, ok := e.(*Page); ok && p.fileIDs[f] != "" {
		q = q.Where("id = ?", p.fileIDs[f])
	} else {
		q = q.Where("page_id = ? AND field = ? AND basename = ?", e.ID(), field, f.Basename)
	}
	res := q.UpdateColumn("subfields", string(raw))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", promptai.ErrFileNotFound, f.Basename)
	}
	return nil
}

func (s *Service) ReadFile(ctx context.Context, f *promptai.File) ([]byte, error) {
	if s.files == nil {
		return nil, blob.ErrNotFound
	}
	return s.files.Read(ctx, f.Path)
}

// Catalog builds the template and field catalog from the database.
func (s *Service) Catalog(ctx context.Context) (*promptai.Catalog, error) {
	var tmplRows []models.TemplateModel
	if err := s.db.WithContext(ctx).
		Preload("Fields", func(db *gorm.DB) *gorm.DB { return db.Order("sort ASC") }).
		Order("id ASC").
		Find(&tmplRows).Error; err != nil {
		return nil, err
	}
	var fieldRows []models.FieldModel
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&fieldRows).Error; err != nil {
		return nil, err
	}

	templates := make([]promptai.Template, 0, len(tmplRows))
	for _, t := range tmplRows {
		ids := make([]int, 0, len(t.Fields))
		for _, f := range t.Fields {
			ids = append(ids, int(f.FieldID))
		}
		templates = append(templates, promptai.Template{ID: int(t.ID), Name: t.Name, Label: t.Label, FieldIDs: ids})
	}
	fields := make([]promptai.Field, 0, len(fieldRows))
	for _, f := range fieldRows {
		fields = append(fields, promptai.Field{ID: int(f.ID), Name: f.Name, Label: f.Label, Type: f.Type, Flags: f.Flags})
	}
	return promptai.NewCatalog(s.types, templates, fields), nil
}

// CreateInput creates a page, a repeater item or a block.
type CreateInput struct {
	TemplateID uint                   `json:"template_id" binding:"required"`
	ParentID   *string                `json:"parent_id"`
	Relation   string                 `json:"relation"`
	Sort       int                    `json:"sort"`
	Values     map[string]interface{} `json:"values"`
}

// ErrInvalidRelation rejects nested pages whose relation is not a repeater or blocks field.
var ErrInvalidRelation = errors.New("relation must name a repeater or blocks field")

func (s *Service) Create(ctx context.Context, in *CreateInput) (*Page, error) {
	if in.ParentID != nil {
		if err := s.checkRelation(ctx, in.Relation); err != nil {
			return nil, err
		}
	}
	m := models.PageModel{
		TemplateID: in.TemplateID,
		ParentID:   in.ParentID,
		Relation:   in.Relation,
		Sort:       in.Sort,
		Values:     in.Values,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, err
	}
	return s.Load(ctx, m.ID)
}

func (s *Service) checkRelation(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: relation is empty", ErrInvalidRelation)
	}
	var f models.FieldModel
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !s.types.IsRelation(f.Type)) {
		return fmt.Errorf("%w: %s", ErrInvalidRelation, name)
	}
	return err
}

// UpdateInput carries edited values and the submit button that was pressed.
type UpdateInput struct {
	Values            map[string]interface{} `json:"values"`
	AfterSubmitAction string                 `json:"afterSubmitAction"`
}

// Update merges values into the page and returns the saved page along with
// its modification time before the save.
func (s *Service) Update(ctx context.Context, id string, values map[string]interface{}) (*Page, time.Time, error) {
	var previous time.Time
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m models.PageModel
		if err := tx.First(&m, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", promptai.ErrEntityNotFound, id)
			}
			return err
		}
		previous = m.UpdatedAt
		if m.Values == nil {
			m.Values = map[string]interface{}{}
		}
		for k, v := range values {
			m.Values[k] = v
		}
		return tx.Save(&m).Error
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	p, err := s.Load(ctx, id)
	if err != nil {
		return nil, time.Time{}, err
	}
	return p, previous, nil
}
