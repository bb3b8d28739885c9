package page

import (
	"time"

	"github.com/mx-space/promptai/internal/models"
	"github.com/mx-space/promptai/internal/modules/processing/promptai"
)

// Page adapts a stored page, its files and its nested items to promptai.Entity.
type Page struct {
	model    *models.PageModel
	files    map[string][]*promptai.File
	fileIDs  map[*promptai.File]string
	children map[string][]promptai.Entity
}

func newPage(m *models.PageModel) *Page {
	if m.Values == nil {
		m.Values = map[string]interface{}{}
	}
	return &Page{
		model:    m,
		files:    map[string][]*promptai.File{},
		fileIDs:  map[*promptai.File]string{},
		children: map[string][]promptai.Entity{},
	}
}

func (p *Page) ID() string { return p.model.ID }

func (p *Page) TemplateID() int { return int(p.model.TemplateID) }

func (p *Page) Modified() time.Time { return p.model.UpdatedAt }

func (p *Page) Get(name string) interface{} {
	if items, ok := p.children[name]; ok {
		return items
	}
	if files, ok := p.files[name]; ok {
		return files
	}
	return p.model.Values[name]
}

func (p *Page) Set(name string, value interface{}) {
	switch v := value.(type) {
	case []*promptai.File:
		p.files[name] = v
	case []promptai.Entity:
		p.children[name] = v
	default:
		p.model.Values[name] = v
	}
}

func (p *Page) addFile(m *models.PageFileModel) {
	f := &promptai.File{
		Basename:  m.Basename,
		Path:      m.Path,
		MediaType: m.MediaType,
		Subfields: m.Subfields,
	}
	p.files[m.Field] = append(p.files[m.Field], f)
	p.fileIDs[f] = m.ID
}

func (p *Page) addChild(relation string, child *Page) {
	p.children[relation] = append(p.children[relation], child)
}

// Response is the JSON shape of a page returned by the API.
type Response struct {
	ID         string                      `json:"id"`
	TemplateID uint                        `json:"template_id"`
	ParentID   *string                     `json:"parent_id,omitempty"`
	Relation   string                      `json:"relation,omitempty"`
	Sort       int                         `json:"sort"`
	Values     map[string]interface{}      `json:"values"`
	Files      map[string][]*promptai.File `json:"files"`
	Items      map[string][]Response       `json:"items"`
	Created    time.Time                   `json:"created"`
	Modified   time.Time                   `json:"modified"`
}

func toResponse(p *Page) Response {
	out := Response{
		ID:         p.model.ID,
		TemplateID: p.model.TemplateID,
		ParentID:   p.model.ParentID,
		Relation:   p.model.Relation,
		Sort:       p.model.Sort,
		Values:     p.model.Values,
		Files:      p.files,
		Items:      make(map[string][]Response, len(p.children)),
		Created:    p.model.CreatedAt,
		Modified:   p.model.UpdatedAt,
	}
	for name, items := range p.children {
		list := make([]Response, 0, len(items))
		for _, item := range items {
			if child, ok := item.(*Page); ok {
				list = append(list, toResponse(child))
			}
		}
		out.Items[name] = list
	}
	return out
}
