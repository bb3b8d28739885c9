package promptai

import (
	"context"
	"errors"
	"time"
)

var ErrEntityNotFound = errors.New("page not found")

// Entity is a page-like content object. Text fields hold strings, file fields
// hold []*File and repeater or block fields hold []Entity.
type Entity interface {
	ID() string
	TemplateID() int
	Modified() time.Time
	Get(name string) interface{}
	Set(name string, value interface{})
}

// File is one item of a file or image field.
type File struct {
	Basename  string            `json:"basename"`
	Path      string            `json:"path"`
	MediaType string            `json:"media_type,omitempty"`
	Subfields map[string]string `json:"subfields,omitempty"`
}

func (f *File) Subfield(name string) string {
	if f == nil || f.Subfields == nil {
		return ""
	}
	return f.Subfields[name]
}

func (f *File) SetSubfield(name, value string) {
	if f.Subfields == nil {
		f.Subfields = map[string]string{}
	}
	f.Subfields[name] = value
}

func (f *File) Description() string { return f.Subfield(DefaultTargetSubfield) }

// Store is the persistence boundary of the host CMS.
type Store interface {
	// Fetch reads the entity straight from storage, bypassing any cached copy.
	Fetch(ctx context.Context, id string) (Entity, error)
	// SaveField persists one field without triggering save hooks.
	SaveField(ctx context.Context, e Entity, field string) error
	SaveFile(ctx context.Context, e Entity, field string, f *File) error
	ReadFile(ctx context.Context, f *File) ([]byte, error)
}

// CatalogSource loads the current template and field catalog.
type CatalogSource interface {
	Catalog(ctx context.Context) (*Catalog, error)
}

func entitiesOf(v interface{}) []Entity {
	switch items := v.(type) {
	case []Entity:
		return items
	default:
		return nil
	}
}

func filesOf(v interface{}) []*File {
	switch items := v.(type) {
	case []*File:
		return items
	case *File:
		if items == nil {
			return nil
		}
		return []*File{items}
	default:
		return nil
	}
}
