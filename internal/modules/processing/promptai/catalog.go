package promptai

import (
	"sort"
	"strings"

	appcfg "github.com/mx-space/promptai/internal/config"
)

// FieldKind is how the engine treats a field.
type FieldKind int

const (
	KindUnsupported FieldKind = iota
	KindText
	KindFile
)

func (k FieldKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindFile:
		return "file"
	default:
		return "unsupported"
	}
}

// FieldTypes are the tables that classify fields and templates.
type FieldTypes struct {
	Text     []string
	File     []string
	Image    []string // subset of File sent as images
	Blocks   []string // fields holding embedded content blocks
	Repeater []string

	AdminTemplates []string
	RepeaterPrefix string
	BlockPrefix    string
	HiddenPrefix   string
	SystemFlags    []int
}

func DefaultFieldTypes() FieldTypes {
	return FieldTypes{
		Text:           []string{"page_title", "text", "textarea", "text_language", "textarea_language", "page_title_language"},
		File:           []string{"file", "image"},
		Image:          []string{"image"},
		Blocks:         []string{"blocks"},
		Repeater:       []string{"repeater"},
		AdminTemplates: []string{"admin", "language", "user", "permission", "role"},
		RepeaterPrefix: "repeater_",
		BlockPrefix:    "block-",
		HiddenPrefix:   "field-",
		SystemFlags:    []int{8, 24},
	}
}

// FieldTypesFromConfig overlays the configured tables on the defaults.
func FieldTypesFromConfig(c appcfg.FieldTypesConfig) FieldTypes {
	ft := DefaultFieldTypes()
	if len(c.Text) > 0 {
		ft.Text = c.Text
	}
	if len(c.File) > 0 {
		ft.File = c.File
	}
	if len(c.Image) > 0 {
		ft.Image = c.Image
	}
	if len(c.Blocks) > 0 {
		ft.Blocks = c.Blocks
	}
	if len(c.Repeater) > 0 {
		ft.Repeater = c.Repeater
	}
	if len(c.AdminTemplates) > 0 {
		ft.AdminTemplates = c.AdminTemplates
	}
	if c.RepeaterPrefix != "" {
		ft.RepeaterPrefix = c.RepeaterPrefix
	}
	if c.BlockPrefix != "" {
		ft.BlockPrefix = c.BlockPrefix
	}
	if c.HiddenPrefix != "" {
		ft.HiddenPrefix = c.HiddenPrefix
	}
	return ft
}

func (ft FieldTypes) Kind(fieldType string) FieldKind {
	switch {
	case contains(ft.Text, fieldType):
		return KindText
	case contains(ft.File, fieldType):
		return KindFile
	default:
		return KindUnsupported
	}
}

func (ft FieldTypes) IsImage(fieldType string) bool  { return contains(ft.Image, fieldType) }
func (ft FieldTypes) IsBlocks(fieldType string) bool { return contains(ft.Blocks, fieldType) }
func (ft FieldTypes) IsRepeater(fieldType string) bool {
	return contains(ft.Repeater, fieldType)
}

// IsRelation reports whether values of the field type are nested entities.
func (ft FieldTypes) IsRelation(fieldType string) bool {
	return ft.IsBlocks(fieldType) || ft.IsRepeater(fieldType)
}

type Template struct {
	ID       int
	Name     string
	Label    string
	FieldIDs []int
}

type Field struct {
	ID    int
	Name  string
	Label string
	Type  string
	Flags int
}

// FieldDef is a field with its kind resolved.
type FieldDef struct {
	Field
	Kind  FieldKind
	Image bool
}

func (f *FieldDef) DisplayLabel() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

type Option struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

// Catalog is a snapshot of the templates and fields of the host CMS.
type Catalog struct {
	types       FieldTypes
	templates   map[int]*Template
	fields      map[int]*FieldDef
	fieldByName map[string]*FieldDef
	membership  map[int]map[int]bool
}

func NewCatalog(types FieldTypes, templates []Template, fields []Field) *Catalog {
	c := &Catalog{
		types:       types,
		templates:   make(map[int]*Template, len(templates)),
		fields:      make(map[int]*FieldDef, len(fields)),
		fieldByName: make(map[string]*FieldDef, len(fields)),
		membership:  make(map[int]map[int]bool, len(templates)),
	}
	for i := range templates {
		t := templates[i]
		c.templates[t.ID] = &t
		members := make(map[int]bool, len(t.FieldIDs))
		for _, id := range t.FieldIDs {
			members[id] = true
		}
		c.membership[t.ID] = members
	}
	for _, f := range fields {
		def := &FieldDef{Field: f, Kind: types.Kind(f.Type), Image: types.IsImage(f.Type)}
		c.fields[f.ID] = def
		c.fieldByName[f.Name] = def
	}
	return c
}

func (c *Catalog) Types() FieldTypes { return c.types }

func (c *Catalog) Template(id int) (*Template, bool) {
	t, ok := c.templates[id]
	return t, ok
}

func (c *Catalog) Field(id int) (*FieldDef, bool) {
	f, ok := c.fields[id]
	return f, ok
}

func (c *Catalog) FieldByName(name string) (*FieldDef, bool) {
	f, ok := c.fieldByName[name]
	return f, ok
}

func (c *Catalog) TemplateHasField(templateID, fieldID int) bool {
	return c.membership[templateID][fieldID]
}

// BlockFields returns the block-bearing fields of a template.
func (c *Catalog) BlockFields(templateID int) []*FieldDef {
	t, ok := c.templates[templateID]
	if !ok {
		return nil
	}
	var out []*FieldDef
	for _, id := range t.FieldIDs {
		if f, ok := c.fields[id]; ok && c.types.IsBlocks(f.Type) {
			out = append(out, f)
		}
	}
	return out
}

// RepeaterName returns the relation name of a repeater template.
func (c *Catalog) RepeaterName(templateID int) (string, bool) {
	t, ok := c.templates[templateID]
	if !ok || c.types.RepeaterPrefix == "" || !strings.HasPrefix(t.Name, c.types.RepeaterPrefix) {
		return "", false
	}
	return strings.TrimPrefix(t.Name, c.types.RepeaterPrefix), true
}

func (c *Catalog) IsBlockTemplate(templateID int) bool {
	t, ok := c.templates[templateID]
	return ok && c.types.BlockPrefix != "" && strings.HasPrefix(t.Name, c.types.BlockPrefix)
}

func (c *Catalog) IsAdminTemplate(templateID int) bool {
	t, ok := c.templates[templateID]
	return ok && contains(c.types.AdminTemplates, t.Name)
}

// TemplateOptions lists the templates a rule may reference, ordered by id.
func (c *Catalog) TemplateOptions() []Option {
	out := make([]Option, 0, len(c.templates))
	for _, t := range c.templates {
		if label, ok := c.templateOption(t); ok {
			out = append(out, Option{ID: t.ID, Label: label})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) templateOption(t *Template) (string, bool) {
	if contains(c.types.AdminTemplates, t.Name) {
		return "", false
	}
	if c.types.HiddenPrefix != "" && strings.HasPrefix(t.Name, c.types.HiddenPrefix) {
		return "", false
	}
	if name, ok := c.RepeaterName(t.ID); ok {
		return "Repeater: " + name, true
	}
	if t.Label != "" {
		return t.Label + " (" + t.Name + ")", true
	}
	return t.Name, true
}

// FieldOptions lists the fields a rule may reference, ordered by id.
func (c *Catalog) FieldOptions() []Option {
	out := make([]Option, 0, len(c.fields))
	for _, f := range c.fields {
		if !c.fieldSelectable(f) {
			continue
		}
		label := f.Name
		if f.Label != "" {
			label = f.Label + " (" + f.Name + ")"
		}
		out = append(out, Option{ID: f.ID, Label: label})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) templateSelectable(id int) bool {
	t, ok := c.templates[id]
	if !ok {
		return false
	}
	_, ok = c.templateOption(t)
	return ok
}

func (c *Catalog) fieldSelectable(f *FieldDef) bool {
	if f.Kind == KindUnsupported {
		return false
	}
	for _, flag := range c.types.SystemFlags {
		if f.Flags != 0 && f.Flags == flag {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
