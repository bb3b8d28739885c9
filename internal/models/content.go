package models

// TemplateModel describes a page template and the fields it carries.
type TemplateModel struct {
	ID     uint                 `json:"id"     gorm:"primaryKey;autoIncrement"`
	Name   string               `json:"name"   gorm:"uniqueIndex;size:191;not null"`
	Label  string               `json:"label"`
	Flags  int                  `json:"flags"  gorm:"default:0"`
	Fields []TemplateFieldModel `json:"fields" gorm:"foreignKey:TemplateID"`
}

func (TemplateModel) TableName() string { return "templates" }

// FieldModel is a field definition shared by templates.
type FieldModel struct {
	ID    uint   `json:"id"    gorm:"primaryKey;autoIncrement"`
	Name  string `json:"name"  gorm:"uniqueIndex;size:191;not null"`
	Label string `json:"label"`
	Type  string `json:"type"  gorm:"size:64;not null"`
	Flags int    `json:"flags" gorm:"default:0"`
}

func (FieldModel) TableName() string { return "fields" }

// TemplateFieldModel attaches a field to a template.
type TemplateFieldModel struct {
	TemplateID uint `json:"template_id" gorm:"primaryKey"`
	FieldID    uint `json:"field_id"    gorm:"primaryKey"`
	Sort       int  `json:"sort"        gorm:"default:0"`
}

func (TemplateFieldModel) TableName() string { return "template_fields" }

// PageModel is a content entity. Repeater items and blocks are pages too:
// ParentID points to the owning page and Relation names the owning field.
type PageModel struct {
	Base
	TemplateID uint                   `json:"template_id" gorm:"index;not null"`
	ParentID   *string                `json:"parent_id,omitempty" gorm:"type:char(36);index"`
	Relation   string                 `json:"relation,omitempty"  gorm:"size:191;index"`
	Sort       int                    `json:"sort"        gorm:"default:0"`
	Values     map[string]interface{} `json:"values"      gorm:"column:field_values;type:longtext;serializer:json"`
}

func (PageModel) TableName() string { return "pages" }

// PageFileModel is one item of a file or image field.
type PageFileModel struct {
	Base
	PageID    string            `json:"page_id"    gorm:"type:char(36);index;not null"`
	Field     string            `json:"field"      gorm:"size:191;index;not null"`
	Basename  string            `json:"basename"   gorm:"not null"`
	Path      string            `json:"path"       gorm:"not null"`
	MediaType string            `json:"media_type"`
	Subfields map[string]string `json:"subfields"  gorm:"type:longtext;serializer:json"`
	Sort      int               `json:"sort"       gorm:"default:0"`
}

func (PageFileModel) TableName() string { return "page_files" }
