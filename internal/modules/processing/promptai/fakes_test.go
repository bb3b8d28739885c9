package promptai

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mx-space/promptai/internal/modules/processing/ai"
	"github.com/stretchr/testify/require"
)

// Catalog ids used across the tests.
const (
	tmplArticle  = 1
	tmplGallery  = 2 // repeater_gallery
	tmplQuote    = 3 // block-quote
	tmplAdmin    = 4
	tmplHidden   = 5
	fieldTitle   = 10
	fieldBody    = 11
	fieldImages  = 12
	fieldGallery = 13
	fieldBlocks  = 14
	fieldDocs    = 15
	fieldCaption = 16
	fieldQuote   = 17
	fieldSystem  = 18
	fieldCounter = 19
)

func testCatalog() *Catalog {
	return NewCatalog(DefaultFieldTypes(),
		[]Template{
			{ID: tmplArticle, Name: "article", Label: "Article", FieldIDs: []int{fieldTitle, fieldBody, fieldImages, fieldGallery, fieldBlocks, fieldDocs}},
			{ID: tmplGallery, Name: "repeater_gallery", FieldIDs: []int{fieldCaption, fieldImages}},
			{ID: tmplQuote, Name: "block-quote", FieldIDs: []int{fieldQuote}},
			{ID: tmplAdmin, Name: "admin", FieldIDs: []int{fieldTitle}},
			{ID: tmplHidden, Name: "field-hidden"},
		},
		[]Field{
			{ID: fieldTitle, Name: "title", Label: "Title", Type: "page_title"},
			{ID: fieldBody, Name: "body", Label: "Body", Type: "textarea"},
			{ID: fieldImages, Name: "images", Label: "Images", Type: "image"},
			{ID: fieldGallery, Name: "gallery", Type: "repeater"},
			{ID: fieldBlocks, Name: "blocks", Type: "blocks"},
			{ID: fieldDocs, Name: "docs", Label: "Documents", Type: "file"},
			{ID: fieldCaption, Name: "caption", Type: "text"},
			{ID: fieldQuote, Name: "quote", Type: "textarea"},
			{ID: fieldSystem, Name: "pass", Type: "text", Flags: 8},
			{ID: fieldCounter, Name: "counter", Type: "integer"},
		},
	)
}

type fakeEntity struct {
	id       string
	template int
	modified time.Time
	values   map[string]interface{}
}

func newEntity(id string, template int, values map[string]interface{}) *fakeEntity {
	if values == nil {
		values = map[string]interface{}{}
	}
	return &fakeEntity{id: id, template: template, values: values}
}

func (e *fakeEntity) ID() string { return e.id }
func (e *fakeEntity) TemplateID() int { return e.template }
func (e *fakeEntity) Modified() time.Time { return e.modified }
func (e *fakeEntity) Get(name string) interface{} { return e.values[name] }
func (e *fakeEntity) Set(name string, v interface{}) { e.values[name] = v }

type fakeStore struct {
	mu         sync.Mutex
	entities   map[string]Entity
	files      map[string][]byte
	savedField []string
	savedFile  []string
	fetches    int
	saveErr    error
}

func newStore(entities ...Entity) *fakeStore {
	s := &fakeStore{entities: map[string]Entity{}, files: map[string][]byte{}}
	for _, e := range entities {
		s.entities[e.ID()] = e
	}
	return s
}

func (s *fakeStore) Fetch(_ context.Context, id string) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	e, ok := s.entities[id]
	if !ok {
		return nil, ErrEntityNotFound
	}
	return e, nil
}

func (s *fakeStore) SaveField(_ context.Context, e Entity, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.savedField = append(s.savedField, e.ID()+"."+field)
	return nil
}

func (s *fakeStore) SaveFile(_ context.Context, e Entity, field string, f *File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedFile = append(s.savedFile, e.ID()+"."+field+"/"+f.Basename)
	return nil
}

func (s *fakeStore) ReadFile(_ context.Context, f *File) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[f.Path]
	if !ok {
		return nil, errors.New("missing file")
	}
	return data, nil
}

// fakeClient answers with "AI(<prompt>)" unless reply is set.
type fakeClient struct {
	mu       sync.Mutex
	provider string
	reply    func(ai.Message) (string, error)
	calls    []ai.Message
}

func newClient() *fakeClient { return &fakeClient{provider: ai.TypeOpenAI} }

func (c *fakeClient) answer(msg ai.Message) (string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, msg)
	reply := c.reply
	c.mu.Unlock()
	if reply != nil {
		return reply(msg)
	}
	return "AI(" + msg.Prompt + ")", nil
}

func (c *fakeClient) Chat(_ context.Context, msg ai.Message) (string, error) {
	return c.answer(msg)
}

func (c *fakeClient) Stream(_ context.Context, msg ai.Message, onChunk func(string) error) (string, error) {
	out, err := c.answer(msg)
	if err != nil {
		return "", err
	}
	for _, word := range strings.SplitAfter(out, " ") {
		if err := onChunk(word); err != nil {
			return "", err
		}
	}
	return out, nil
}

func (c *fakeClient) ProviderType() string { return c.provider }

func (c *fakeClient) prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	for i, m := range c.calls {
		out[i] = m.Prompt
	}
	return out
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
