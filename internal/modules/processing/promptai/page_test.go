package promptai

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/mx-space/promptai/internal/modules/processing/ai"
	"github.com/mx-space/promptai/internal/pkg/notice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	engine *Engine
	store  *fakeStore
	client *fakeClient
	notes  *notice.List
}

func newHarness(t *testing.T, opts Options, entities ...Entity) *harness {
	t.Helper()
	h := &harness{store: newStore(entities...), client: newClient(), notes: &notice.List{}}
	h.engine = NewEngine(Deps{Catalog: testCatalog(), Store: h.store, Client: h.client, Notes: h.notes}, opts)
	return h
}

func TestParseSubmitAction(t *testing.T) {
	cases := []struct {
		action string
		index  int
		ok     bool
	}{
		{"", 0, false},
		{"save", 0, false},
		{"save_and_chat", AllRules, true},
		{"save_and_chat_0", 0, true},
		{"save_and_chat_12", 12, true},
		{"save_and_chat_x", AllRules, true},
		{"save_and_chat_99999999999999999999", math.MaxInt, true},
	}
	for _, tc := range cases {
		index, ok := ParseSubmitAction(tc.action)
		assert.Equal(t, tc.ok, ok, tc.action)
		if tc.ok {
			assert.Equal(t, tc.index, index, tc.action)
		}
	}
}

func TestRunPageTextField(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		rule     Rule
		want     string
		writes   int
		warnings []string
	}{
		{
			name: "empty field without ignore is left alone",
			rule: Rule{Mode: ModePage, Fields: []int{fieldBody}, Prompt: "Write"},
		},
		{
			name:   "empty field with ignore generates from prompt",
			rule:   Rule{Mode: ModePage, Fields: []int{fieldBody}, Prompt: "Write about {page.title}", IgnoreFieldContent: true},
			want:   "AI(Write about Hello)",
			writes: 1,
		},
		{
			name:     "filled field without overwrite is skipped",
			body:     "Existing",
			rule:     Rule{Mode: ModePage, Fields: []int{fieldBody}, Prompt: "Fix"},
			want:     "Existing",
			warnings: []string{"Field skipped (already has content): Body"},
		},
		{
			name:   "filled field with overwrite sends content",
			body:   "Existing",
			rule:   Rule{Mode: ModePage, Fields: []int{fieldBody}, Prompt: "Fix:", OverwriteTarget: true},
			want:   "AI(Fix:\nExisting)",
			writes: 1,
		},
		{
			name:   "overwrite with ignore drops content",
			body:   "Existing",
			rule:   Rule{Mode: ModePage, Fields: []int{fieldBody}, Prompt: "Fresh", OverwriteTarget: true, IgnoreFieldContent: true},
			want:   "AI(Fresh)",
			writes: 1,
		},
		{
			name: "field not on template is ignored",
			body: "",
			rule: Rule{Mode: ModePage, Fields: []int{fieldQuote}, Prompt: "x", IgnoreFieldContent: true},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page := newEntity("p1", tmplArticle, map[string]interface{}{"title": "Hello"})
			if tc.body != "" {
				page.values["body"] = tc.body
			}
			h := newHarness(t, Options{}, page)

			res := h.engine.RunPage(context.Background(), page, []Rule{tc.rule}, PageRun{RuleIndex: AllRules})
			assert.Equal(t, 1, res.Rules)
			assert.Equal(t, tc.writes, res.Writes)
			if tc.want == "" {
				assert.Nil(t, page.Get("body"))
			} else {
				assert.Equal(t, tc.want, page.Get("body"))
			}
			assert.Equal(t, tc.warnings, h.notes.Texts(notice.LevelWarning))
			assert.Equal(t, 0, h.notes.Count(notice.LevelError))
		})
	}
}

func TestRunPageIsIdempotentWithoutOverwrite(t *testing.T) {
	page := newEntity("p1", tmplArticle, map[string]interface{}{"title": "Hello"})
	h := newHarness(t, Options{}, page)
	rules := []Rule{{Mode: ModePage, Fields: []int{fieldBody}, Prompt: "Write", IgnoreFieldContent: true}}

	first := h.engine.RunPage(context.Background(), page, rules, PageRun{RuleIndex: AllRules})
	second := h.engine.RunPage(context.Background(), page, rules, PageRun{RuleIndex: AllRules})

	assert.Equal(t, 1, first.Writes)
	assert.Equal(t, 0, second.Writes)
	assert.Len(t, h.client.calls, 1)
	assert.Equal(t, []string{"p1.body"}, h.store.savedField)
	assert.Equal(t, "AI(Write)", page.Get("body"))
}

func mustParseAction(t *testing.T, action string) int {
	t.Helper()
	index, ok := ParseSubmitAction(action)
	require.True(t, ok, action)
	return index
}

func TestRunPageRuleSelection(t *testing.T) {
	rules := []Rule{
		{Mode: ModeInline, Fields: []int{fieldBody}, Prompt: "inline"},
		{Mode: ModePage, Fields: []int{fieldTitle}, Prompt: "title", OverwriteTarget: true},
		{Mode: ModePage, Templates: []int{tmplQuote}, Fields: []int{fieldQuote}, Prompt: "quote", OverwriteTarget: true},
		{Mode: ModePage, Fields: []int{fieldBody}, Prompt: "body", OverwriteTarget: true},
	}

	cases := []struct {
		name   string
		index  int
		prompt []string
		errors []string
	}{
		{name: "all page rules", index: AllRules, prompt: []string{"title\nHello", "body\nText"}},
		{name: "one rule", index: 3, prompt: []string{"body\nText"}},
		{name: "inline rule", index: 0, errors: []string{"Prompt configuration 0 is not a page mode prompt"}},
		{name: "irrelevant rule", index: 2, errors: []string{"Prompt configuration 2 does not apply to this page"}},
		{name: "past the end", index: 4, errors: []string{"Prompt configuration not found"}},
		{name: "overflowing action index", index: mustParseAction(t, "save_and_chat_99999999999999999999"), errors: []string{"Prompt configuration not found"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page := newEntity("p1", tmplArticle, map[string]interface{}{"title": "Hello", "body": "Text"})
			h := newHarness(t, Options{}, page)
			h.engine.RunPage(context.Background(), page, rules, PageRun{RuleIndex: tc.index})
			if tc.prompt == nil {
				assert.Empty(t, h.client.calls)
				assert.Empty(t, h.store.savedField)
			} else {
				assert.Equal(t, tc.prompt, h.client.prompts())
			}
			assert.Equal(t, tc.errors, h.notes.Texts(notice.LevelError))
		})
	}
}

func TestRunPageThrottle(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rules := []Rule{{Mode: ModePage, Fields: []int{fieldBody}, Prompt: "Write", IgnoreFieldContent: true}}

	page := newEntity("p1", tmplArticle, nil)
	h := newHarness(t, Options{Throttle: 5 * time.Second, Now: func() time.Time { return now }}, page)

	res := h.engine.RunPage(context.Background(), page, rules, PageRun{RuleIndex: AllRules, LastModified: now.Add(-2 * time.Second)})
	assert.True(t, res.Throttled)
	assert.Empty(t, h.client.calls)
	assert.Equal(t, []string{"Please wait some time before you try to send again."}, h.notes.Texts(notice.LevelWarning))

	res = h.engine.RunPage(context.Background(), page, rules, PageRun{RuleIndex: AllRules, LastModified: now.Add(-10 * time.Second)})
	assert.False(t, res.Throttled)
	assert.Equal(t, 1, res.Writes)
}

func TestRunPageRepeaterItems(t *testing.T) {
	items := []Entity{
		newEntity("i1", tmplGallery, map[string]interface{}{"caption": ""}),
		newEntity("i2", tmplGallery, map[string]interface{}{"caption": "Kept"}),
		newEntity("i3", tmplQuote, map[string]interface{}{"quote": ""}),
	}
	page := newEntity("p1", tmplArticle, map[string]interface{}{"title": "Trip", "gallery": items})
	h := newHarness(t, Options{}, page)
	rules := []Rule{{
		Mode:               ModePage,
		Templates:          []int{tmplGallery},
		Fields:             []int{fieldCaption},
		Prompt:             "Caption {item.caption} for {page.title}",
		IgnoreFieldContent: true,
	}}

	res := h.engine.RunPage(context.Background(), page, rules, PageRun{RuleIndex: AllRules})
	assert.Equal(t, 1, res.Writes)
	assert.Equal(t, "AI(Caption  for Trip)", items[0].Get("caption"))
	assert.Equal(t, "Kept", items[1].Get("caption"))
	assert.Equal(t, []string{"i1.caption"}, h.store.savedField)
	assert.Equal(t, []string{
		"Placeholder {item.caption}: field not found or empty",
		"Field skipped (already has content): caption",
	}, h.notes.Texts(notice.LevelWarning))
}

func TestRunPageBlocksUseFreshCopy(t *testing.T) {
	saved := newEntity("p1", tmplArticle, map[string]interface{}{"title": "Hello"})
	blocks := []Entity{
		newEntity("b1", tmplQuote, map[string]interface{}{"quote": "Old words"}),
		newEntity("b2", tmplQuote, map[string]interface{}{"quote": "More"}),
	}
	fresh := newEntity("p1", tmplArticle, map[string]interface{}{"title": "Hello", "blocks": blocks})
	h := newHarness(t, Options{}, fresh)
	rules := []Rule{
		{Mode: ModePage, Templates: []int{tmplQuote}, Fields: []int{fieldQuote}, Prompt: "Polish", OverwriteTarget: true},
		{Mode: ModePage, Fields: []int{fieldQuote}, Prompt: "Again", OverwriteTarget: true},
	}

	res := h.engine.RunPage(context.Background(), saved, rules, PageRun{RuleIndex: AllRules})
	assert.Equal(t, 2, res.Rules)
	assert.Equal(t, 4, res.Writes)
	assert.Equal(t, "AI(Again\nAI(Polish\nOld words))", blocks[0].Get("quote"))
	assert.Equal(t, 1, h.store.fetches)
	assert.Equal(t, []string{"b1.quote", "b2.quote", "b1.quote", "b2.quote"}, h.store.savedField)
}

func TestRunPageRelevance(t *testing.T) {
	page := newEntity("p1", tmplArticle, map[string]interface{}{
		"gallery": []Entity{newEntity("i1", tmplGallery, nil)},
		"blocks":  []Entity{newEntity("b1", tmplQuote, nil)},
	})
	h := newHarness(t, Options{}, page)
	rules := []Rule{
		{Mode: ModePage},
		{Mode: ModeInline, Templates: []int{tmplArticle}},
		{Mode: ModePage, Templates: []int{tmplGallery}},
		{Mode: ModePage, Templates: []int{tmplQuote}},
		{Mode: ModePage, Templates: []int{tmplAdmin}},
	}
	got := h.engine.RelevantPrompts(context.Background(), page, rules)
	indices := make([]int, len(got))
	for i, r := range got {
		indices[i] = r.Index
	}
	assert.Equal(t, []int{0, 1, 2, 3}, indices)

	bare := newEntity("p2", tmplArticle, nil)
	h = newHarness(t, Options{}, bare)
	got = h.engine.RelevantPrompts(context.Background(), bare, rules)
	assert.Len(t, got, 2)
}

func TestRunPageErrorsBecomeNotices(t *testing.T) {
	page := newEntity("p1", tmplArticle, map[string]interface{}{"body": "Text"})
	h := newHarness(t, Options{}, page)
	h.client.reply = func(ai.Message) (string, error) { return "", errors.New("boom") }
	rules := []Rule{{Mode: ModePage, Fields: []int{fieldBody, 404}, Prompt: "x", OverwriteTarget: true}}

	res := h.engine.RunPage(context.Background(), page, rules, PageRun{RuleIndex: AllRules})
	assert.Equal(t, 0, res.Writes)
	assert.Equal(t, "Text", page.Get("body"))
	assert.Equal(t, []string{"Body: boom", "Field with ID 404 does not exist"}, h.notes.Texts(notice.LevelError))

	h.notes = &notice.List{}
	h.engine = NewEngine(Deps{Catalog: testCatalog(), Store: h.store, Notes: h.notes}, Options{})
	h.engine.RunPage(context.Background(), page, rules[:1], PageRun{RuleIndex: AllRules})
	assert.Contains(t, h.notes.Texts(notice.LevelError), "Body: no AI provider is enabled")
}

func TestRunPageEmptyReplyWritesNothing(t *testing.T) {
	page := newEntity("p1", tmplArticle, map[string]interface{}{"body": "Text"})
	h := newHarness(t, Options{}, page)
	h.client.reply = func(ai.Message) (string, error) { return "", ai.ErrEmptyResponse }

	res := h.engine.RunPage(context.Background(), page, []Rule{{Mode: ModePage, Fields: []int{fieldBody}, Prompt: "x", OverwriteTarget: true}}, PageRun{RuleIndex: AllRules})
	assert.Equal(t, 0, res.Writes)
	assert.Equal(t, 0, h.notes.Len())
	assert.Empty(t, h.store.savedField)
}

func TestRunPageFiles(t *testing.T) {
	images := []*File{
		{Basename: "a.png", Path: "a.png"},
		{Basename: "b.png", Path: "b.png", Subfields: map[string]string{"alt": "Has one"}},
	}
	docs := []*File{
		{Basename: "report.pdf", Path: "report.pdf"},
		{Basename: "notes.md", Path: "notes.md"},
	}
	page := newEntity("p1", tmplArticle, map[string]interface{}{"title": "Hello", "images": images, "docs": docs})
	h := newHarness(t, Options{}, page)
	h.store.files["a.png"] = pngBytes(t, 20, 10)
	h.store.files["b.png"] = pngBytes(t, 20, 10)
	h.store.files["report.pdf"] = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n")
	h.store.files["notes.md"] = []byte("# Notes\n\nplain text")

	rules := []Rule{{Mode: ModePage, Fields: []int{fieldImages, fieldDocs}, Prompt: "Describe {page.title}", TargetSubfield: "alt"}}
	res := h.engine.RunPage(context.Background(), page, rules, PageRun{RuleIndex: AllRules})

	assert.Equal(t, 2, res.Writes)
	assert.Equal(t, "AI(Describe Hello)", images[0].Subfield("alt"))
	assert.Equal(t, "Has one", images[1].Subfield("alt"))
	assert.Equal(t, "AI(Describe Hello)", docs[0].Subfield("alt"))
	assert.Empty(t, docs[1].Subfield("alt"))
	assert.Equal(t, []string{"p1.images/a.png", "p1.docs/report.pdf"}, h.store.savedFile)

	require.Len(t, h.client.calls, 2)
	img := h.client.calls[0].Attachment
	require.NotNil(t, img)
	assert.Equal(t, ai.AttachmentImage, img.Kind)
	assert.Equal(t, "image/png", img.MediaType)
	doc := h.client.calls[1].Attachment
	require.NotNil(t, doc)
	assert.Equal(t, ai.AttachmentDocument, doc.Kind)
	assert.Equal(t, "application/pdf", doc.MediaType)

	assert.Equal(t, []string{"Files skipped in field Images: b.png"}, h.notes.Texts(notice.LevelWarning))
	errs := h.notes.Texts(notice.LevelError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "notes.md")
	assert.Contains(t, errs[0], "text/markdown")
}

func TestRunPageExtendedDocuments(t *testing.T) {
	docs := []*File{{Basename: "notes.md", Path: "notes.md"}}
	page := newEntity("p1", tmplArticle, map[string]interface{}{"docs": docs})
	h := newHarness(t, Options{ExtendedDocuments: true}, page)
	h.store.files["notes.md"] = []byte("# Notes\n\nplain text")

	res := h.engine.RunPage(context.Background(), page, []Rule{{Mode: ModePage, Fields: []int{fieldDocs}, Prompt: "Summarize"}}, PageRun{RuleIndex: AllRules})
	assert.Equal(t, 1, res.Writes)
	assert.Equal(t, "AI(Summarize)", docs[0].Description())
	require.Len(t, h.client.calls, 1)
	assert.Equal(t, "text/markdown", h.client.calls[0].Attachment.MediaType)
}

func TestRunPageFilesRejectedByProvider(t *testing.T) {
	images := []*File{{Basename: "a.png", Path: "a.png"}}
	page := newEntity("p1", tmplArticle, map[string]interface{}{"images": images})
	h := newHarness(t, Options{}, page)
	h.client.provider = ai.TypeDeepSeek

	res := h.engine.RunPage(context.Background(), page, []Rule{{Mode: ModePage, Fields: []int{fieldImages}, Prompt: "Alt"}}, PageRun{RuleIndex: AllRules})
	assert.Equal(t, 0, res.Writes)
	assert.Empty(t, h.client.calls)
	assert.Equal(t, []string{"DeepSeek is currently not supported for file or image fields."}, h.notes.Texts(notice.LevelError))
}
