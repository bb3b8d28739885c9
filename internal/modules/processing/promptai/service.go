package promptai

import (
	"context"
	"errors"
	"strconv"
	"time"

	appcfg "github.com/mx-space/promptai/internal/config"
	"github.com/mx-space/promptai/internal/modules/processing/ai"
	"github.com/mx-space/promptai/internal/pkg/notice"
	"github.com/mx-space/promptai/internal/pkg/taskqueue"
	"go.uber.org/zap"
)

const (
	TaskTypePageRun = "promptai:page"
	pageTaskTimeout = 10 * time.Minute
)

type ConfigSource interface {
	Get() (*appcfg.FullConfig, error)
}

// ClientFactory builds the AI client of a pass.
type ClientFactory func(ctx context.Context, provider *appcfg.AIProvider, opts ai.Options) (ai.Client, error)

type ServiceDeps struct {
	Config    ConfigSource
	Catalogs  CatalogSource
	Store     Store
	NewClient ClientFactory
	Tasks     *taskqueue.Service
	Flash     *notice.FlashStore
	Logger    *zap.Logger
}

type ServiceOptions struct {
	Throttle      time.Duration
	ImageMaxWidth int
}

// Service loads settings, catalog and rules fresh for every pass and hands
// them to an Engine.
type Service struct {
	cfgSvc    ConfigSource
	catalogs  CatalogSource
	store     Store
	newClient ClientFactory
	tasks     *taskqueue.Service
	flash     *notice.FlashStore
	logger    *zap.Logger
	opts      ServiceOptions
}

func NewService(deps ServiceDeps, opts ServiceOptions) *Service {
	if deps.NewClient == nil {
		deps.NewClient = func(ctx context.Context, p *appcfg.AIProvider, o ai.Options) (ai.Client, error) {
			return ai.New(ctx, p, o)
		}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{
		cfgSvc:    deps.Config,
		catalogs:  deps.Catalogs,
		store:     deps.Store,
		newClient: deps.NewClient,
		tasks:     deps.Tasks,
		flash:     deps.Flash,
		logger:    deps.Logger,
		opts:      opts,
	}
}

type pass struct {
	engine   *Engine
	rules    []Rule
	settings appcfg.PromptAIOptions
}

func (s *Service) begin(ctx context.Context, notes *notice.List) (*pass, error) {
	cfg, err := s.cfgSvc.Get()
	if err != nil {
		return nil, err
	}
	cat, err := s.catalogs.Catalog(ctx)
	if err != nil {
		return nil, err
	}

	deps := Deps{Catalog: cat, Store: s.store, Notes: notes, Logger: s.logger}
	if provider := cfg.AI.SelectProvider(); provider != nil {
		deps.Client, deps.ClientErr = s.newClient(ctx, provider, ai.Options{
			SystemPrompt:    cfg.PromptAI.SystemPrompt,
			MaxOutputTokens: cfg.PromptAI.MaxOutputTokens,
		})
	}

	engine := NewEngine(deps, Options{
		Throttle:          s.opts.Throttle,
		ImageMaxWidth:     s.opts.ImageMaxWidth,
		ExtendedDocuments: cfg.PromptAI.ExtendedDocumentTypes,
	})
	return &pass{
		engine:   engine,
		rules:    ParseRules(cfg.PromptAI.PromptMatrix, cat, nil),
		settings: cfg.PromptAI,
	}, nil
}

// RunPage runs page-mode rules on an entity. Setup failures are reported as
// notices like every other failure.
func (s *Service) RunPage(ctx context.Context, page Entity, run PageRun) (PageResult, []notice.Notice) {
	notes := &notice.List{}
	p, err := s.begin(ctx, notes)
	if err != nil {
		s.logger.Error("prepare prompt pass failed", zap.Error(err))
		notes.Error("%v", err)
		return PageResult{}, notes.Items()
	}
	res := p.engine.RunPage(ctx, page, p.rules, run)
	s.logger.Debug("page prompts done",
		zap.String("page", page.ID()),
		zap.Int("rules", res.Rules),
		zap.Int("writes", res.Writes),
		zap.Int("notices", notes.Len()),
	)
	return res, notes.Items()
}

// AfterSave is the page save hook. It only acts on save_and_chat actions and
// leaves the notices in the user's flash store. A zero lastModified falls back
// to the page's own modification time.
func (s *Service) AfterSave(ctx context.Context, userID string, page Entity, action string, lastModified time.Time) ([]notice.Notice, bool) {
	index, ok := ParseSubmitAction(action)
	if !ok {
		return nil, false
	}
	if lastModified.IsZero() {
		lastModified = page.Modified()
	}
	_, items := s.RunPage(ctx, page, PageRun{RuleIndex: index, LastModified: lastModified})
	if s.flash != nil && userID != "" {
		if err := s.flash.Push(ctx, userID, items); err != nil {
			s.logger.Warn("push notices failed", zap.String("user", userID), zap.Error(err))
		}
	}
	return items, true
}

// RunPageByID runs rules on a stored page without the save throttle.
func (s *Service) RunPageByID(ctx context.Context, pageID string, ruleIndex int) (PageResult, []notice.Notice, error) {
	page, err := s.store.Fetch(ctx, pageID)
	if err != nil {
		return PageResult{}, nil, err
	}
	res, items := s.RunPage(ctx, page, PageRun{RuleIndex: ruleIndex})
	return res, items, nil
}

type pageRunPayload struct {
	PageID    string `json:"page_id"`
	RuleIndex int    `json:"rule_index"`
}

type pageRunOutcome struct {
	Result  PageResult      `json:"result"`
	Notices []notice.Notice `json:"notices"`
}

func pageRunDedupKey(pageID string, ruleIndex int) string {
	if ruleIndex == AllRules {
		return pageID + ":all"
	}
	return pageID + ":" + strconv.Itoa(ruleIndex)
}

var ErrTasksDisabled = errors.New("background tasks are not available")

// EnqueuePageRun records a page run task and executes it in the background.
// A run for the same page and rule that is still pending is reused.
func (s *Service) EnqueuePageRun(ctx context.Context, pageID string, ruleIndex int) (*taskqueue.Task, bool, error) {
	if s.tasks == nil {
		return nil, false, ErrTasksDisabled
	}
	if _, err := s.store.Fetch(ctx, pageID); err != nil {
		return nil, false, err
	}
	task, created, err := s.tasks.Enqueue(ctx, TaskTypePageRun, pageRunPayload{PageID: pageID, RuleIndex: ruleIndex}, pageRunDedupKey(pageID, ruleIndex))
	if err != nil || !created {
		return task, created, err
	}
	go s.runPageTask(task.ID, pageID, ruleIndex)
	return task, true, nil
}

func (s *Service) runPageTask(taskID, pageID string, ruleIndex int) {
	ctx, cancel := context.WithTimeout(context.Background(), pageTaskTimeout)
	defer cancel()

	if err := s.tasks.UpdateStatus(ctx, taskID, taskqueue.TaskRunning, nil, ""); err != nil {
		s.logger.Warn("mark task running failed", zap.String("task", taskID), zap.Error(err))
	}
	res, items, err := s.RunPageByID(ctx, pageID, ruleIndex)
	if err != nil {
		_ = s.tasks.UpdateStatus(ctx, taskID, taskqueue.TaskFailed, nil, err.Error())
		return
	}
	if err := s.tasks.UpdateStatus(ctx, taskID, taskqueue.TaskCompleted, pageRunOutcome{Result: res, Notices: items}, ""); err != nil {
		s.logger.Warn("store task result failed", zap.String("task", taskID), zap.Error(err))
	}
}

func (s *Service) Task(ctx context.Context, id string) (*taskqueue.Task, error) {
	if s.tasks == nil {
		return nil, ErrTasksDisabled
	}
	return s.tasks.GetByID(ctx, id)
}

// InlineResult is returned to the editor after an inline request.
type InlineResult struct {
	Result         string          `json:"result"`
	TargetSubfield string          `json:"target_subfield,omitempty"`
	Notices        []notice.Notice `json:"notices"`
}

func (s *Service) Inline(ctx context.Context, req InlineRequest, onChunk func(string) error) (*InlineResult, error) {
	notes := &notice.List{}
	p, err := s.begin(ctx, notes)
	if err != nil {
		return nil, err
	}
	out, err := p.engine.RunInline(ctx, p.rules, req, onChunk)
	if err != nil {
		return nil, err
	}
	return &InlineResult{Result: out, TargetSubfield: req.TargetSubfield, Notices: notes.Items()}, nil
}

// StreamingEnabled reports whether the editor should use the streaming endpoint.
func (s *Service) StreamingEnabled() bool {
	cfg, err := s.cfgSvc.Get()
	return err == nil && cfg.PromptAI.Streaming
}

func (s *Service) InlinePrompts(ctx context.Context) (map[int]InlinePrompt, error) {
	p, err := s.begin(ctx, nil)
	if err != nil {
		return nil, err
	}
	return InlinePrompts(p.rules), nil
}

// FieldPrompts resolves a rendered input name and lists the inline rules for it.
func (s *Service) FieldPrompts(ctx context.Context, pageID, inputName string) ([]int, error) {
	page, err := s.store.Fetch(ctx, pageID)
	if err != nil {
		return nil, err
	}
	p, err := s.begin(ctx, nil)
	if err != nil {
		return nil, err
	}
	cat := p.engine.catalog
	def, ok := cat.FieldByName(ExtractFieldName(inputName))
	if !ok || def.Kind == KindUnsupported || cat.IsAdminTemplate(page.TemplateID()) {
		return []int{}, nil
	}
	return FieldPrompts(p.rules, page, def.ID), nil
}

func (s *Service) SubmitActions(ctx context.Context, pageID string) ([]SubmitAction, error) {
	page, err := s.store.Fetch(ctx, pageID)
	if err != nil {
		return nil, err
	}
	p, err := s.begin(ctx, nil)
	if err != nil {
		return nil, err
	}
	return p.engine.SubmitActions(ctx, page, p.rules, p.settings.IndividualButtons), nil
}

// CatalogOptions are the choices offered by the rule editor.
type CatalogOptions struct {
	Templates []Option `json:"templates"`
	Fields    []Option `json:"fields"`
}

func (s *Service) Options(ctx context.Context) (*CatalogOptions, error) {
	cat, err := s.catalogs.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return &CatalogOptions{Templates: cat.TemplateOptions(), Fields: cat.FieldOptions()}, nil
}

// ValidateMatrix parses a prompt matrix with reporting on.
func (s *Service) ValidateMatrix(ctx context.Context, raw string) ([]notice.Notice, error) {
	cat, err := s.catalogs.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	notes := &notice.List{}
	ParseRules(raw, cat, notes)
	return notes.Items(), nil
}

func (s *Service) PopNotices(ctx context.Context, userID string) ([]notice.Notice, error) {
	if s.flash == nil {
		return []notice.Notice{}, nil
	}
	return s.flash.Pop(ctx, userID)
}
