package promptai

import (
	"context"
	"errors"
	"time"

	"github.com/mx-space/promptai/internal/modules/processing/ai"
	"github.com/mx-space/promptai/internal/pkg/notice"
	"go.uber.org/zap"
)

var (
	ErrRuleNotFound    = errors.New("prompt configuration not found")
	ErrRuleNotRelevant = errors.New("prompt configuration does not apply to this page")
	ErrRuleWrongMode   = errors.New("prompt configuration has the wrong mode")
	ErrEmptyPrompt     = errors.New("prompt is empty")
	ErrFileNotFound    = errors.New("file not found")
)

const (
	defaultThrottle      = 5 * time.Second
	defaultImageMaxWidth = 800
)

type Options struct {
	Throttle          time.Duration
	ImageMaxWidth     int
	ExtendedDocuments bool
	Now               func() time.Time
}

// Deps are the collaborators of one dispatch pass.
type Deps struct {
	Catalog *Catalog
	Store   Store
	// Client may be nil when no provider is configured; ClientErr then says why.
	Client    ai.Client
	ClientErr error
	Notes     *notice.List
	Logger    *zap.Logger
}

// Engine resolves and runs prompt rules against one entity. It is built for a
// single pass and is not safe for concurrent use.
type Engine struct {
	catalog   *Catalog
	store     Store
	client    ai.Client
	clientErr error
	notes     *notice.List
	logger    *zap.Logger
	opts      Options

	fresh map[string]Entity
}

func NewEngine(deps Deps, opts Options) *Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Notes == nil {
		deps.Notes = &notice.List{}
	}
	if deps.Catalog == nil {
		deps.Catalog = NewCatalog(DefaultFieldTypes(), nil, nil)
	}
	if opts.ImageMaxWidth <= 0 {
		opts.ImageMaxWidth = defaultImageMaxWidth
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Client == nil && deps.ClientErr == nil {
		deps.ClientErr = ai.ErrNoProvider
	}
	return &Engine{
		catalog:   deps.Catalog,
		store:     deps.Store,
		client:    deps.Client,
		clientErr: deps.ClientErr,
		notes:     deps.Notes,
		logger:    deps.Logger,
		opts:      opts,
		fresh:     map[string]Entity{},
	}
}

func (e *Engine) Notes() *notice.List { return e.notes }

// freshCopy re-reads an entity once per pass.
func (e *Engine) freshCopy(ctx context.Context, entity Entity) (Entity, error) {
	if f, ok := e.fresh[entity.ID()]; ok {
		return f, nil
	}
	f, err := e.store.Fetch(ctx, entity.ID())
	if err != nil {
		return nil, err
	}
	e.fresh[entity.ID()] = f
	return f, nil
}

type callInfo struct {
	ruleIndex int
	field     string
	entityID  string
}

func (e *Engine) chat(ctx context.Context, msg ai.Message, info callInfo) (string, error) {
	if e.client == nil {
		return "", e.clientErr
	}
	start := time.Now()
	out, err := e.client.Chat(ctx, msg)
	e.logCall(info, start, err)
	return out, err
}

func (e *Engine) stream(ctx context.Context, msg ai.Message, info callInfo, onChunk func(string) error) (string, error) {
	if e.client == nil {
		return "", e.clientErr
	}
	start := time.Now()
	out, err := e.client.Stream(ctx, msg, onChunk)
	e.logCall(info, start, err)
	return out, err
}

func (e *Engine) logCall(info callInfo, start time.Time, err error) {
	fields := []zap.Field{
		zap.Int("rule", info.ruleIndex),
		zap.String("field", info.field),
		zap.String("page", info.entityID),
		zap.Duration("took", time.Since(start)),
	}
	if err != nil && !errors.Is(err, ai.ErrEmptyResponse) {
		e.logger.Warn("AI request failed", append(fields, zap.Error(err))...)
		return
	}
	e.logger.Info("AI request", fields...)
}
