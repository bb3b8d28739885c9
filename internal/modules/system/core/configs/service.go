package configs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/mx-space/promptai/internal/config"
	"github.com/mx-space/promptai/internal/models"
	"github.com/mx-space/promptai/internal/pkg/notice"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service manages the persisted FullConfig.
type Service struct {
	db        *gorm.DB
	validator MatrixValidator
	logger    *zap.Logger
	mu        sync.RWMutex
	cfg       *config.FullConfig
}

func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, logger: logger}
}

// SetValidator installs the prompt matrix check run on every prompt_ai update.
func (s *Service) SetValidator(v MatrixValidator) {
	s.validator = v
}

// Get returns the current config, loading from DB if not cached.
func (s *Service) Get() (*config.FullConfig, error) {
	s.mu.RLock()
	if s.cfg != nil {
		defer s.mu.RUnlock()
		return s.cfg, nil
	}
	s.mu.RUnlock()

	return s.load()
}

func (s *Service) load() (*config.FullConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var opt models.OptionModel
	err := s.db.Where("name = ?", configKey).First(&opt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		defaults := config.DefaultFullConfig()
		s.cfg = &defaults
		if err := s.persist(&defaults); err != nil {
			s.logger.Warn("persist default config failed", zap.Error(err))
		}
		return s.cfg, nil
	}
	if err != nil {
		return nil, err
	}

	cfg := config.DefaultFullConfig()
	if err := json.Unmarshal([]byte(opt.Value), &cfg); err != nil {
		return nil, err
	}
	s.cfg = &cfg
	return s.cfg, nil
}

// Patch merges the given partial JSON update into the current config and
// persists it. A changed prompt matrix is saved even when it has errors; the
// problems come back as notices.
func (s *Service) Patch(ctx context.Context, partial map[string]json.RawMessage) (*config.FullConfig, []notice.Notice, error) {
	current, err := s.Get()
	if err != nil {
		return nil, nil, err
	}

	currentJSON, err := json.Marshal(current)
	if err != nil {
		return nil, nil, err
	}
	merged := map[string]interface{}{}
	if err := json.Unmarshal(currentJSON, &merged); err != nil {
		return nil, nil, err
	}

	for k, v := range partial {
		if len(strings.TrimSpace(string(v))) == 0 {
			continue
		}
		var incoming interface{}
		if err := json.Unmarshal(v, &incoming); err != nil {
			return nil, nil, err
		}
		incoming = normalizeConfigSection(k, incoming)
		if existing, ok := merged[k]; ok {
			merged[k] = deepMergeJSON(existing, incoming)
			continue
		}
		merged[k] = incoming
	}

	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, nil, err
	}

	updated := config.DefaultFullConfig()
	if err := json.Unmarshal(mergedJSON, &updated); err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(updated.PromptAI.PromptMatrix) == "" {
		updated.PromptAI.PromptMatrix = "[]"
	}

	notes := &notice.List{}
	_, promptTouched := partial["prompt_ai"]
	if promptTouched {
		s.checkPromptAI(ctx, &updated, notes)
	}

	if err := s.persist(&updated); err != nil {
		return nil, nil, err
	}
	if promptTouched && notes.Count(notice.LevelError) == 0 {
		notes.Message("Prompt configuration saved successfully!")
	}
	s.mu.Lock()
	s.cfg = &updated
	s.mu.Unlock()

	return &updated, notes.Items(), nil
}

func (s *Service) checkPromptAI(ctx context.Context, cfg *config.FullConfig, notes *notice.List) {
	if s.validator != nil {
		items, err := s.validator.ValidateMatrix(ctx, cfg.PromptAI.PromptMatrix)
		if err != nil {
			s.logger.Warn("validate prompt matrix failed", zap.Error(err))
			notes.Warning("Prompt configuration could not be checked: %v", err)
		}
		for _, item := range items {
			notes.Error("%s", item.Text)
		}
	}
	if strings.TrimSpace(cfg.PromptAI.PromptMatrix) != "[]" && !hasEnabledAIProvider(cfg.AI.Providers) {
		notes.Warning("No AI provider is enabled. Prompts will not run until one is.")
	}
}

func (s *Service) persist(cfg *config.FullConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	opt := models.OptionModel{Name: configKey, Value: string(data)}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&opt).Error
}

// Invalidate clears the in-memory config cache, forcing a DB reload on next Get.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = nil
}
