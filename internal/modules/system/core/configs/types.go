package configs

import (
	"context"
	"errors"

	"github.com/mx-space/promptai/internal/pkg/notice"
)

const configKey = "configs"

var errUnknownOption = errors.New("unknown option key")

// MatrixValidator checks a stored prompt matrix and reports every problem.
type MatrixValidator interface {
	ValidateMatrix(ctx context.Context, raw string) ([]notice.Notice, error)
}
