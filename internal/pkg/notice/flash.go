package notice

import (
	"context"
	"encoding/json"
	"time"

	redisc "github.com/mx-space/promptai/internal/pkg/redis"
)

const (
	flashKeyPrefix = "promptai:notices:"
	flashTTL       = 10 * time.Minute
)

// FlashStore keeps notices per user until the editor reads them.
type FlashStore struct {
	rc *redisc.Client
}

func NewFlashStore(rc *redisc.Client) *FlashStore {
	return &FlashStore{rc: rc}
}

// Push appends notices for a user.
func (s *FlashStore) Push(ctx context.Context, userID string, items []Notice) error {
	if len(items) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		values = append(values, string(data))
	}
	return s.rc.Append(ctx, flashKeyPrefix+userID, flashTTL, values...)
}

// Pop returns and clears the pending notices of a user.
func (s *FlashStore) Pop(ctx context.Context, userID string) ([]Notice, error) {
	raw, err := s.rc.Drain(ctx, flashKeyPrefix+userID)
	if err != nil {
		return nil, err
	}
	out := make([]Notice, 0, len(raw))
	for _, r := range raw {
		var n Notice
		if err := json.Unmarshal([]byte(r), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
