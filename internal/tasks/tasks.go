package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task type constants
const (
	// Deletes refresh sessions that expired or were revoked long enough ago
	TypePurgeExpiredSessions = "session:purge_expired"
)

// PurgeSessionsPayload carries the purge cut-off
type PurgeSessionsPayload struct {
	// Sessions that stopped being usable before now minus Retention are removed
	Retention time.Duration `json:"retention"`
	// RequestedBy is the admin user ID for on-demand purges, empty when scheduled
	RequestedBy string `json:"requested_by,omitempty"`
}

// NewPurgeExpiredSessionsTask creates a task that removes dead refresh sessions
func NewPurgeExpiredSessionsTask(retention time.Duration, requestedBy string) (*asynq.Task, error) {
	if retention < 0 {
		return nil, fmt.Errorf("retention must not be negative: %s", retention)
	}
	payload, err := json.Marshal(PurgeSessionsPayload{
		Retention:   retention,
		RequestedBy: requestedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypePurgeExpiredSessions, payload), nil
}

// ParsePurgeSessionsPayload parses task payload from Asynq task
func ParsePurgeSessionsPayload(task *asynq.Task) (PurgeSessionsPayload, error) {
	var payload PurgeSessionsPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return payload, nil
}
