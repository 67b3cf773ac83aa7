package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/propertyhub-dev/propertyhub/internal/models"
	"github.com/propertyhub-dev/propertyhub/internal/tasks"
)

// PurgeExpiredSessions deletes refresh sessions that expired or were revoked
// before cutoff. Live sessions are never touched.
func PurgeExpiredSessions(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at < ? OR (revoked_at IS NOT NULL AND revoked_at < ?)", cutoff, cutoff).
		Delete(&models.RefreshSession{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// HandlePurgeExpiredSessions is the asynq handler for tasks.TypePurgeExpiredSessions
func HandlePurgeExpiredSessions(ctx context.Context, t *asynq.Task, db *gorm.DB, logger zerolog.Logger) error {
	payload, err := tasks.ParsePurgeSessionsPayload(t)
	if err != nil {
		// Retrying cannot fix a malformed payload
		return fmt.Errorf("failed to parse payload: %w: %w", err, asynq.SkipRetry)
	}

	cutoff := time.Now().Add(-payload.Retention)
	deleted, err := PurgeExpiredSessions(ctx, db, cutoff)
	if err != nil {
		return err
	}

	logger.Info().
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Str("requested_by", payload.RequestedBy).
		Msg("Purged expired sessions")

	return nil
}
