package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/propertyhub-dev/propertyhub/internal/auth"
	"github.com/propertyhub-dev/propertyhub/internal/models"
)

const refreshCookiePath = "/auth"

var (
	ErrRefreshUnknown = errors.New("unknown refresh token")
	ErrRefreshExpired = errors.New("refresh token expired")
	ErrRefreshReused  = errors.New("refresh token reused")
)

// issueRefreshSession stores a new refresh session. An empty familyID starts a new family.
func (s *Server) issueRefreshSession(tx *gorm.DB, userID, familyID string) (string, error) {
	token, hash, err := auth.NewRefreshToken()
	if err != nil {
		return "", err
	}
	if familyID == "" {
		familyID = uuid.NewString()
	}

	session := &models.RefreshSession{
		UserID:    userID,
		FamilyID:  familyID,
		TokenHash: hash,
		ExpiresAt: s.now().Add(s.config.Auth.RefreshTTL),
	}
	if err := tx.Create(session).Error; err != nil {
		return "", fmt.Errorf("failed to create refresh session: %w", err)
	}
	return token, nil
}

// rotateRefreshSession exchanges a refresh token for a successor in the same
// family. Presenting an already rotated token revokes the whole family.
func (s *Server) rotateRefreshSession(token string) (*models.User, string, error) {
	now := s.now()

	var session models.RefreshSession
	err := s.db.Preload("User").Where("token_hash = ?", auth.HashRefreshToken(token)).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrRefreshUnknown
		}
		return nil, "", err
	}

	if session.RevokedAt != nil {
		if err := s.revokeFamily(s.db, session.FamilyID); err != nil {
			return nil, "", err
		}
		s.logger.Warn().
			Str("user_id", session.UserID).
			Str("family_id", session.FamilyID).
			Msg("Refresh token reuse detected, family revoked")
		return nil, "", ErrRefreshReused
	}
	if !session.Active(now) || session.User == nil {
		return nil, "", ErrRefreshExpired
	}

	var next string
	err = s.db.Transaction(func(tx *gorm.DB) error {
		// Conditional so two concurrent rotations cannot both succeed
		res := tx.Model(&models.RefreshSession{}).
			Where("id = ? AND revoked_at IS NULL", session.ID).
			Update("revoked_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrRefreshReused
		}

		var err error
		next, err = s.issueRefreshSession(tx, session.UserID, session.FamilyID)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return session.User, next, nil
}

// revokeRefreshToken ends the family the token belongs to. Unknown tokens are ignored.
func (s *Server) revokeRefreshToken(token string) error {
	var session models.RefreshSession
	err := s.db.Where("token_hash = ?", auth.HashRefreshToken(token)).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.revokeFamily(s.db, session.FamilyID)
}

func (s *Server) revokeFamily(tx *gorm.DB, familyID string) error {
	return tx.Model(&models.RefreshSession{}).
		Where("family_id = ? AND revoked_at IS NULL", familyID).
		Update("revoked_at", s.now()).Error
}

func (s *Server) setRefreshCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.RefreshCookieName, token, int(s.config.Auth.RefreshTTL/time.Second),
		refreshCookiePath, "", s.config.Auth.SecureCookies, true)
}

func (s *Server) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.RefreshCookieName, "", -1, refreshCookiePath, "", s.config.Auth.SecureCookies, true)
}
