package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"github.com/propertyhub-dev/propertyhub/internal/models"
	"github.com/propertyhub-dev/propertyhub/internal/tasks"
)

const purgeUniqueTTL = 10 * time.Minute

// UpdateRoleRequest assigns a role to an account
type UpdateRoleRequest struct {
	Role string `json:"role" binding:"required" validate:"role"`
}

// @Summary List users
// @Description List all users (admin only)
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{}
// @Failure 403 {object} map[string]interface{}
// @Router /admin/users [get]
func (s *Server) listUsers(c *gin.Context) {
	query := s.db.Order("created_at DESC")
	if role := c.Query("role"); role != "" {
		if _, ok := models.ParseRole(role); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown role"})
			return
		}
		query = query.Where("role = ?", role)
	}

	var users []models.User
	if err := query.Find(&users).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to list users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	userDetails := make([]*UserDetail, len(users))
	for i := range users {
		userDetails[i] = newUserDetail(&users[i])
	}

	respondWithData(c, http.StatusOK, gin.H{"users": userDetails})
}

// @Summary Update user role
// @Description Assign user, agent or admin to an account (admin only, not self)
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Param request body UpdateRoleRequest true "Role"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /admin/users/{id}/role [patch]
func (s *Server) updateUserRole(c *gin.Context) {
	userID := c.Param("id")
	sessionData, _ := GetSessionData(c)

	var req UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validator.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown role"})
		return
	}

	// An admin demoting themselves could leave nobody able to manage roles
	if userID == sessionData.UserID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot change your own role"})
		return
	}

	var user models.User
	if err := models.FindByID(s.db, userID, &user); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to find user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	previous := user.Role
	user.Role = models.Role(req.Role)
	if err := s.db.Model(&user).Update("role", user.Role).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to update role")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update role"})
		return
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Str("from", string(previous)).
		Str("to", string(user.Role)).
		Str("changed_by", sessionData.UserID).
		Msg("User role changed")

	respondWithData(c, http.StatusOK, gin.H{"user": newUserDetail(&user)})
}

// @Summary Delete user
// @Description Delete a user and their sessions (admin only, cannot delete self)
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 204
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /admin/users/{id} [delete]
func (s *Server) deleteUser(c *gin.Context) {
	userID := c.Param("id")

	sessionData, _ := GetSessionData(c)

	// Prevent deleting self
	if userID == sessionData.UserID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot delete yourself"})
		return
	}

	var user models.User
	if err := models.FindByID(s.db, userID, &user); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to find user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.RefreshSession{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to delete user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete user"})
		return
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("deleted_by", sessionData.UserID).
		Msg("User deleted")

	c.Status(http.StatusNoContent)
}

// @Summary Purge sessions
// @Description Queue removal of expired and revoked refresh sessions (admin only)
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 202 {object} map[string]interface{}
// @Router /admin/sessions/purge [post]
func (s *Server) purgeSessions(c *gin.Context) {
	sessionData, _ := GetSessionData(c)

	task, err := tasks.NewPurgeExpiredSessionsTask(s.config.Worker.PurgeRetention, sessionData.UserID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create purge task")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue purge"})
		return
	}

	info, err := s.enqueuer.Enqueue(task, asynq.MaxRetry(3), asynq.Unique(purgeUniqueTTL))
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			c.JSON(http.StatusConflict, gin.H{"error": "A purge is already queued"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to enqueue purge task")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to queue purge"})
		return
	}

	s.logger.Info().Str("task_id", info.ID).Str("requested_by", sessionData.UserID).Msg("Session purge queued")
	respondWithData(c, http.StatusAccepted, gin.H{"task_id": info.ID})
}
