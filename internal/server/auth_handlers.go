package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/propertyhub-dev/propertyhub/internal/auth"
	"github.com/propertyhub-dev/propertyhub/internal/models"
)

// RegisterRequest represents a sign-up request
type RegisterRequest struct {
	Name     string `json:"name" binding:"required,max=100"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Phone    string `json:"phone" binding:"omitempty,e164"`
	Role     string `json:"role" validate:"omitempty,selfrole"`
}

// LoginRequest represents a login request. Identifier is an email or phone number.
type LoginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

// AuthResponse is returned by register and login
type AuthResponse struct {
	AccessToken string      `json:"accessToken"`
	User        *UserDetail `json:"user"`
}

// RefreshResponse is returned by refresh
type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// UserDetail represents user information returned in responses
type UserDetail struct {
	ID        string      `json:"id"`
	Email     string      `json:"email"`
	Name      string      `json:"name"`
	Phone     string      `json:"phone,omitempty"`
	Role      models.Role `json:"role"`
	CreatedAt time.Time   `json:"created_at"`
}

func newUserDetail(user *models.User) *UserDetail {
	return &UserDetail{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Phone:     user.Phone,
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
	}
}

// @Summary Register
// @Description Create an account and sign it in. Only user and agent may be requested.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Register request"
// @Success 201 {object} AuthResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /auth/register [post]
func (s *Server) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validator.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Role must be user or agent"})
		return
	}

	role := models.RoleUser
	if req.Role != "" {
		role = models.Role(req.Role)
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var count int64
	if err := s.db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to check existing user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
		return
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	user := &models.User{
		Email:        email,
		PasswordHash: passwordHash,
		Name:         strings.TrimSpace(req.Name),
		Phone:        req.Phone,
		Role:         role,
	}

	var refreshToken string
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		var err error
		refreshToken, err = s.issueRefreshSession(tx, user.ID, "")
		return err
	})
	if isUniqueViolation(err) {
		// A concurrent registration won between the check and the insert
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	s.completeSignIn(c, http.StatusCreated, user, refreshToken)
	s.logger.Info().Str("user_id", user.ID).Str("role", string(user.Role)).Msg("User registered")
}

// @Summary Login
// @Description Authenticate with email or phone and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{}
// @Failure 429 {object} map[string]interface{}
// @Router /auth/login [post]
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	allowed, err := s.loginLimiter.Allow(c.Request.Context(), c.ClientIP())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Login rate limiter unavailable")
	}
	if !allowed {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many login attempts, try again later"})
		return
	}

	identifier := strings.TrimSpace(req.Identifier)

	var user models.User
	err = s.db.Where("email = ? OR (phone <> '' AND phone = ?)", strings.ToLower(identifier), identifier).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to find user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := auth.VerifyPassword(req.Password, user.PasswordHash); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	refreshToken, err := s.issueRefreshSession(s.db, user.ID, "")
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to start session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start session"})
		return
	}

	s.completeSignIn(c, http.StatusOK, &user, refreshToken)
	s.logger.Info().Str("user_id", user.ID).Msg("User logged in")
}

func (s *Server) completeSignIn(c *gin.Context, status int, user *models.User, refreshToken string) {
	token, err := s.tokens.GenerateToken(user)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	s.setRefreshCookie(c, refreshToken)
	respondWithData(c, status, AuthResponse{
		AccessToken: token,
		User:        newUserDetail(user),
	})
}

// @Summary Logout
// @Description Revoke the refresh session carried by the cookie. Always succeeds.
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /auth/logout [post]
func (s *Server) logout(c *gin.Context) {
	if token, err := c.Cookie(auth.RefreshCookieName); err == nil && token != "" {
		if err := s.revokeRefreshToken(token); err != nil {
			s.logger.Error().Err(err).Msg("Failed to revoke refresh session")
		}
	}

	s.clearRefreshCookie(c)
	respondWithData(c, http.StatusOK, gin.H{})
}

// @Summary Refresh
// @Description Exchange the refresh cookie for a new access token and a rotated cookie
// @Tags auth
// @Produce json
// @Success 200 {object} RefreshResponse
// @Failure 401 {object} map[string]interface{}
// @Router /auth/refresh [post]
func (s *Server) refresh(c *gin.Context) {
	token, err := c.Cookie(auth.RefreshCookieName)
	if err != nil || token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing refresh token"})
		return
	}

	user, next, err := s.rotateRefreshSession(token)
	if err != nil {
		switch {
		case errors.Is(err, ErrRefreshUnknown), errors.Is(err, ErrRefreshExpired), errors.Is(err, ErrRefreshReused):
			s.clearRefreshCookie(c)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Session expired"})
		default:
			s.logger.Error().Err(err).Msg("Failed to rotate refresh session")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	access, err := s.tokens.GenerateToken(user)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	s.setRefreshCookie(c, next)
	respondWithData(c, http.StatusOK, RefreshResponse{AccessToken: access})
}

// @Summary Get current user
// @Description Get the authoritative profile of the authenticated user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{}
// @Router /auth/me [get]
func (s *Server) getCurrentUser(c *gin.Context) {
	sessionData, exists := GetSessionData(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var user models.User
	if err := models.FindByID(s.db, sessionData.UserID, &user); err != nil {
		s.logger.Error().Err(err).Str("user_id", sessionData.UserID).Msg("Failed to find user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	respondWithData(c, http.StatusOK, gin.H{"user": newUserDetail(&user)})
}

// isUniqueViolation reports whether err came from a unique index rejecting
// an insert. The sqlite driver only translates it when TranslateError is set.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}
