package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// Role is the server-assigned classification of an account.
// The set is closed: anything else coming off the wire is not a Role.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

// Roles lists every valid role in privilege order
var Roles = []Role{RoleUser, RoleAgent, RoleAdmin}

// ParseRole converts a wire value into a Role. Unknown values report false.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser, RoleAgent, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

// Valid reports whether r is one of the three known roles
func (r Role) Valid() bool {
	_, ok := ParseRole(string(r))
	return ok
}

func (r Role) String() string {
	return string(r)
}

// SelfAssignable reports whether a new account may request this role at registration
func (r Role) SelfAssignable() bool {
	return r == RoleUser || r == RoleAgent
}

// BaseModel provides common fields and auto-generated ULID for all models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// User represents a listing site account
type User struct {
	BaseModel
	Email        string    `json:"email" gorm:"unique;not null"`
	PasswordHash string    `json:"-" gorm:"not null"`
	Name         string    `json:"name" gorm:"not null"`
	Phone        string    `json:"phone,omitempty"`
	Role         Role      `json:"role" gorm:"type:varchar(16);not null;default:user"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// RefreshSession is the server half of a login. The client holds the raw
// refresh token; only its SHA-256 hash is stored here.
// Every refresh rotates the token inside the same family.
type RefreshSession struct {
	BaseModel
	UserID    string     `json:"user_id" gorm:"index;not null"`
	FamilyID  string     `json:"family_id" gorm:"index;not null"`
	TokenHash string     `json:"-" gorm:"uniqueIndex;type:varchar(64);not null"`
	ExpiresAt time.Time  `json:"expires_at" gorm:"index;not null"`
	RevokedAt *time.Time `json:"revoked_at"`

	User *User `json:"user,omitempty" gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE"`
}

// Active reports whether the session can still be exchanged for an access token
func (s *RefreshSession) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	models := []interface{}{
		&User{}, &RefreshSession{},
	}

	return db.AutoMigrate(models...)
}

// FindByID safely finds a record by string ID
func FindByID[T any](db *gorm.DB, id string, model *T) error {
	return db.Where("id = ?", id).First(model).Error
}
