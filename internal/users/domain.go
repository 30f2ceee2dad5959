package users

import (
	"errors"
	"time"
)

var (
	// ErrSelfRoleChange blocks principals from changing their own role.
	ErrSelfRoleChange = errors.New("users: cannot change own role")
	// ErrRoleAboveActor blocks granting or revoking a role above the actor's.
	ErrRoleAboveActor = errors.New("users: role outranks actor")
)

// User represents a user account for management.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	IsActive      bool      `json:"isActive"`
	EmailVerified bool      `json:"emailVerified"`
	Role          string    `json:"role"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type roleChangeRequest struct {
	Role string `json:"role" validate:"required,oneof=viewer moderator admin super_admin"`
}
