package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleStaff      Role = "staff"
	RoleAccountant Role = "accountant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleStaff, RoleAccountant:
		return true
	}
	return false
}

// Account is owned by the credential store. Sessions reference it by ID only.
type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Active       bool      `json:"active"`
	FirstLogin   bool      `json:"firstLogin"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
