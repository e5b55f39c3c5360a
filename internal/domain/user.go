package domain

import (
	"time"
)

// Role separates shopper accounts from console operators.
type Role string

const (
	// RoleCustomer is a regular shopper account.
	RoleCustomer Role = "customer"
	// RoleAdmin may mutate the catalog and manage every order.
	RoleAdmin Role = "admin"
)

// Valid reports whether the role is a known account role.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAdmin
}

// User is a store account. PasswordHash is a bcrypt digest and never leaves
// the repository layer.
type User struct {
	ID           string
	Email        string
	Name         string
	Phone        string
	Role         Role
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
