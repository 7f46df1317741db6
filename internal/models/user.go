package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin UserRole = "ADMIN"
	RoleBrand UserRole = "BRAND"
	RoleKOL   UserRole = "KOL"
	RoleUser  UserRole = "USER"
)

// User is a read-only view of an account in the directory.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	Username     string     `db:"username" json:"username"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"fullName"`
	CompanyName  *string    `db:"company_name" json:"companyName,omitempty"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"lastLogin,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
}

// DisplayName prefers the company name for brands, then the full name.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.CompanyName != nil && *u.CompanyName != "" {
		return *u.CompanyName
	}
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalCount int `json:"totalCount"`
}
