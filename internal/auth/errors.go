package auth

import "errors"

var (
	// ErrCompanyMismatch indicates the company belongs to a different tenant.
	ErrCompanyMismatch = errors.New("auth: company belongs to another tenant")
	// ErrCompanyNotFound indicates the company does not exist.
	ErrCompanyNotFound = errors.New("auth: company not found")
)
