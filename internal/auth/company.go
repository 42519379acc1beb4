package auth

import (
	"context"
)

// CompanyTenantChecker validates company ownership.
type CompanyTenantChecker interface {
	EnsureCompanyTenant(ctx context.Context, tenantID, companyID string) error
}

// CompanyLookup resolves the tenant owning a company.
type CompanyLookup interface {
	TenantOf(ctx context.Context, companyID string) (string, bool, error)
}

// CompanyChecker checks company ownership against the companies table.
type CompanyChecker struct {
	lookup CompanyLookup
}

// NewCompanyChecker constructs a CompanyChecker. A nil lookup disables checks.
func NewCompanyChecker(lookup CompanyLookup) *CompanyChecker {
	if lookup == nil {
		return nil
	}
	return &CompanyChecker{lookup: lookup}
}

// EnsureCompanyTenant verifies the company belongs to the tenant.
func (c *CompanyChecker) EnsureCompanyTenant(ctx context.Context, tenantID, companyID string) error {
	if c == nil || c.lookup == nil {
		return nil
	}
	if tenantID == "" || companyID == "" {
		return nil
	}
	owner, ok, err := c.lookup.TenantOf(ctx, companyID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCompanyNotFound
	}
	if owner != tenantID {
		return ErrCompanyMismatch
	}
	return nil
}
