package postgres

import (
	"context"
	"database/sql"
	"errors"
)

// CompanyRepository reads company ownership.
type CompanyRepository struct {
	db DBTX
}

// NewCompanyRepository constructs a repository.
func NewCompanyRepository(db DBTX) *CompanyRepository {
	return &CompanyRepository{db: db}
}

// TenantOf returns the tenant owning the company; ok is false when the
// company does not exist.
func (r *CompanyRepository) TenantOf(ctx context.Context, companyID string) (string, bool, error) {
	if r == nil || r.db == nil {
		return "", false, errors.New("company repo: nil db")
	}
	if companyID == "" {
		return "", false, errors.New("company repo: empty id")
	}
	var tenantID string
	err := r.db.QueryRowContext(ctx, `SELECT tenant_id FROM companies WHERE id = $1`, companyID).Scan(&tenantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return tenantID, true, nil
}
