package taxreport

import "errors"

var (
	// ErrEmptyCompanyID is returned when a company id is empty.
	ErrEmptyCompanyID = errors.New("taxreport: empty company id")
	// ErrInvalidMonthYear is returned when a month_year value cannot be parsed.
	ErrInvalidMonthYear = errors.New("taxreport: invalid month_year")
	// ErrUnknownTaxKind is returned for tax type names outside the field table.
	ErrUnknownTaxKind = errors.New("taxreport: unknown tax kind")
	// ErrInvalidYear is returned when a year key is not a four digit year.
	ErrInvalidYear = errors.New("taxreport: invalid year")
)
