package taxreport

import (
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// MonthsPerYear is the fixed number of entries held per company per year.
const MonthsPerYear = 12

// MonthCodes are the three-letter month codes in calendar order.
var MonthCodes = [MonthsPerYear]string{
	"JAN", "FEB", "MAR", "APR", "MAY", "JUN",
	"JUL", "AUG", "SEP", "OCT", "NOV", "DEC",
}

// TaxKind identifies one of the statutory payroll taxes.
type TaxKind string

const (
	TaxPAYE        TaxKind = "paye"
	TaxHousingLevy TaxKind = "housing_levy"
	TaxNITA        TaxKind = "nita"
	TaxSHIF        TaxKind = "shif"
	TaxNSSF        TaxKind = "nssf"
)

// TaxKinds lists every tax kind in report column order.
var TaxKinds = []TaxKind{TaxPAYE, TaxHousingLevy, TaxNITA, TaxSHIF, TaxNSSF}

// Label returns the display name of the tax kind.
func (k TaxKind) Label() string {
	switch k {
	case TaxPAYE:
		return "PAYE"
	case TaxHousingLevy:
		return "Housing Levy"
	case TaxNITA:
		return "NITA"
	case TaxSHIF:
		return "SHIF"
	case TaxNSSF:
		return "NSSF"
	default:
		return string(k)
	}
}

// TaxRecord is the payment state of one tax kind for one month.
type TaxRecord struct {
	Amount  decimal.Decimal `json:"amount"`
	Date    *Date           `json:"date,omitempty"`
	Status  string          `json:"status,omitempty"`
	Bank    string          `json:"bank,omitempty"`
	PayMode string          `json:"pay_mode,omitempty"`
}

// TaxEntry holds one calendar month of tax figures for a company.
type TaxEntry struct {
	Month       string    `json:"month"`
	PAYE        TaxRecord `json:"paye"`
	HousingLevy TaxRecord `json:"housing_levy"`
	NITA        TaxRecord `json:"nita"`
	SHIF        TaxRecord `json:"shif"`
	NSSF        TaxRecord `json:"nssf"`
}

// Record returns the record slot for a tax kind.
func (e *TaxEntry) Record(kind TaxKind) (*TaxRecord, error) {
	switch kind {
	case TaxPAYE:
		return &e.PAYE, nil
	case TaxHousingLevy:
		return &e.HousingLevy, nil
	case TaxNITA:
		return &e.NITA, nil
	case TaxSHIF:
		return &e.SHIF, nil
	case TaxNSSF:
		return &e.NSSF, nil
	default:
		return nil, ErrUnknownTaxKind
	}
}

// NewYear returns twelve zero-filled entries, JAN through DEC.
func NewYear() []TaxEntry {
	entries := make([]TaxEntry, MonthsPerYear)
	for i := range entries {
		entries[i] = TaxEntry{
			Month:       MonthCodes[i],
			PAYE:        TaxRecord{Amount: decimal.Zero},
			HousingLevy: TaxRecord{Amount: decimal.Zero},
			NITA:        TaxRecord{Amount: decimal.Zero},
			SHIF:        TaxRecord{Amount: decimal.Zero},
			NSSF:        TaxRecord{Amount: decimal.Zero},
		}
	}
	return entries
}

// Report maps a four digit year to its twelve monthly entries.
type Report map[string][]TaxEntry

// YearKey formats a year as a report key.
func YearKey(year int) string {
	return strconv.Itoa(year)
}

// Placeholder returns a zero-filled report covering the current and previous year.
func Placeholder(now time.Time) Report {
	report := Report{}
	report.Ensure(YearKey(now.Year()))
	report.Ensure(YearKey(now.Year() - 1))
	return report
}

// Ensure adds a zero-filled year when it is missing and returns its entries.
func (r Report) Ensure(year string) []TaxEntry {
	entries, ok := r[year]
	if !ok || len(entries) != MonthsPerYear {
		entries = NewYear()
		r[year] = entries
	}
	return entries
}

// Years returns the report years in ascending order.
func (r Report) Years() []string {
	years := make([]string, 0, len(r))
	for year := range r {
		years = append(years, year)
	}
	sort.Strings(years)
	return years
}

// Clone returns a deep copy of the report.
func (r Report) Clone() Report {
	if r == nil {
		return nil
	}
	out := make(Report, len(r))
	for year, entries := range r {
		copied := make([]TaxEntry, len(entries))
		copy(copied, entries)
		for i := range copied {
			for _, kind := range TaxKinds {
				rec, _ := copied[i].Record(kind)
				if rec.Date != nil {
					d := *rec.Date
					rec.Date = &d
				}
			}
		}
		out[year] = copied
	}
	return out
}

// Validate checks that every year key is numeric and holds twelve entries.
func (r Report) Validate() error {
	for year, entries := range r {
		if _, err := strconv.Atoi(year); err != nil || len(year) != 4 {
			return ErrInvalidYear
		}
		if len(entries) != MonthsPerYear {
			return ErrInvalidYear
		}
	}
	return nil
}

// Total sums one tax kind across a year.
func (r Report) Total(year string, kind TaxKind) decimal.Decimal {
	total := decimal.Zero
	for i := range r[year] {
		rec, err := r[year][i].Record(kind)
		if err != nil {
			return decimal.Zero
		}
		total = total.Add(rec.Amount)
	}
	return total
}
