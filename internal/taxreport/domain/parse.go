package taxreport

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseAmount extracts a monetary value from free-form text such as
// "Ksh 1,234.50". Everything except digits, the decimal point and the minus
// sign is dropped; a point or minus is only kept next to a digit. Values that
// still fail to parse yield zero.
func ParseAmount(raw string) decimal.Decimal {
	runes := []rune(strings.TrimSpace(raw))
	var b strings.Builder
	for i, r := range runes {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.':
			if digitAt(runes, i-1) || digitAt(runes, i+1) {
				b.WriteRune(r)
			}
		case r == '-':
			if digitAt(runes, i+1) || (i+1 < len(runes) && runes[i+1] == '.' && digitAt(runes, i+2)) {
				b.WriteRune(r)
			}
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return decimal.Zero
	}
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return amount
}

func digitAt(runes []rune, i int) bool {
	return i >= 0 && i < len(runes) && unicode.IsDigit(runes[i])
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05-07",
	"02/01/2006",
}

// ParseDate parses a payment date. Unparseable or empty input yields nil.
func ParseDate(raw string) *Date {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		parsed, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		day := NewDate(parsed)
		return &day
	}
	return nil
}

var monthNames = map[string]time.Month{}

func init() {
	for m := time.January; m <= time.December; m++ {
		monthNames[strings.ToLower(m.String())] = m
		monthNames[strings.ToLower(m.String()[:3])] = m
	}
	monthNames["sept"] = time.September
}

// ParseMonthYear reads a payroll cycle month_year label. Accepted forms are
// "2024-01", "01/2024", "January 2024", "Jan 2024" and "JAN-2024".
func ParseMonthYear(value string) (int, time.Month, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, 0, ErrInvalidMonthYear
	}
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ' ' || r == '-' || r == '/' || r == ','
	})
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidMonthYear, value)
	}

	first, second := fields[0], fields[1]
	if year, err := strconv.Atoi(first); err == nil && len(first) == 4 {
		month, err := strconv.Atoi(second)
		if err != nil || month < 1 || month > 12 {
			return 0, 0, fmt.Errorf("%w: %q", ErrInvalidMonthYear, value)
		}
		return year, time.Month(month), nil
	}

	year, err := strconv.Atoi(second)
	if err != nil || len(second) != 4 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidMonthYear, value)
	}
	if month, err := strconv.Atoi(first); err == nil {
		if month < 1 || month > 12 {
			return 0, 0, fmt.Errorf("%w: %q", ErrInvalidMonthYear, value)
		}
		return year, time.Month(month), nil
	}
	month, ok := monthNames[strings.ToLower(first)]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidMonthYear, value)
	}
	return year, month, nil
}

var fieldKinds = map[string]TaxKind{
	"paye":                    TaxPAYE,
	"housing_levy":            TaxHousingLevy,
	"ahl":                     TaxHousingLevy,
	"affordable_housing_levy": TaxHousingLevy,
	"nita":                    TaxNITA,
	"shif":                    TaxSHIF,
	"sha":                     TaxSHIF,
	"nhif":                    TaxSHIF,
	"nssf":                    TaxNSSF,
}

// KindForField maps a raw backend tax field name to its tax kind.
func KindForField(name string) (TaxKind, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	kind, ok := fieldKinds[key]
	return kind, ok
}
