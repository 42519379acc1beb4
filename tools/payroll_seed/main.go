package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
)

type config struct {
	dsn           string
	baseURL       string
	token         string
	tenantID      string
	companyPrefix string
	companyCount  int
	months        int
	prefetch      bool
	companyIDsOut string
}

// taxTypes mixes canonical names with the aliases seen in real payroll exports.
var taxTypes = []string{"paye", "Housing Levy", "nita", "nhif", "nssf"}

func main() {
	cfg := parseConfig()
	if cfg.dsn == "" {
		log.Fatal("PG_DSN or DATABASE_URL is required")
	}
	if cfg.companyCount <= 0 {
		log.Fatal("company-count must be > 0")
	}
	if cfg.months <= 0 {
		log.Fatal("months must be > 0")
	}

	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	companyIDs := buildCompanyIDs(cfg.companyPrefix, cfg.companyCount)
	cycleIDs, err := seedCycles(ctx, db, time.Now().UTC(), cfg.months)
	if err != nil {
		log.Fatalf("seed cycles: %v", err)
	}
	log.Printf("seeded payroll cycles: %d", len(cycleIDs))

	if err := seedCompanies(ctx, db, cfg.tenantID, companyIDs, cycleIDs); err != nil {
		log.Fatalf("seed companies: %v", err)
	}

	if cfg.companyIDsOut != "" {
		if err := writeLines(cfg.companyIDsOut, companyIDs); err != nil {
			log.Fatalf("write company ids: %v", err)
		}
		log.Printf("company ids written to %s", cfg.companyIDsOut)
	}

	if cfg.prefetch {
		if cfg.baseURL == "" {
			log.Fatal("base-url is required when prefetch is enabled")
		}
		if err := requestPrefetch(ctx, cfg.baseURL, cfg.token, companyIDs); err != nil {
			log.Fatalf("prefetch: %v", err)
		}
		log.Printf("prefetch requested for %d companies", len(companyIDs))
	}

	log.Printf("payroll seed completed")
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN")
	flag.StringVar(&cfg.baseURL, "base-url", envOrDefault("BASE_URL", ""), "API base URL for prefetch")
	flag.StringVar(&cfg.token, "token", envOrDefault("API_TOKEN", ""), "bearer token with operator role")
	flag.StringVar(&cfg.tenantID, "tenant-id", envOrDefault("TENANT_ID", "tenant-demo"), "tenant owning the seeded companies")
	flag.StringVar(&cfg.companyPrefix, "company-prefix", envOrDefault("COMPANY_PREFIX", "company-seed-"), "company id prefix")
	flag.IntVar(&cfg.companyCount, "company-count", envOrInt("COMPANY_COUNT", 10), "number of companies to seed")
	flag.IntVar(&cfg.months, "months", envOrInt("MONTHS", 18), "number of monthly payroll cycles to seed")
	flag.BoolVar(&cfg.prefetch, "prefetch", envOrBool("PREFETCH", false), "request a cache prefetch via the API")
	flag.StringVar(&cfg.companyIDsOut, "company-ids-out", envOrDefault("COMPANY_IDS_OUT", ""), "output file for company ids")
	flag.Parse()
	return cfg
}

func buildCompanyIDs(prefix string, count int) []string {
	list := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		list = append(list, fmt.Sprintf("%s%04d", prefix, i))
	}
	return list
}

// seedCycles creates one cycle per month going back from now. Month labels
// alternate between the formats payroll clerks actually type.
func seedCycles(ctx context.Context, db *sql.DB, now time.Time, months int) ([]string, error) {
	const insertSQL = `
INSERT INTO payroll_cycles (id, month_year, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET month_year = EXCLUDED.month_year, created_at = EXCLUDED.created_at`

	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	ids := make([]string, 0, months)
	for i := 0; i < months; i++ {
		month := first.AddDate(0, -i, 0)
		id := "cycle-" + month.Format("2006-01")
		label := month.Format("2006-01")
		if i%2 == 1 {
			label = month.Format("January 2006")
		}
		if _, err := db.ExecContext(ctx, insertSQL, id, label, month.AddDate(0, 0, 27)); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func seedCompanies(ctx context.Context, db *sql.DB, tenantID string, companyIDs, cycleIDs []string) error {
	const paymentSQL = `
INSERT INTO company_tax_payments (company_id, payroll_cycle_id, tax_type, amount, payment_date, status, bank, pay_mode)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	for idx, companyID := range companyIDs {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO companies (id, tenant_id, name) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id`, companyID, tenantID, "Seed Company "+strconv.Itoa(idx+1)); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM company_tax_payments WHERE company_id = $1`, companyID); err != nil {
			_ = tx.Rollback()
			return err
		}
		stmt, err := tx.PrepareContext(ctx, paymentSQL)
		if err != nil {
			_ = tx.Rollback()
			return err
		}

		base := decimal.NewFromInt(int64((idx%10)+1) * 1000)
		for c, cycleID := range cycleIDs {
			for k, taxType := range taxTypes {
				amount := base.Mul(decimal.NewFromInt(int64(k + 1))).Add(decimal.NewFromInt(int64(c)))
				paid := time.Now().UTC().AddDate(0, -c, -5).Format("2006-01-02")
				if _, err := stmt.ExecContext(ctx, companyID, cycleID, taxType, formatAmount(amount, c), paid, "paid", "KCB", "EFT"); err != nil {
					_ = stmt.Close()
					_ = tx.Rollback()
					return err
				}
			}
		}
		if err := stmt.Close(); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Printf("seeded company %s (%d/%d)", companyID, idx+1, len(companyIDs))
	}
	return nil
}

// formatAmount varies the textual amount format across cycles.
func formatAmount(amount decimal.Decimal, cycle int) string {
	switch cycle % 3 {
	case 1:
		return "KES " + amount.StringFixed(2)
	case 2:
		return amount.StringFixed(0)
	default:
		return amount.String()
	}
}

func requestPrefetch(ctx context.Context, baseURL, token string, companyIDs []string) error {
	client := &http.Client{Timeout: 30 * time.Second}
	payload, err := json.Marshal(map[string]any{"company_ids": companyIDs})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/v1/tax-report-cache/prefetch", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("prefetch request failed: http %d", resp.StatusCode)
	}
	return nil
}

func writeLines(path string, lines []string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envOrBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch raw {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
