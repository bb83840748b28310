// Command seed-db populates the database with demo catalog entries, coupons,
// store settings, and a test session for local development.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/veleda/stemshop/internal/repository"
	"github.com/veleda/stemshop/internal/settings"
)

func main() {
	var (
		databaseURL  string
		fillerCount  int
		sessionToken string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&fillerCount, "filler-products", 20, "number of random filler products to generate")
	flag.StringVar(&sessionToken, "session-token", "", "plaintext session token to seed (or SHOP_SEED_TOKEN env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if sessionToken == "" {
		sessionToken = os.Getenv("SHOP_SEED_TOKEN")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, fillerCount, sessionToken); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string, fillerCount int, sessionToken string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, fillerCount); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedBooks(ctx, pool); err != nil {
		return errors.Wrap(err, "seed books")
	}
	if err := seedCoupons(ctx, pool); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := seedSettings(ctx, pool); err != nil {
		return errors.Wrap(err, "seed settings")
	}
	if sessionToken != "" {
		if err := seedSession(ctx, pool, sessionToken); err != nil {
			return errors.Wrap(err, "seed session")
		}
	}

	return nil
}

const upsertProductSQL = `INSERT INTO products (id, name, price, active, stock_quantity)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET name = $2, price = $3, active = $4, stock_quantity = $5`

type productSeed struct {
	id    string
	name  string
	price string
	stock int
}

// Fixed ids keep the seed idempotent across runs.
var demoProducts = []productSeed{
	{"0c20828e-3406-4c86-8bb0-0f39bbf2293f", "Snap Circuits Starter Kit", "34.99", 120},
	{"a57f1ea3-9c21-46e7-b46b-1b8b57096c63", "Hydraulic Robot Arm", "49.95", 45},
	{"50c2f173-1f64-40a2-9b08-6a931b83ecb8", "Crystal Growing Lab", "19.90", 200},
	{"3f9d93d4-60e6-44f8-9deb-d71c0286f360", "Solar Rover Kit", "27.50", 80},
	{"9d436e94-96fd-4357-8e4b-5b52a6350fcf", "Microscope Discovery Set", "89.00", 15},
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, fillerCount int) error {
	slog.Info("upserting demo products", slog.Int("count", len(demoProducts)))

	for _, p := range demoProducts {
		price, err := decimal.NewFromString(p.price)
		if err != nil {
			return errors.Wrapf(err, "parse price of %s", p.name)
		}
		if _, err := pool.Exec(ctx, upsertProductSQL, p.id, p.name, price, true, p.stock); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.id)
		}
	}

	if fillerCount > 0 {
		slog.Info("generating filler products", slog.Int("count", fillerCount))
		faker := gofakeit.New(0)
		for range fillerCount {
			id := uuid.New()
			name := faker.ProductName()
			price := decimal.NewFromFloat(faker.Price(5, 150)).Round(2)
			stock := faker.Number(0, 300)
			if _, err := pool.Exec(ctx, upsertProductSQL, id, name, price, true, stock); err != nil {
				return errors.Wrapf(err, "insert filler product %s", id)
			}
		}
	}

	return nil
}

const upsertBookSQL = `INSERT INTO books (id, title, price, active, languages)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET title = $2, price = $3, active = $4, languages = $5`

func seedBooks(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("upserting demo books")

	books := []struct {
		id        string
		title     string
		price     string
		languages []string
	}{
		{"16b95cbe-4b4e-4b9e-bd17-f1ad0e45485e", "The Young Engineer's Handbook", "12.99", []string{"en", "nl", "de"}},
		{"deb76e26-3701-4d7f-9d37-e97e0bb1e19c", "Experiments with Electricity", "9.50", []string{"en", "nl"}},
		{"6c9be2a4-ccb1-4bdd-91f2-ba232d3f2971", "Space: A First Atlas", "15.00", []string{"en"}},
	}

	for _, b := range books {
		price, err := decimal.NewFromString(b.price)
		if err != nil {
			return errors.Wrapf(err, "parse price of %s", b.title)
		}
		if _, err := pool.Exec(ctx, upsertBookSQL, b.id, b.title, price, true, b.languages); err != nil {
			return errors.Wrapf(err, "upsert book %s", b.id)
		}
	}
	return nil
}

const upsertCouponSQL = `INSERT INTO coupons
	(code, type, value, max_discount, min_order_value, expires_at, max_uses, max_uses_per_user, active)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
	ON CONFLICT (code) DO UPDATE SET type = $2, value = $3, max_discount = $4,
		min_order_value = $5, expires_at = $6, max_uses = $7, max_uses_per_user = $8, active = TRUE`

func seedCoupons(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo coupons")

	nextYear := time.Now().AddDate(1, 0, 0)
	coupons := []struct {
		code        string
		typ         string
		value       string
		maxDiscount string
		minOrder    string
		expiresAt   *time.Time
		maxUses     int
		perUser     int
	}{
		{"WELCOME10", "PERCENTAGE", "10", "20", "0", &nextYear, 0, 1},
		{"LABDAYS", "PERCENTAGE", "25", "50", "40", &nextYear, 500, 0},
		{"FIVER", "FIXED_AMOUNT", "5", "0", "15", nil, 0, 0},
	}

	for _, c := range coupons {
		value := decimal.RequireFromString(c.value)
		maxDiscount := decimal.RequireFromString(c.maxDiscount)
		minOrder := decimal.RequireFromString(c.minOrder)
		if _, err := pool.Exec(ctx, upsertCouponSQL,
			c.code, c.typ, value, maxDiscount, minOrder, c.expiresAt, c.maxUses, c.perUser,
		); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.code)
		}
		slog.Info("upserted coupon", slog.String("code", c.code))
	}
	return nil
}

const upsertSettingSQL = `INSERT INTO settings (key, value) VALUES ($1, $2)
	ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = now()`

func seedSettings(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding store settings")

	values := map[string]string{
		settings.KeyTaxRate:               "0.21",
		settings.KeyApplyTax:              "true",
		settings.KeyFreeShippingThreshold: "75",
		settings.KeyShippingMethodPrefix + "standard": "4.95",
		settings.KeyShippingMethodPrefix + "express":  "9.95",
	}

	for key, value := range values {
		if _, err := pool.Exec(ctx, upsertSettingSQL, key, value); err != nil {
			return errors.Wrapf(err, "upsert setting %s", key)
		}
	}
	return nil
}

const (
	upsertSeedUserSQL = `INSERT INTO users (email, is_guest) VALUES ($1, FALSE)
		ON CONFLICT (email) DO UPDATE SET is_guest = FALSE
		RETURNING id`

	upsertSessionSQL = `INSERT INTO sessions (token_hash, user_id, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET expires_at = $3`
)

// seedSession stores a session for the demo user. Only the SHA-256 of the
// token is persisted; the plaintext never reaches the database.
func seedSession(ctx context.Context, pool *pgxpool.Pool, token string) error {
	slog.Info("seeding demo session")

	var userID uuid.UUID
	if err := pool.QueryRow(ctx, upsertSeedUserSQL, "demo@example.com").Scan(&userID); err != nil {
		return errors.Wrap(err, "upsert demo user")
	}

	hash := sha256.Sum256([]byte(token))
	expires := time.Now().AddDate(0, 1, 0)
	if _, err := pool.Exec(ctx, upsertSessionSQL, hex.EncodeToString(hash[:]), userID, expires); err != nil {
		return errors.Wrap(err, "upsert session")
	}

	slog.Info("seeded session", slog.String("user", "demo@example.com"))
	return nil
}
