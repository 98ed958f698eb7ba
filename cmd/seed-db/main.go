package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/hospitality-core/internal/domain/auth"
	"github.com/xenking/hospitality-core/internal/domain/catalog"
	"github.com/xenking/hospitality-core/internal/handler"
	"github.com/xenking/hospitality-core/internal/repository"
)

type menuItemJSON struct {
	ID              string          `json:"id"`
	ModuleID        string          `json:"moduleId"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	IsAvailable     bool            `json:"isAvailable"`
	PrepTimeMinutes int             `json:"prepTimeMinutes"`
}

type staffJSON struct {
	ID       string    `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"fullName"`
	Role     auth.Role `json:"role"`
}

type options struct {
	databaseURL string
	menuFile    string
	staffFile   string
	jwtSecret   string
	tokenTTL    time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.menuFile, "menu-file", "db/seed/menu.json", "path to menu items JSON file")
	flag.StringVar(&opts.staffFile, "staff-file", "db/seed/staff.json", "path to staff JSON file")
	flag.StringVar(&opts.jwtSecret, "jwt-secret", "", "print development bearer tokens signed with this secret (or HOSP_JWT_SECRET env)")
	flag.DurationVar(&opts.tokenTTL, "token-ttl", 12*time.Hour, "lifetime of printed development tokens")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}
	if opts.jwtSecret == "" {
		opts.jwtSecret = os.Getenv("HOSP_JWT_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	lg.Info("Connecting to database")

	pool, err := repository.NewPool(ctx, opts.databaseURL, 2)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	db := repository.NewDB(pool, 30*time.Second)

	if err := seedMenu(ctx, lg, repository.NewMenuItemRepository(db), opts.menuFile); err != nil {
		return errors.Wrap(err, "seed menu")
	}
	staff, err := seedStaff(ctx, lg, repository.NewUserRepository(db), opts.staffFile)
	if err != nil {
		return errors.Wrap(err, "seed staff")
	}

	if opts.jwtSecret != "" {
		return printTokens(lg, handler.NewAuthenticator([]byte(opts.jwtSecret)), staff, opts.tokenTTL)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read file")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}
	return nil
}

func seedMenu(ctx context.Context, lg *zap.Logger, repo *repository.MenuItemRepository, path string) error {
	lg.Info("Reading menu file", zap.String("path", path))

	var raw []menuItemJSON
	if err := readJSON(path, &raw); err != nil {
		return err
	}
	items := make([]catalog.MenuItem, len(raw))
	for i, m := range raw {
		items[i] = catalog.MenuItem{
			ID:              m.ID,
			ModuleID:        m.ModuleID,
			Name:            m.Name,
			Price:           m.Price,
			IsAvailable:     m.IsAvailable,
			PrepTimeMinutes: m.PrepTimeMinutes,
		}
	}
	if err := repo.Upsert(ctx, items); err != nil {
		return err
	}
	lg.Info("Upserted menu items", zap.Int("count", len(items)))
	return nil
}

func seedStaff(ctx context.Context, lg *zap.Logger, repo *repository.UserRepository, path string) ([]repository.User, error) {
	lg.Info("Reading staff file", zap.String("path", path))

	var raw []staffJSON
	if err := readJSON(path, &raw); err != nil {
		return nil, err
	}
	users := make([]repository.User, len(raw))
	for i, u := range raw {
		if !u.Role.Valid() {
			return nil, errors.Errorf("staff %s: unknown role %q", u.Email, u.Role)
		}
		users[i] = repository.User{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: u.Role}
	}
	if err := repo.Upsert(ctx, users); err != nil {
		return nil, err
	}
	lg.Info("Upserted staff", zap.Int("count", len(users)))
	return users, nil
}

func printTokens(lg *zap.Logger, authn *handler.Authenticator, users []repository.User, ttl time.Duration) error {
	for _, u := range users {
		token, err := authn.Sign(auth.Principal{UserID: u.ID, Name: u.FullName, Role: u.Role}, ttl)
		if err != nil {
			return errors.Wrapf(err, "sign token for %s", u.Email)
		}
		lg.Info("Development token",
			zap.String("email", u.Email),
			zap.String("role", string(u.Role)),
			zap.String("token", token),
		)
	}
	return nil
}
