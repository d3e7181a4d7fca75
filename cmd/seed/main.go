package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"marketescrow/internal/config"
	"marketescrow/internal/db"
	"marketescrow/internal/model"
	"marketescrow/internal/repository"
)

// SeedUser is one demo account.
type SeedUser struct {
	Email       string
	Name        string
	Role        model.Role
	CountryCode string
	AuraPoints  int
}

var demoUsers = []SeedUser{
	{Email: "admin@marketescrow.local", Name: "Platform Admin", Role: model.RoleAdmin, CountryCode: "US"},
	{Email: "client.us@marketescrow.local", Name: "Dana Client", Role: model.RoleClient, CountryCode: "US", AuraPoints: 120},
	{Email: "client.ar@marketescrow.local", Name: "Lucia Cliente", Role: model.RoleClient, CountryCode: "AR", AuraPoints: 80},
	{Email: "provider.bronze@marketescrow.local", Name: "Bram Tiles", Role: model.RoleProvider, CountryCode: "US", AuraPoints: 150},
	{Email: "provider.silver@marketescrow.local", Name: "Sol Plumbing", Role: model.RoleProvider, CountryCode: "BR", AuraPoints: 900},
	{Email: "provider.gold@marketescrow.local", Name: "Goldie Electric", Role: model.RoleProvider, CountryCode: "US", AuraPoints: 2600},
}

func main() {
	log.Println("Starting seed script...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	gormDB, err := db.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("Connected to database")

	if err := db.Migrate(gormDB, cfg.ResetDB); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	password := os.Getenv("SEED_PASSWORD")
	if password == "" {
		password = "password123"
	}

	store := repository.NewStore(gormDB)
	ctx := context.Background()
	created, skipped, err := seedUsers(ctx, store.Users(), demoUsers, password)
	if err != nil {
		log.Fatalf("Failed to seed users: %v", err)
	}

	log.Printf("Seed completed successfully!")
	log.Printf("  - New users created: %d", created)
	log.Printf("  - Existing users skipped: %d", skipped)
}

// seedUsers creates every user whose email is not taken yet.
func seedUsers(ctx context.Context, repo repository.UserRepository, users []SeedUser, password string) (created, skipped int, err error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, 0, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()

	for _, u := range users {
		existing, err := repo.FindByEmail(ctx, u.Email)
		if err != nil && !stderrors.Is(err, gorm.ErrRecordNotFound) {
			return created, skipped, fmt.Errorf("error checking user %s: %w", u.Email, err)
		}
		if existing != nil {
			skipped++
			continue
		}
		user := &model.User{
			ID:             uuid.New(),
			Email:          u.Email,
			Name:           u.Name,
			PasswordHash:   string(hash),
			Role:           u.Role,
			CountryCode:    u.CountryCode,
			AuraPoints:     u.AuraPoints,
			Active:         true,
			LastActivityAt: now,
		}
		if err := repo.Create(ctx, user); err != nil {
			return created, skipped, fmt.Errorf("error creating user %s: %w", u.Email, err)
		}
		log.Printf("  + %s (%s)", u.Email, u.Role)
		created++
	}
	return created, skipped, nil
}
