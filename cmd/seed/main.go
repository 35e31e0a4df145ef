// Package main loads sample users, stores and ratings into the configured
// database. Running it twice leaves the data unchanged; -reset drops every
// table first.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/store_rating/internal/app"
	"github.com/R3E-Network/store_rating/internal/app/domain/store"
	"github.com/R3E-Network/store_rating/internal/app/services/accounts"
	"github.com/R3E-Network/store_rating/internal/app/services/stores"
	"github.com/R3E-Network/store_rating/internal/app/storage/postgres"
	"github.com/R3E-Network/store_rating/internal/config"
	"github.com/R3E-Network/store_rating/internal/errors"
	"github.com/R3E-Network/store_rating/internal/platform/migrations"
	"github.com/R3E-Network/store_rating/pkg/logger"
)

const samplePassword = "Admin123!"

var sampleUsers = []accounts.UserInput{
	{Name: "System Administrator Account", Email: "admin@storerating.com", Address: "1 Admin Plaza", Role: "admin"},
	{Name: "John Smith Store Owner Account", Email: "owner1@storerating.com", Address: "12 Market Street", Role: "store_owner"},
	{Name: "Sarah Johnson Store Owner Account", Email: "owner2@storerating.com", Address: "48 High Street", Role: "store_owner"},
	{Name: "Michael Brown Regular Customer", Email: "user1@storerating.com", Address: "7 Oak Avenue", Role: "normal"},
	{Name: "Emily Davis Regular Customer User", Email: "user2@storerating.com", Address: "19 Pine Road", Role: "normal"},
}

type sampleStore struct {
	input stores.StoreInput
	owner string
}

var sampleStores = []sampleStore{
	{stores.StoreInput{Name: "Downtown Coffee Roasters", Email: "coffee@storerating.com", Address: "100 Main Street"}, "owner1@storerating.com"},
	{stores.StoreInput{Name: "Riverside Books and Gifts", Email: "books@storerating.com", Address: "22 River Walk"}, "owner2@storerating.com"},
	{stores.StoreInput{Name: "Neighbourhood Fresh Market", Email: "market@storerating.com", Address: "5 Station Square"}, ""},
}

type sampleRating struct {
	user   string
	store  string
	value  int
	review string
}

var sampleRatings = []sampleRating{
	{"user1@storerating.com", "coffee@storerating.com", 5, "Best espresso in town"},
	{"user2@storerating.com", "coffee@storerating.com", 4, ""},
	{"user1@storerating.com", "books@storerating.com", 3, "Good selection, slow checkout"},
	{"user2@storerating.com", "market@storerating.com", 4, "Fresh produce"},
}

func main() {
	envFile := flag.String("env", ".env", "Optional .env file")
	reset := flag.Bool("reset", false, "Revert all migrations before seeding")
	flag.Parse()
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: load env (%s): %v", *envFile, err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Database.DSN == "" {
		log.Fatalf("DATABASE_URL is required to seed")
	}
	if *reset {
		if err := migrations.Down(cfg.Database.DSN); err != nil {
			log.Fatalf("reset: %v", err)
		}
		log.Printf("Dropped existing schema")
	}
	if err := migrations.Up(cfg.Database.DSN); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	db, err := sqlx.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	pg := postgres.New(db)
	application, err := app.New(app.Stores{Users: pg, Stores: pg, Ratings: pg, Health: pg}, app.Options{
		JWTSecret:  []byte(cfg.Auth.JWTSecret),
		BcryptCost: cfg.Auth.BcryptCost,
	}, logger.New(cfg.Logging.Logger()).Named("seed"))
	if err != nil {
		log.Fatalf("build application: %v", err)
	}

	ctx := context.Background()
	if err := seed(ctx, application); err != nil {
		log.Fatalf("seed: %v", err)
	}
	log.Printf("Seed complete. Sample accounts use password %s", samplePassword)
}

func seed(ctx context.Context, a *app.Application) error {
	ids := make(map[string]int64, len(sampleUsers))
	for _, in := range sampleUsers {
		in.Password = samplePassword
		u, err := a.Accounts.CreateUser(ctx, in)
		if errors.IsKind(err, errors.KindDuplicate) {
			existing, lookupErr := a.Accounts.Login(ctx, in.Email, samplePassword)
			if lookupErr != nil {
				log.Printf("Skipping %s: already exists with a different password", in.Email)
				continue
			}
			ids[in.Email] = existing.User.ID
			continue
		}
		if err != nil {
			return err
		}
		ids[in.Email] = u.ID
		log.Printf("Created %s user %s", u.Role, u.Email)
	}

	storeIDs := make(map[string]int64, len(sampleStores))
	existing, err := a.Stores.List(ctx, store.Filter{})
	if err != nil {
		return err
	}
	for _, st := range existing {
		storeIDs[st.Email] = st.ID
	}
	for _, s := range sampleStores {
		if _, ok := storeIDs[s.input.Email]; ok {
			continue
		}
		var owner *int64
		if id, ok := ids[s.owner]; ok {
			owner = &id
		}
		created, err := a.Stores.AdminCreate(ctx, s.input, owner)
		if err != nil {
			return err
		}
		storeIDs[created.Email] = created.ID
		log.Printf("Created store %s", created.Name)
	}

	for _, r := range sampleRatings {
		userID, okUser := ids[r.user]
		storeID, okStore := storeIDs[r.store]
		if !okUser || !okStore {
			continue
		}
		if _, err := a.Ratings.Submit(ctx, userID, storeID, r.value, r.review); err != nil {
			return err
		}
	}
	return nil
}
