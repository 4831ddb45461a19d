package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"sealtrack/auth"
	"sealtrack/config"
	"sealtrack/db"
	"sealtrack/events"
	"sealtrack/logging"
	"sealtrack/models"
	"sealtrack/settings"
)

// seedPassword is set on every seeded account. Change it after the first sign-in.
const seedPassword = "ChangeMe123"

type seeder struct {
	stations   *db.Collection[models.Station]
	users      *db.Collection[models.User]
	identities auth.IdentityProvider
	settings   *settings.Service
	log        zerolog.Logger
}

func main() {
	// Load environment variables
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logging)
	if envErr != nil {
		log.Warn().Msg("No .env file found, using system environment variables")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if !cfg.UseFirestore() {
		log.Fatal().Msg("Seeding needs the firestore store backend (SEALTRACK_STORE_BACKEND=firestore)")
	}

	ctx := context.Background()
	app, err := db.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Firebase")
	}
	store, err := db.NewFirestoreStore(ctx, app, cfg.Store.TransactionAttempts, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Firestore")
	}
	defer store.Close()

	s := &seeder{
		stations: db.NewCollection[models.Station](store, models.CollectionStations, db.Order{Field: "lastActive", Desc: true}, log),
		users:    db.NewCollection[models.User](store, models.CollectionUsers, db.Order{Field: "name"}, log),
		settings: settings.NewService(store, log),
		log:      log,
	}
	if cfg.UseFirebaseAuth() {
		s.identities, err = auth.NewFirebaseIdentity(ctx, app, cfg.Firebase.WebAPIKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Firebase Auth")
		}
	} else {
		jwt := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiration, cfg.JWT.RefreshTokenExpiration)
		s.identities = auth.NewLocalIdentity(store, jwt, events.NewLogPublisher(log, cfg.IsDevelopment()), auth.BcryptCost, log)
	}

	log.Info().Msg("🌱 Starting database seeding...")

	stationIDs, err := s.seedStations(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to seed stations")
	}
	if err := s.seedUsers(ctx, stationIDs); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed users")
	}
	if _, err := s.settings.UpdateOrganization(ctx, map[string]interface{}{
		"name":         "SealTrack",
		"contactEmail": "admin@sealtrack.local",
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed organization settings")
	}

	log.Info().Msg("✅ Database seeding completed successfully!")
}

// seedStations creates the stations that do not exist yet and returns all
// seeded station ids by name.
func (s *seeder) seedStations(ctx context.Context) (map[string]string, error) {
	stations := []models.Station{
		{Name: "Central Store", Type: models.StationMain, Location: models.Location{Address: "Main Depot"}},
		{Name: "North Terminal", Type: models.StationSub, Location: models.Location{Address: "North Yard"}},
		{Name: "South Terminal", Type: models.StationSub, Location: models.Location{Address: "South Yard"}},
		{Name: "Field Unit 1", Type: models.StationMobile},
	}

	ids := make(map[string]string, len(stations))
	for i := range stations {
		station := stations[i]
		existing, err := s.stations.Find(ctx, "name", station.Name, 1)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			ids[station.Name] = existing[0].ID
			s.log.Info().Str("station", station.Name).Msg("  • Station exists")
			continue
		}

		station.Status = models.StationActive
		station.LastActive = time.Now().UTC()
		id, err := s.stations.Create(ctx, &station)
		if err != nil {
			return nil, fmt.Errorf("failed to create station %s: %w", station.Name, err)
		}
		ids[station.Name] = id
		s.log.Info().Str("station", station.Name).Msg("  ✓ Created station")
	}
	return ids, nil
}

func (s *seeder) seedUsers(ctx context.Context, stationIDs map[string]string) error {
	users := []struct {
		user    models.User
		station string
	}{
		{user: models.User{Email: "admin@sealtrack.local", Name: "Administrator", Role: models.RoleAdmin}},
		{user: models.User{Email: "store@sealtrack.local", Name: "Central Store Manager", Role: models.RoleMainStoreManager}, station: "Central Store"},
		{user: models.User{Email: "north@sealtrack.local", Name: "North Station Manager", Role: models.RoleStationManager}, station: "North Terminal"},
		{user: models.User{Email: "south@sealtrack.local", Name: "South Sub-Station Manager", Role: models.RoleSubStationManager}, station: "South Terminal"},
	}

	for _, u := range users {
		user := u.user
		uid, err := s.identities.CreateIdentity(ctx, user.Email, seedPassword, user.Name)
		if errors.Is(err, auth.ErrEmailExists) {
			s.log.Info().Str("email", user.Email).Msg("  • User exists")
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to create identity for %s: %w", user.Email, err)
		}

		now := time.Now().UTC()
		user.StationID = stationIDs[u.station]
		user.CreatedAt = now
		user.LastActive = now
		if err := s.users.Put(ctx, uid, &user); err != nil {
			return fmt.Errorf("failed to create user %s: %w", user.Email, err)
		}

		if user.StationID != "" && user.Role != models.RoleSubStationManager {
			err := s.stations.Update(ctx, user.StationID, map[string]interface{}{
				"manager": models.Manager{ID: uid, Name: user.Name, Email: user.Email},
			})
			if err != nil {
				return fmt.Errorf("failed to assign manager for %s: %w", u.station, err)
			}
		}
		s.log.Info().Str("email", user.Email).Str("role", string(user.Role)).Msg("  ✓ Created user")
	}
	return nil
}
