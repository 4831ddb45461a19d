// main.go
// SealTrack API - seal custody tracking across stations

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"sealtrack/audit"
	"sealtrack/auth"
	"sealtrack/config"
	"sealtrack/dashboard"
	"sealtrack/db"
	"sealtrack/directory"
	"sealtrack/events"
	"sealtrack/export"
	"sealtrack/handlers"
	"sealtrack/lifecycle"
	"sealtrack/logging"
	"sealtrack/metrics"
	"sealtrack/middleware"
	"sealtrack/models"
	"sealtrack/scheduler"
	"sealtrack/settings"
)

// activityLogLimit caps the admin activity feed.
const activityLogLimit = 100

// collections are the typed views shared by the services.
type collections struct {
	seals    *db.Collection[models.Seal]
	stations *db.Collection[models.Station]
	users    *db.Collection[models.User]
	logs     *db.Collection[models.ActivityLog]
}

func newCollections(store db.Store, log zerolog.Logger) collections {
	return collections{
		seals:    db.NewCollection[models.Seal](store, models.CollectionSeals, db.Order{Field: "lastUpdated", Desc: true}, log),
		stations: db.NewCollection[models.Station](store, models.CollectionStations, db.Order{Field: "lastActive", Desc: true}, log),
		users:    db.NewCollection[models.User](store, models.CollectionUsers, db.Order{Field: "name"}, log),
		logs:     db.NewCollection[models.ActivityLog](store, models.CollectionLogs, db.Order{Field: "timestamp", Desc: true, Limit: activityLogLimit}, log),
	}
}

func main() {
	// Load environment variables
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logging)
	if envErr != nil {
		log.Warn().Msg("⚠️  No .env file found, using system environment variables")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("❌ Invalid configuration")
	}

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Str("store", cfg.Store.Backend).
		Str("auth_mode", cfg.Firebase.AuthMode).
		Msg("🚀 Starting SealTrack API Server")

	ctx := context.Background()
	metrics.Register()

	var app *firebase.App
	if cfg.UseFirestore() || cfg.UseFirebaseAuth() {
		app, err = db.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsPath)
		if err != nil {
			log.Fatal().Err(err).Msg("❌ Failed to initialize Firebase")
		}
	}

	var store db.Store
	if cfg.UseFirestore() {
		store, err = db.NewFirestoreStore(ctx, app, cfg.Store.TransactionAttempts, logging.Component(log, "firestore"))
		if err != nil {
			log.Fatal().Err(err).Msg("❌ Failed to initialize Firestore")
		}
	} else {
		log.Warn().Msg("⚠️  Using in-memory store, data is lost on restart")
		store = db.NewMemoryStore()
	}
	defer store.Close()
	cols := newCollections(store, log)

	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiration, cfg.JWT.RefreshTokenExpiration)
	log.Info().Dur("expiration", cfg.JWT.Expiration).Msg("🔐 JWT Manager initialized")

	var publisher events.Publisher = events.NewLogPublisher(logging.Component(log, "events"), cfg.IsDevelopment())
	if cfg.PubSub.Enabled {
		ps, err := events.NewPubSubPublisher(ctx, cfg.Firebase.ProjectID, cfg.PubSub.Topic)
		if err != nil {
			log.Fatal().Err(err).Msg("❌ Failed to initialize Pub/Sub")
		}
		defer ps.Close()
		publisher = ps
		log.Info().Str("topic", cfg.PubSub.Topic).Msg("📣 Pub/Sub notifications enabled")
	}

	var identities auth.IdentityProvider
	if cfg.UseFirebaseAuth() {
		identities, err = auth.NewFirebaseIdentity(ctx, app, cfg.Firebase.WebAPIKey)
		if err != nil {
			log.Fatal().Err(err).Msg("❌ Failed to initialize Firebase Auth")
		}
	} else {
		identities = auth.NewLocalIdentity(store, jwtManager, publisher, auth.BcryptCost, logging.Component(log, "identity"))
	}

	authService := auth.NewService(identities, cols.users, cols.stations, jwtManager, logging.Component(log, "auth"))
	recorder := audit.NewRecorder(cols.logs, nil, logging.Component(log, "audit"))
	settingsService := settings.NewService(store, logging.Component(log, "settings"))
	notifier := events.NewNotifier(publisher, settingsService.NotificationsEnabled, logging.Component(log, "notifier"))
	engine := lifecycle.NewEngine(cols.seals, cols.stations, recorder, logging.Component(log, "lifecycle"), lifecycle.WithNotifier(notifier))
	dir := directory.New(cols.stations, cols.users, authService, recorder, nil, logging.Component(log, "directory"))

	var geocoder directory.Geocoder
	if cfg.Maps.APIKey != "" {
		g, err := directory.NewGoogleGeocoder(cfg.Maps.APIKey)
		if err != nil {
			log.Fatal().Err(err).Msg("❌ Failed to initialize geocoder")
		}
		geocoder = g
		log.Info().Msg("🗺️  Reverse geocoding enabled")
	}

	var uploader export.Uploader
	if cfg.Export.Bucket != "" {
		gcs, err := export.NewGCSUploader(ctx, cfg.Export.Bucket, cfg.Export.URLExpiry, cfg.Firebase.CredentialsPath)
		if err != nil {
			log.Fatal().Err(err).Msg("❌ Failed to initialize export bucket")
		}
		defer gcs.Close()
		uploader = gcs
		log.Info().Str("bucket", cfg.Export.Bucket).Msg("📦 Exports are uploaded to Cloud Storage")
	}
	exporter := export.NewExporter(engine, uploader, recorder, nil, logging.Component(log, "export"))
	aggregator := dashboard.NewAggregator(cols.seals, cols.stations, cols.users, nil, logging.Component(log, "dashboard"))
	log.Info().Msg("✅ Services initialized")

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	if err := rateLimiter.TrustProxies(cfg.RateLimit.TrustedProxies); err != nil {
		log.Fatal().Err(err).Msg("❌ Invalid trusted proxies")
	}
	log.Info().
		Int("requests", cfg.RateLimit.Requests).
		Dur("window", cfg.RateLimit.Window).
		Strs("trusted_proxies", cfg.RateLimit.TrustedProxies).
		Msg("🛡️  Rate limiter initialized")

	jobs := scheduler.New(cols.seals, cols.stations, rateLimiter, cfg.Scheduler.ReconcileSpec, logging.Component(log, "scheduler"))
	if err := jobs.Start(); err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to start scheduler")
	}

	router := &handlers.Router{
		JWT:         jwtManager,
		RateLimiter: rateLimiter,
		CORSOrigins: cfg.CORS.AllowedOrigins,
		Log:         logging.Component(log, "http"),
		Auth:        handlers.NewAuthHandler(authService, log),
		Seals:       handlers.NewSealHandler(engine, log),
		Directory:   handlers.NewDirectoryHandler(dir, geocoder, log),
		Admin:       handlers.NewAdminHandler(recorder, settingsService, exporter, log),
		Dashboard:   handlers.NewDashboardHandler(aggregator, middleware.OriginAllowed(cfg.CORS.AllowedOrigins), log),
	}

	// Create server. No WriteTimeout: the live dashboard keeps connections open.
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("✅ Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("❌ Server failed to start")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("🛑 Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("❌ Server forced to shutdown")
	}
	jobs.Stop(shutdownCtx)

	log.Info().Msg("✅ Server stopped gracefully")
}
