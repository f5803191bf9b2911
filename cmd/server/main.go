package main

import (
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/api"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/config"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/database"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/diagnosis"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/inference"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/registry"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/storage"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	db, err := database.NewDB(database.Config{
		Type:       cfg.Database.Type,
		Host:       cfg.Database.Host,
		Port:       cfg.Database.Port,
		User:       cfg.Database.User,
		Password:   cfg.Database.Password,
		Name:       cfg.Database.Name,
		SQLitePath: cfg.Database.SQLitePath,
	})
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "./migrations"
	}
	if err := database.NewMigrator(db, log).Run(migrationsPath); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	var store storage.Storage
	switch cfg.Storage.Type {
	case "s3":
		store, err = storage.NewObjectStorage(storage.ObjectStorageConfig{
			Endpoint:  cfg.Storage.S3Endpoint,
			AccessKey: cfg.Storage.S3AccessKey,
			SecretKey: cfg.Storage.S3SecretKey,
			UseSSL:    cfg.Storage.S3UseSSL,
			Bucket:    cfg.Storage.S3Bucket,
			MaxBytes:  cfg.Storage.MaxUploadBytes,
		})
	default:
		store, err = storage.NewLocalStorage(cfg.Storage.UploadsDir, cfg.Storage.MaxUploadBytes)
	}
	if err != nil {
		log.Fatal("Failed to initialize storage", zap.Error(err))
	}

	recordRepo := database.NewRecordRepository(db)
	imageRepo := database.NewImageRepository(db)
	modelRepo := database.NewModelRepository(db)

	reg := registry.New(cfg.Inference.ModelsRoot, modelRepo, log)
	n, err := reg.Scan()
	if err != nil {
		log.Fatal("Failed to scan model registry", zap.Error(err))
	}
	log.Info("Model registry loaded", zap.Int("models", n))

	engine, err := inference.NewEngine(inference.NewDenseBackend(), cfg.Inference.CacheCapacity, log)
	if err != nil {
		log.Fatal("Failed to initialize inference engine", zap.Error(err))
	}

	pool := inference.NewPool(cfg.Inference.WorkerPoolSize)
	defer pool.Close()

	service := diagnosis.NewService(store, imageRepo, recordRepo, reg, engine,
		pool, cfg.Inference.Timeout, cfg.Inference.MaxImagesPerRec, log)

	app := &api.App{
		Service:       service,
		Records:       recordRepo,
		Registry:      reg,
		Log:           log,
		MaxUploadSize: cfg.Storage.MaxUploadBytes,
		MaxImages:     cfg.Inference.MaxImagesPerRec,
	}

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	log.Info("Server starting",
		zap.String("addr", addr),
		zap.String("storage", cfg.Storage.Type),
		zap.String("database", cfg.Database.Type),
		zap.String("models_root", cfg.Inference.ModelsRoot),
		zap.Int("worker_pool", cfg.Inference.WorkerPoolSize))

	if err := http.ListenAndServe(addr, api.NewRouter(app)); err != nil {
		log.Fatal("Server stopped", zap.Error(err))
	}
}
