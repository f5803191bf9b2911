package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/config"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/database"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/registry"
)

const (
	exitOK            = 0
	exitManifestError = 1
	exitWeightsError  = 2
	exitStoreError    = 3
)

// model-sync walks the models root and writes one descriptor row per model
// into the database. Unlike the server's registry scan it is strict: any
// broken manifest or missing weight shard aborts the run.
func main() {
	modelsRoot := flag.String("models", "", "Models root directory (defaults to MODELS_ROOT)")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(exitStoreError)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load configuration", zap.Error(err))
		os.Exit(exitStoreError)
	}

	root := *modelsRoot
	if root == "" {
		root = cfg.Inference.ModelsRoot
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
		log.Error("Failed to connect to database", zap.Error(err))
		os.Exit(exitStoreError)
	}
	defer db.Close()

	entries, err := os.ReadDir(root)
	if err != nil {
		log.Error("Failed to read models root", zap.String("root", root), zap.Error(err))
		os.Exit(exitManifestError)
	}

	models := database.NewModelRepository(db)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	synced := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		dir := filepath.Join(root, id)

		manifest, err := registry.ParseManifest(filepath.Join(dir, "model.json"))
		if err != nil {
			log.Error("Invalid manifest", zap.String("model", id), zap.Error(err))
			os.Exit(exitManifestError)
		}

		desc, err := registry.DescriptorFromManifest(id, dir, manifest)
		if err != nil {
			log.Error("Missing weight shards", zap.String("model", id), zap.Error(err))
			os.Exit(exitWeightsError)
		}

		if err := models.Upsert(ctx, desc); err != nil {
			log.Error("Failed to write descriptor", zap.String("model", id), zap.Error(err))
			os.Exit(exitStoreError)
		}

		log.Info("Synced model",
			zap.String("model", id),
			zap.String("name", desc.Name),
			zap.String("version", desc.Version))
		synced++
	}

	log.Info("Model sync complete", zap.Int("models", synced))
	os.Exit(exitOK)
}
