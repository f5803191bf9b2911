package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Inference InferenceConfig
}

type ServerConfig struct {
	Host string
	Port string
}

type DatabaseConfig struct {
	Type       string
	Host       string
	Port       int
	User       string
	Password   string
	Name       string
	SQLitePath string
}

type StorageConfig struct {
	Type           string
	UploadsDir     string
	MaxUploadBytes int64
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UseSSL       bool
	S3Bucket       string
}

type InferenceConfig struct {
	ModelsRoot      string
	Timeout         time.Duration
	CacheCapacity   int
	WorkerPoolSize  int
	MaxImagesPerRec int
}

func Load() (*Config, error) {
	viper.SetDefault("SERVER_HOST", "")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DB_TYPE", "sqlite")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", 5432)
	viper.SetDefault("DB_USER", "healthcare")
	viper.SetDefault("DB_PASSWORD", "healthcare_dev")
	viper.SetDefault("DB_NAME", "healthcare")
	viper.SetDefault("DB_PATH", "./healthcare.db")
	viper.SetDefault("STORAGE_TYPE", "local")
	viper.SetDefault("UPLOADS_DIR", "./uploads")
	viper.SetDefault("MAX_UPLOAD_BYTES", 10485760)
	viper.SetDefault("S3_ENDPOINT", "localhost:9000")
	viper.SetDefault("S3_ACCESS_KEY_ID", "minioadmin")
	viper.SetDefault("S3_SECRET_ACCESS_KEY", "minioadmin")
	viper.SetDefault("S3_USE_SSL", false)
	viper.SetDefault("S3_BUCKET_NAME", "medical-images")
	viper.SetDefault("MODELS_ROOT", "./models")
	viper.SetDefault("INFERENCE_TIMEOUT_MS", 60000)
	viper.SetDefault("MODEL_CACHE_CAPACITY", 4)
	viper.SetDefault("WORKER_POOL_SIZE", runtime.NumCPU())
	viper.SetDefault("MAX_IMAGES_PER_RECORD", 5)

	viper.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("SERVER_HOST"),
			Port: viper.GetString("PORT"),
		},
		Database: DatabaseConfig{
			Type:       viper.GetString("DB_TYPE"),
			Host:       viper.GetString("DB_HOST"),
			Port:       viper.GetInt("DB_PORT"),
			User:       viper.GetString("DB_USER"),
			Password:   viper.GetString("DB_PASSWORD"),
			Name:       viper.GetString("DB_NAME"),
			SQLitePath: viper.GetString("DB_PATH"),
		},
		Storage: StorageConfig{
			Type:           viper.GetString("STORAGE_TYPE"),
			UploadsDir:     viper.GetString("UPLOADS_DIR"),
			MaxUploadBytes: viper.GetInt64("MAX_UPLOAD_BYTES"),
			S3Endpoint:     viper.GetString("S3_ENDPOINT"),
			S3AccessKey:    viper.GetString("S3_ACCESS_KEY_ID"),
			S3SecretKey:    viper.GetString("S3_SECRET_ACCESS_KEY"),
			S3UseSSL:       viper.GetBool("S3_USE_SSL"),
			S3Bucket:       viper.GetString("S3_BUCKET_NAME"),
		},
		Inference: InferenceConfig{
			ModelsRoot:      viper.GetString("MODELS_ROOT"),
			Timeout:         time.Duration(viper.GetInt64("INFERENCE_TIMEOUT_MS")) * time.Millisecond,
			CacheCapacity:   viper.GetInt("MODEL_CACHE_CAPACITY"),
			WorkerPoolSize:  viper.GetInt("WORKER_POOL_SIZE"),
			MaxImagesPerRec: viper.GetInt("MAX_IMAGES_PER_RECORD"),
		},
	}

	if cfg.Storage.Type == "local" {
		if err := os.MkdirAll(cfg.Storage.UploadsDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create uploads directory: %w", err)
		}
	}

	return cfg, nil
}
