package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/database"
)

func main() {
	var (
		dbType         = flag.String("db", "postgres", "Database type (postgres or sqlite)")
		host           = flag.String("host", "localhost", "Database host")
		port           = flag.Int("port", 5432, "Database port")
		user           = flag.String("user", "healthcare", "Database user")
		password       = flag.String("password", "healthcare_dev", "Database password")
		dbName         = flag.String("name", "healthcare", "Database name")
		migrationsPath = flag.String("migrations", "./migrations", "Path to migrations directory")
		status         = flag.Bool("status", false, "Show migration status only")
	)
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	config := database.Config{
		Type:     *dbType,
		Host:     *host,
		Port:     *port,
		User:     *user,
		Password: *password,
		Name:     *dbName,
	}

	if env := os.Getenv("DB_TYPE"); env != "" {
		config.Type = env
	}
	if env := os.Getenv("DB_HOST"); env != "" {
		config.Host = env
	}
	if env := os.Getenv("DB_USER"); env != "" {
		config.User = env
	}
	if env := os.Getenv("DB_PASSWORD"); env != "" {
		config.Password = env
	}
	if env := os.Getenv("DB_NAME"); env != "" {
		config.Name = env
	}

	db, err := database.NewDB(config)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, log)

	if *status {
		statuses, err := migrator.Status(*migrationsPath)
		if err != nil {
			log.Fatal("Failed to read migration status", zap.Error(err))
		}

		fmt.Println("Migration Status:")
		fmt.Println("=================")
		for _, s := range statuses {
			state := "pending"
			if s.Applied {
				state = "applied"
			}
			fmt.Printf("%s - %s [%s]\n", s.Version, s.Name, state)
		}
		return
	}

	if err := migrator.Run(*migrationsPath); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}
}
