package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	conn   *sqlx.DB
	dbType string
}

type Config struct {
	Type       string
	Host       string
	Port       int
	User       string
	Password   string
	Name       string
	SQLitePath string
}

func NewDB(config Config) (*DB, error) {
	var conn *sqlx.DB
	var err error

	switch config.Type {
	case "sqlite":
		conn, err = sqlx.Open("sqlite3", config.SQLitePath)
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			config.Host, config.Port, config.User, config.Password, config.Name)
		conn, err = sqlx.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn, dbType: config.Type}

	// Only create tables for SQLite; postgres schemas come from migrations.
	if config.Type == "sqlite" {
		if err := db.createTables(); err != nil {
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}

	return db, nil
}

func (db *DB) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS uploaded_images (
		id TEXT PRIMARY KEY,
		storage_path TEXT NOT NULL,
		original_name TEXT NOT NULL,
		mime TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		principal_id TEXT NOT NULL,
		uploaded_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS medical_records (
		id TEXT PRIMARY KEY,
		principal_id TEXT NOT NULL,
		modality TEXT NOT NULL,
		body_part TEXT NOT NULL,
		image_ids TEXT NOT NULL,
		status TEXT NOT NULL,
		predictions TEXT NOT NULL DEFAULT '[]',
		aggregate TEXT,
		doctor_diagnosis TEXT NOT NULL DEFAULT '',
		failure_kind TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_principal ON medical_records(principal_id);

	CREATE TABLE IF NOT EXISTS model_descriptors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		model_type TEXT NOT NULL,
		body_parts TEXT NOT NULL,
		imaging_types TEXT NOT NULL,
		labels TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		synced_at DATETIME NOT NULL
	);
	`

	_, err := db.conn.Exec(query)
	return err
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// rebind converts '?' placeholders to the driver's binding style.
func (db *DB) rebind(query string) string {
	return db.conn.Rebind(query)
}
