package database

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/viper"
)

// DBConfig holds the Postgres connection and pool settings.
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SchemaFile      string
}

// GetConfig returns database configuration with defaults
func GetConfig() *DBConfig {
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "campuspay")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", time.Minute*5)
	viper.SetDefault("database.schema_file", "")

	return &DBConfig{
		Host:            viper.GetString("database.host"),
		Port:            viper.GetString("database.port"),
		User:            viper.GetString("database.user"),
		Password:        viper.GetString("database.password"),
		Name:            viper.GetString("database.name"),
		SSLMode:         viper.GetString("database.ssl_mode"),
		MaxOpenConns:    viper.GetInt("database.max_open_conns"),
		MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
		SchemaFile:      viper.GetString("database.schema_file"),
	}
}

// InitDB opens the ledger database and verifies it is reachable. The ping is
// retried a few times so the service survives a database that is still
// starting up alongside it.
func InitDB() (*sql.DB, error) {
	config := GetConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Name, config.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	for attempt := 1; ; attempt++ {
		if err = db.Ping(); err == nil {
			break
		}
		if attempt >= 5 {
			db.Close()
			return nil, fmt.Errorf("error connecting to database: %w", err)
		}
		log.Printf("Database not ready (attempt %d): %v", attempt, err)
		time.Sleep(time.Duration(attempt) * time.Second)
	}

	if config.SchemaFile != "" {
		if err := applySchema(db, config.SchemaFile); err != nil {
			db.Close()
			return nil, err
		}
	}

	log.Println("Database connection established")
	return db, nil
}

// applySchema runs the DDL file against the database. The schema is written
// with IF NOT EXISTS / ON CONFLICT guards so re-applying it is safe.
func applySchema(db *sql.DB, path string) error {
	ddl, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading schema file %s: %w", path, err)
	}
	if _, err := db.Exec(string(ddl)); err != nil {
		return fmt.Errorf("error applying schema: %w", err)
	}
	log.Printf("Schema applied from %s", path)
	return nil
}

// InitDatabase initializes the database or exits the process.
func InitDatabase() *sql.DB {
	db, err := InitDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	return db
}
