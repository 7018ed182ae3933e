package common

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// LoadEnv reads a .env file if present. Missing files are fine; real
// deployments set variables directly.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using process environment")
	}
}

func ConnectDb() *gorm.DB {
	dbFile := os.Getenv("sqlite_db")
	if dbFile == "" {
		log.Println("sqlite_db not set")
		return nil
	}

	db, err := gorm.Open(sqlite.Open(dbFile), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		log.Println("Error opening sqlite db: " + err.Error())
		return nil
	}
	log.Println("opened sqlite db at:", dbFile)
	return db
}

// ConnectAnalyticsDb opens the separate analytics database. Returning nil is
// not an error; it simply disables tracking.
func ConnectAnalyticsDb() *gorm.DB {
	dbFile := os.Getenv("analytics_db")
	if dbFile == "" {
		log.Println("analytics_db not set, analytics disabled")
		return nil
	}

	db, err := gorm.Open(sqlite.Open(dbFile), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		log.Println("Error opening analytics db: " + err.Error())
		return nil
	}
	log.Println("opened analytics db at:", dbFile)
	return db
}
