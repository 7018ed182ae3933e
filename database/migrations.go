package database

import (
	"log"

	"inkwell/models"

	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	log.Println("Running database migrations...")

	err := db.AutoMigrate(
		&models.User{},
		&models.Post{},
		&models.Tag{},
		&models.PostTag{},
		&models.PostLike{},
		&models.Comment{},
		&models.CommentLike{},
		&models.CommentReport{},
	)

	if err != nil {
		log.Printf("Error running migrations: %v", err)
		return err
	}

	log.Println("Migrations completed successfully")
	return nil
}
