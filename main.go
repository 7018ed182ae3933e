package main

import (
	"log"
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"inkwell/analytics"
	"inkwell/auth"
	"inkwell/comments"
	"inkwell/common"
	"inkwell/database"
	"inkwell/identity"
	"inkwell/media"
	"inkwell/posts"
)

func main() {
	common.LoadEnv()

	db := common.ConnectDb()
	if db == nil {
		log.Fatal("Failed to connect to database")
	}

	if err := database.RunMigrations(db); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	router := gin.Default()

	sessionSecret := os.Getenv("SESSION_SECRET")
	if sessionSecret == "" {
		log.Fatal("SESSION_SECRET environment variable not set")
	}

	store := cookie.NewStore([]byte(sessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   false,
	})
	router.Use(sessions.Sessions("inkwell-session", store))

	corsConfig := cors.DefaultConfig()
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		corsConfig.AllowOrigins = strings.Split(origins, ",")
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	}
	corsConfig.AllowCredentials = true
	corsConfig.AddAllowHeaders("Authorization")
	router.Use(cors.New(corsConfig))

	users := identity.NewStore(db)

	authModule := auth.NewAuthModule(db, users)
	authModule.RegisterRoutes(router)

	analyticsModule := analytics.NewAnalyticsModule(common.ConnectAnalyticsDb())

	postModule := posts.NewPostModule(db, users, analyticsModule)
	postModule.RegisterRoutes(router, authModule)
	postModule.StartCacheJanitor()
	defer postModule.StopCacheJanitor()

	commentModule := comments.NewCommentModule(db)
	commentModule.RegisterRoutes(router, authModule)

	uploadDir := os.Getenv("UPLOAD_DIR")
	if uploadDir == "" {
		uploadDir = "./uploads"
	}
	blobStore, err := media.NewDiskStore(uploadDir, "/uploads")
	if err != nil {
		log.Fatal("Failed to prepare upload storage:", err)
	}
	router.Static("/uploads", blobStore.Dir())

	mediaModule := media.NewMediaModule(db, blobStore)
	mediaModule.RegisterRoutes(router, authModule)
	mediaModule.StartSweeper()
	defer mediaModule.Stop()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Starting server on port %s...", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
