package media

import (
	"log"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"inkwell/auth"
	"inkwell/common"
	"inkwell/models"
)

const (
	maxUploadSize = 8 << 20 // 8 MiB per file
	maxBatchFiles = 10

	// A blob younger than this is never swept, even if no post references
	// it yet: the author may still be mid-edit.
	sweepGrace = 3 * time.Hour
)

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

type MediaModule struct {
	db    *gorm.DB
	store BlobStore
	cron  *cron.Cron
}

func NewMediaModule(db *gorm.DB, store BlobStore) *MediaModule {
	return &MediaModule{db: db, store: store}
}

func (m *MediaModule) RegisterRoutes(router *gin.Engine, authMod *auth.AuthModule) {
	mediaGroup := router.Group("/media")
	mediaGroup.Use(authMod.RequireAuth, auth.RequireRoles(models.RoleAuthor, models.RoleAdmin))
	{
		mediaGroup.POST("/upload", m.uploadSingle)
		mediaGroup.POST("/upload-multiple", m.uploadMultiple)
	}
}

// StartSweeper schedules the orphan blob sweep. Call Stop on shutdown.
func (m *MediaModule) StartSweeper() {
	m.cron = cron.New()
	if _, err := m.cron.AddFunc("@every 3h", m.sweepOrphans); err != nil {
		log.Printf("Error scheduling media sweep: %v", err)
		return
	}
	m.cron.Start()
	log.Println("Media sweep scheduled every 3 hours")
}

func (m *MediaModule) Stop() {
	if m.cron != nil {
		m.cron.Stop()
	}
}

func (m *MediaModule) saveUpload(file *multipart.FileHeader) (string, error) {
	if file.Size > maxUploadSize {
		return "", common.Validationf("file %s exceeds the 8MB limit", file.Filename)
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[ext] {
		return "", common.Validationf("unsupported file type %s", ext)
	}

	src, err := file.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	return m.store.Save(uuid.New().String()+ext, src)
}

func (m *MediaModule) uploadSingle(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		common.AbortWithError(c, common.Validationf("no image file provided"))
		return
	}

	url, err := m.saveUpload(file)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "url": url})
}

func (m *MediaModule) uploadMultiple(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		common.AbortWithError(c, common.Validationf("invalid multipart form"))
		return
	}

	files := form.File["images"]
	if len(files) == 0 {
		common.AbortWithError(c, common.Validationf("no image files provided"))
		return
	}
	if len(files) > maxBatchFiles {
		common.AbortWithError(c, common.Validationf("at most %d files per upload", maxBatchFiles))
		return
	}

	urls := make([]string, 0, len(files))
	for _, file := range files {
		url, err := m.saveUpload(file)
		if err != nil {
			common.AbortWithError(c, err)
			return
		}
		urls = append(urls, url)
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "urls": urls})
}

// usedImageURLs collects every image URL any post still references, from
// cover images and image content blocks alike. Trashed posts count too;
// their images must survive a restore.
func (m *MediaModule) usedImageURLs() (map[string]bool, error) {
	var posts []models.Post
	if err := m.db.Select("id", "cover_image", "content_blocks").Find(&posts).Error; err != nil {
		return nil, err
	}

	used := make(map[string]bool)
	for _, post := range posts {
		if post.CoverImage != "" {
			used[post.CoverImage] = true
		}
		for _, block := range post.ContentBlocks {
			if block.Kind == "image" && block.Value != "" {
				used[block.Value] = true
			}
		}
	}
	return used, nil
}

// sweepOrphans deletes blobs no post references, once they are older than
// the grace period.
func (m *MediaModule) sweepOrphans() {
	blobs, err := m.store.List()
	if err != nil {
		log.Printf("Error listing blobs for sweep: %v", err)
		return
	}
	if len(blobs) == 0 {
		return
	}

	used, err := m.usedImageURLs()
	if err != nil {
		log.Printf("Error collecting referenced images: %v", err)
		return
	}

	cutoff := time.Now().Add(-sweepGrace)
	removed := 0
	for _, blob := range blobs {
		if used[blob.URL] || blob.ModTime.After(cutoff) {
			continue
		}
		if err := m.store.Remove(blob.Name); err != nil {
			log.Printf("Error removing orphan blob %s: %v", blob.Name, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Printf("Media sweep removed %d orphan blobs", removed)
	}
}
