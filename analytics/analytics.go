package analytics

import (
	"crypto/sha256"
	"encoding/hex"
	"log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// PostEvent is one recorded visit. PostID is nil for feed visits.
type PostEvent struct {
	ID        uint      `gorm:"primary_key;autoIncrement"`
	PostID    *uint     `gorm:"index"`
	CookieID  string    `gorm:"not null;index"`
	Event     string    `gorm:"not null;default:'visit'"`
	IP        string    `gorm:"not null"`
	Browser   *string
	Language  *string
	CreatedAt time.Time `gorm:"index"`
}

// AnalyticsModule records reader visits outside the request's critical path.
// A nil module is valid and disables tracking.
type AnalyticsModule struct {
	db *gorm.DB
}

func NewAnalyticsModule(db *gorm.DB) *AnalyticsModule {
	if db == nil {
		log.Println("Analytics DB is nil, analytics will be disabled")
		return nil
	}

	if err := db.AutoMigrate(&PostEvent{}); err != nil {
		log.Printf("Error migrating post_events table: %v", err)
		return nil
	}

	return &AnalyticsModule{db: db}
}

// TrackVisit records a visit, throttled so refreshes don't count: the same
// visitor on the same post only registers once per 30 minutes.
func (a *AnalyticsModule) TrackVisit(c *gin.Context, postID *uint) {
	if a == nil || a.db == nil {
		return
	}

	cookieID := a.getOrCreateCookieID(c)

	thirtyMinutesAgo := time.Now().Add(-30 * time.Minute)
	query := a.db.Where("cookie_id = ? AND created_at > ?", cookieID, thirtyMinutesAgo)
	if postID != nil {
		query = query.Where("post_id = ?", *postID)
	} else {
		query = query.Where("post_id IS NULL")
	}

	var recentVisit PostEvent
	if err := query.First(&recentVisit).Error; err == nil {
		return
	}

	event := PostEvent{
		PostID:    postID,
		CookieID:  cookieID,
		Event:     "visit",
		IP:        a.getClientIP(c),
		Browser:   extractBrowser(c.Request.UserAgent()),
		Language:  extractLanguage(c),
		CreatedAt: time.Now(),
	}

	// Saved asynchronously so tracking never slows a read.
	go func() {
		if err := a.db.Create(&event).Error; err != nil {
			log.Printf("Error saving analytics event: %v", err)
		}
	}()
}

func (a *AnalyticsModule) getOrCreateCookieID(c *gin.Context) string {
	cookieName := "inkwell_visitor_id"

	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}

	data := time.Now().String() + c.ClientIP() + c.Request.UserAgent()
	hash := sha256.Sum256([]byte(data))
	cookieID := hex.EncodeToString(hash[:])

	c.SetCookie(
		cookieName,
		cookieID,
		60*60*24*365*2, // 2 years
		"/",
		"",
		false,
		true,
	)

	return cookieID
}

func (a *AnalyticsModule) getClientIP(c *gin.Context) string {
	if ip := c.GetHeader("X-Forwarded-For"); ip != "" {
		ips := strings.Split(ip, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if ip := c.GetHeader("X-Real-IP"); ip != "" {
		return ip
	}

	if ip := c.GetHeader("CF-Connecting-IP"); ip != "" {
		return ip
	}

	return c.ClientIP()
}

func extractBrowser(userAgent string) *string {
	if userAgent == "" {
		return nil
	}

	ua := strings.ToLower(userAgent)
	var browser string

	// Order matters, more specific browsers first.
	switch {
	case strings.Contains(ua, "edg"):
		browser = "Edge"
	case strings.Contains(ua, "chrome") && !strings.Contains(ua, "edg"):
		browser = "Chrome"
	case strings.Contains(ua, "safari") && !strings.Contains(ua, "chrome"):
		browser = "Safari"
	case strings.Contains(ua, "firefox"):
		browser = "Firefox"
	case strings.Contains(ua, "opera") || strings.Contains(ua, "opr"):
		browser = "Opera"
	default:
		browser = "Other"
	}

	return &browser
}

func extractLanguage(c *gin.Context) *string {
	acceptLang := c.GetHeader("Accept-Language")
	if acceptLang == "" {
		return nil
	}

	// "en-US,en;q=0.9,pt-BR;q=0.8" -> first, quality stripped
	parts := strings.Split(acceptLang, ",")
	if len(parts) > 0 {
		lang := strings.TrimSpace(parts[0])
		lang = strings.Split(lang, ";")[0]
		return &lang
	}

	return nil
}

// PostVisits is the visit count for one post.
type PostVisits struct {
	PostID    uint   `json:"post_id"`
	PostTitle string `json:"post_title" gorm:"-"`
	Count     int64  `json:"count"`
}

// GetTopPosts returns the most visited posts over the last N days.
func (a *AnalyticsModule) GetTopPosts(days, limit int) []PostVisits {
	if a == nil || a.db == nil {
		return []PostVisits{}
	}

	startDate := time.Now().AddDate(0, 0, -days)

	var results []PostVisits
	a.db.Model(&PostEvent{}).
		Select("post_id as post_id, COUNT(*) as count").
		Where("post_id IS NOT NULL AND created_at >= ?", startDate).
		Group("post_id").
		Order("count DESC").
		Limit(limit).
		Scan(&results)

	return results
}
