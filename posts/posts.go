package posts

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"inkwell/analytics"
	"inkwell/auth"
	"inkwell/common"
	"inkwell/identity"
	"inkwell/models"
)

type PostModule struct {
	db        *gorm.DB
	users     *identity.Store
	analytics *analytics.AnalyticsModule
	janitor   *cron.Cron
}

func NewPostModule(db *gorm.DB, users *identity.Store, analyticsModule *analytics.AnalyticsModule) *PostModule {
	return &PostModule{
		db:        db,
		users:     users,
		analytics: analyticsModule,
	}
}

func (p *PostModule) RegisterRoutes(router *gin.Engine, authMod *auth.AuthModule) {
	postGroup := router.Group("/posts")
	{
		postGroup.GET("", p.listPublished)
		postGroup.GET("/search", p.search)
		postGroup.GET("/my-posts", authMod.RequireAuth, auth.RequireRoles(models.RoleAuthor, models.RoleAdmin), p.listMine)
		postGroup.GET("/trash/all", authMod.RequireAuth, auth.RequireRoles(models.RoleAdmin), p.listTrash)
		postGroup.GET("/trash/mine", authMod.RequireAuth, auth.RequireRoles(models.RoleAuthor, models.RoleAdmin), p.listMyTrash)
		postGroup.GET("/:id", authMod.OptionalAuth, p.getPost)

		postGroup.POST("", authMod.RequireAuth, auth.RequireRoles(models.RoleAuthor, models.RoleAdmin), p.create)
		postGroup.PUT("/:id", authMod.RequireAuth, auth.RequireRoles(models.RoleAuthor, models.RoleAdmin), p.update)
		postGroup.PUT("/:id/like", authMod.RequireAuth, p.like)

		postGroup.DELETE("/:id", authMod.RequireAuth, auth.RequireRoles(models.RoleAuthor, models.RoleAdmin), p.trash)
		postGroup.PUT("/:id/restore", authMod.RequireAuth, auth.RequireRoles(models.RoleAuthor), p.restoreHandler)

		postGroup.DELETE("/:id/user-permanent", authMod.RequireAuth, auth.RequireRoles(models.RoleAuthor), p.userPurge)
		postGroup.DELETE("/:id/admin-permanent", authMod.RequireAuth, auth.RequireRoles(models.RoleAdmin), p.adminPurge)
	}

	adminGroup := router.Group("/admin", authMod.RequireAuth, auth.RequireRoles(models.RoleAdmin))
	{
		adminGroup.GET("/posts/under-review", p.listUnderReview)
		adminGroup.PUT("/posts/:id/restore", p.adminRestoreHandler)
		adminGroup.PUT("/posts/:id/republish", p.republishHandler)
		adminGroup.GET("/stats", p.stats)
	}
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		common.AbortWithError(c, common.Validationf("invalid post id"))
		return 0, false
	}
	return uint(id), true
}

func pagination(c *gin.Context) (page, limit, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit < 1 || limit > 50 {
		limit = 10
	}
	return page, limit, (page - 1) * limit
}

type postResponse struct {
	models.Post
	Tags       []string `json:"tags"`
	TotalLikes int64    `json:"total_likes"`
}

func (p *PostModule) toResponse(post *models.Post) postResponse {
	tags := p.getPostTags(post.ID)
	if tags == nil {
		tags = []string{}
	}
	return postResponse{
		Post:       *post,
		Tags:       tags,
		TotalLikes: p.likeCount(post.ID),
	}
}

func (p *PostModule) respondList(c *gin.Context, query *gorm.DB, page, limit int) {
	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "error loading posts"})
		return
	}

	var posts []models.Post
	err := query.Session(&gorm.Session{}).
		Preload("Author").
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&posts).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "error loading posts"})
		return
	}

	items := make([]postResponse, 0, len(posts))
	for i := range posts {
		items = append(items, p.toResponse(&posts[i]))
	}

	totalPages := (total + int64(limit) - 1) / int64(limit)
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"currentPage": page,
		"totalPages":  totalPages,
		"totalPosts":  total,
		"results":     len(items),
		"posts":       items,
	})
}

func (p *PostModule) listPublished(c *gin.Context) {
	page, limit, _ := pagination(c)
	query := p.db.Model(&models.Post{}).
		Where("is_deleted = ? AND status = ?", false, models.StatusPublished)
	p.respondList(c, query, page, limit)

	p.analytics.TrackVisit(c, nil)
}

func (p *PostModule) search(c *gin.Context) {
	term := strings.TrimSpace(c.Query("q"))
	if term == "" {
		common.AbortWithError(c, common.Validationf("search query is required"))
		return
	}

	page, limit, _ := pagination(c)
	like := "%" + term + "%"

	query := p.db.Model(&models.Post{}).Where("is_deleted = ?", false)
	if postIDs := p.postIDsMatchingTag(term); len(postIDs) > 0 {
		query = query.Where("title LIKE ? OR content_blocks LIKE ? OR id IN ?", like, like, postIDs)
	} else {
		query = query.Where("title LIKE ? OR content_blocks LIKE ?", like, like)
	}
	p.respondList(c, query, page, limit)
}

func (p *PostModule) listMine(c *gin.Context) {
	caller := auth.CurrentUser(c)
	page, limit, _ := pagination(c)
	query := p.db.Model(&models.Post{}).
		Where("author_id = ? AND is_deleted = ?", caller.ID, false)
	p.respondList(c, query, page, limit)
}

func (p *PostModule) listTrash(c *gin.Context) {
	var posts []models.Post
	err := p.db.Preload("Author").Where("is_deleted = ?", true).
		Order("deleted_at DESC").Find(&posts).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "error fetching trash"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(posts), "trashedPosts": posts})
}

func (p *PostModule) listMyTrash(c *gin.Context) {
	caller := auth.CurrentUser(c)
	var posts []models.Post
	err := p.db.Where("is_deleted = ? AND author_id = ?", true, caller.ID).
		Order("deleted_at DESC").Find(&posts).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "error fetching trash"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(posts), "trashedPosts": posts})
}

func (p *PostModule) getPost(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	post, err := p.loadPost(id)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	caller := auth.CurrentUser(c)
	// Soft-delete visibility: to everyone but admins a trashed post reads
	// as absent.
	if post.IsDeleted && (caller == nil || caller.Role != models.RoleAdmin) {
		common.AbortWithError(c, common.NotFoundf("post"))
		return
	}

	p.db.Model(post).UpdateColumn("views_count", gorm.Expr("views_count + 1"))
	post.ViewsCount++

	p.analytics.TrackVisit(c, &post.ID)

	resp := p.toResponse(post)
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"post":          resp,
		"rendered_html": p.renderedHTML(post),
	})
}

type createRequest struct {
	Title         string                `json:"title" binding:"required"`
	Category      string                `json:"category"`
	Tags          []string              `json:"tags"`
	CoverImage    string                `json:"coverImage"`
	Status        string                `json:"status"`
	ContentBlocks []models.ContentBlock `json:"contentBlocks" binding:"required,dive"`
}

func (p *PostModule) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.AbortWithError(c, common.Validationf("invalid post payload"))
		return
	}

	post, err := p.createPost(auth.CurrentUser(c), createInput{
		Title:         req.Title,
		Category:      req.Category,
		Tags:          req.Tags,
		CoverImage:    req.CoverImage,
		Status:        req.Status,
		ContentBlocks: req.ContentBlocks,
	})
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Post created successfully",
		"post":    p.toResponse(post),
	})
}

type updateRequest struct {
	Title         *string               `json:"title"`
	Category      *string               `json:"category"`
	Tags          []string              `json:"tags"`
	CoverImage    *string               `json:"coverImage"`
	Status        *string               `json:"status"`
	ContentBlocks []models.ContentBlock `json:"contentBlocks"`
}

func (p *PostModule) update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.AbortWithError(c, common.Validationf("invalid post payload"))
		return
	}

	post, err := p.updatePost(auth.CurrentUser(c), id, updateInput{
		Title:         req.Title,
		Category:      req.Category,
		Tags:          req.Tags,
		CoverImage:    req.CoverImage,
		Status:        req.Status,
		ContentBlocks: req.ContentBlocks,
	})
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Post updated successfully",
		"post":    p.toResponse(post),
	})
}

func (p *PostModule) trash(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	post, err := p.trashPost(auth.CurrentUser(c), id)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Post moved to trash successfully",
		"post":    post,
	})
}

func (p *PostModule) restoreHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	post, err := p.restorePost(auth.CurrentUser(c), id)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Post restored successfully",
		"post":    post,
	})
}

func (p *PostModule) adminRestoreHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	post, err := p.adminRestorePost(auth.CurrentUser(c), id)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Post restored and marked as under_review",
		"post":    post,
	})
}

type republishRequest struct {
	GiveBackOwnership bool `json:"giveBackOwnership"`
}

func (p *PostModule) republishHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req republishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.AbortWithError(c, common.Validationf("invalid payload"))
		return
	}

	post, err := p.republishPost(auth.CurrentUser(c), id, req.GiveBackOwnership)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	message := "Post republished under current ownership"
	if req.GiveBackOwnership {
		message = "Post republished and ownership restored to original author"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message, "post": post})
}

func (p *PostModule) userPurge(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	post, err := p.userPurgePost(auth.CurrentUser(c), id)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Post permanently deleted successfully",
		"post":    post,
	})
}

func (p *PostModule) adminPurge(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := p.adminPurgePost(auth.CurrentUser(c), id); err != nil {
		common.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Post permanently deleted from database",
	})
}

func (p *PostModule) like(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	liked, total, err := p.toggleLike(auth.CurrentUser(c), id)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	message := "You unliked this post"
	if liked {
		message = "You liked this post!"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message, "totalLikes": total})
}

func (p *PostModule) listUnderReview(c *gin.Context) {
	var posts []models.Post
	err := p.db.Preload("Author").Where("status = ?", models.StatusUnderReview).
		Order("updated_at DESC").Find(&posts).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "error fetching under review posts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "total": len(posts), "posts": posts})
}

func (p *PostModule) stats(c *gin.Context) {
	type statusCount struct {
		Status string `json:"status"`
		Count  int64  `json:"count"`
	}
	var byStatus []statusCount
	p.db.Model(&models.Post{}).Where("is_deleted = ?", false).
		Select("status, count(*) as count").Group("status").Scan(&byStatus)

	var trashed int64
	p.db.Model(&models.Post{}).Where("is_deleted = ?", true).Count(&trashed)

	topPosts := p.analytics.GetTopPosts(30, 10)
	for i := range topPosts {
		var post models.Post
		if err := p.db.First(&post, topPosts[i].PostID).Error; err == nil {
			topPosts[i].PostTitle = post.Title
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"postsByStatus": byStatus,
		"trashedPosts":  trashed,
		"topPosts":      topPosts,
	})
}
