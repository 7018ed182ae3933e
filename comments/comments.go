package comments

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"inkwell/auth"
	"inkwell/common"
	"inkwell/models"
)

// hideThreshold is the report count at which a comment is hidden. Hiding is
// automatic and never reversed by further reports.
const hideThreshold = 3

type CommentModule struct {
	db *gorm.DB
}

func NewCommentModule(db *gorm.DB) *CommentModule {
	return &CommentModule{db: db}
}

func (m *CommentModule) RegisterRoutes(router *gin.Engine, authMod *auth.AuthModule) {
	commentGroup := router.Group("/comments")
	{
		commentGroup.GET("/post/:postId", authMod.OptionalAuth, m.getComments)
		commentGroup.POST("/post/:postId", authMod.RequireAuth, m.createComment)
		commentGroup.POST("/:commentId/reply", authMod.RequireAuth, m.replyToComment)
		commentGroup.PUT("/:commentId", authMod.RequireAuth, m.updateComment)
		commentGroup.DELETE("/:commentId", authMod.RequireAuth, m.deleteComment)
		commentGroup.PUT("/:commentId/like", authMod.RequireAuth, m.toggleLike)
		commentGroup.POST("/:commentId/report", authMod.RequireAuth, m.reportComment)
	}
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		common.AbortWithError(c, common.Validationf("invalid %s", name))
		return 0, false
	}
	return uint(id), true
}

func (m *CommentModule) loadComment(id uint) (*models.Comment, error) {
	var comment models.Comment
	if err := m.db.Preload("User").First(&comment, id).Error; err != nil {
		return nil, common.TranslateDbErr(err, "comment")
	}
	return &comment, nil
}

func (m *CommentModule) postExists(postID uint) error {
	var post models.Post
	if err := m.db.First(&post, postID).Error; err != nil {
		return common.TranslateDbErr(err, "post")
	}
	return nil
}

// create persists a comment after checking the post and, for replies, that
// the parent resolves to a comment on the same post. Orphan replies are
// rejected at creation rather than silently dropped at read time.
func (m *CommentModule) create(caller *models.User, postID uint, content string, parentID *uint) (*models.Comment, error) {
	if err := m.postExists(postID); err != nil {
		return nil, err
	}

	if parentID != nil {
		var parent models.Comment
		if err := m.db.First(&parent, *parentID).Error; err != nil {
			return nil, common.TranslateDbErr(err, "parent comment")
		}
		if parent.PostID != postID {
			return nil, common.Validationf("parent comment belongs to another post")
		}
	}

	comment := models.Comment{
		PostID:          postID,
		UserID:          caller.ID,
		Content:         content,
		ParentCommentID: parentID,
	}
	if err := m.db.Create(&comment).Error; err != nil {
		return nil, err
	}
	return m.loadComment(comment.ID)
}

// update edits the text. Owner only; admins moderate by deletion, not by
// rewriting other people's words.
func (m *CommentModule) update(caller *models.User, id uint, content string) (*models.Comment, error) {
	comment, err := m.loadComment(id)
	if err != nil {
		return nil, err
	}
	if comment.UserID != caller.ID {
		return nil, common.Forbiddenf("not authorized to edit this comment")
	}

	comment.Content = content
	if err := m.db.Save(comment).Error; err != nil {
		return nil, err
	}
	return comment, nil
}

func (m *CommentModule) remove(caller *models.User, id uint) error {
	comment, err := m.loadComment(id)
	if err != nil {
		return err
	}
	if comment.UserID != caller.ID && caller.Role != models.RoleAdmin {
		return common.Forbiddenf("not authorized to delete this comment")
	}

	return m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("comment_id = ?", id).Delete(&models.CommentLike{}).Error; err != nil {
			return err
		}
		if err := tx.Where("comment_id = ?", id).Delete(&models.CommentReport{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Comment{}, id).Error
	})
}

// like flips the caller's membership in the like set. Single-statement
// delete/insert against the unique-indexed join table, same guarantee as
// post likes.
func (m *CommentModule) like(caller *models.User, id uint) (liked bool, err error) {
	if _, err := m.loadComment(id); err != nil {
		return false, err
	}

	res := m.db.Where("comment_id = ? AND user_id = ?", id, caller.ID).Delete(&models.CommentLike{})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		entry := models.CommentLike{CommentID: id, UserID: caller.ID}
		if err := m.db.Create(&entry).Error; err != nil {
			if !common.IsDuplicateKey(err) {
				return false, err
			}
			log.Printf("like insert for comment %d user %d lost the race: %v", id, caller.ID, err)
		}
		liked = true
	}
	return liked, nil
}

// report adds the caller to the report set, at most once, and hides the
// comment at the threshold. The hide update only ever sets the flag, so a
// fourth report cannot un-hide.
func (m *CommentModule) report(caller *models.User, id uint) (hidden bool, err error) {
	comment, err := m.loadComment(id)
	if err != nil {
		return false, err
	}

	entry := models.CommentReport{CommentID: id, UserID: caller.ID}
	if err := m.db.Create(&entry).Error; err != nil {
		// Conflict only on a confirmed existing row; a failed lookup is a
		// storage error, not a duplicate.
		var existing models.CommentReport
		lookupErr := m.db.Where("comment_id = ? AND user_id = ?", id, caller.ID).
			First(&existing).Error
		if lookupErr == nil {
			return comment.IsHidden, common.Conflictf("you already reported this comment")
		}
		if !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			return comment.IsHidden, lookupErr
		}
		return comment.IsHidden, err
	}

	var reports int64
	if err := m.db.Model(&models.CommentReport{}).Where("comment_id = ?", id).
		Count(&reports).Error; err != nil {
		return comment.IsHidden, err
	}

	if reports >= hideThreshold && !comment.IsHidden {
		if err := m.db.Model(&models.Comment{}).Where("id = ?", id).
			Update("is_hidden", true).Error; err != nil {
			return comment.IsHidden, err
		}
		comment.IsHidden = true
	}

	return comment.IsHidden, nil
}

type commentRequest struct {
	Content string `json:"content" binding:"required,max=2000"`
}

func (m *CommentModule) createComment(c *gin.Context) {
	postID, ok := paramID(c, "postId")
	if !ok {
		return
	}

	var req struct {
		Content       string `json:"content" binding:"required,max=2000"`
		ParentComment *uint  `json:"parentComment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.AbortWithError(c, common.Validationf("invalid comment payload"))
		return
	}

	comment, err := m.create(auth.CurrentUser(c), postID, req.Content, req.ParentComment)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"comment": m.decorate(comment, auth.CurrentUser(c)),
		"message": "Comment posted successfully!",
	})
}

func (m *CommentModule) replyToComment(c *gin.Context) {
	parentID, ok := paramID(c, "commentId")
	if !ok {
		return
	}

	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.AbortWithError(c, common.Validationf("invalid comment payload"))
		return
	}

	parent, err := m.loadComment(parentID)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	comment, err := m.create(auth.CurrentUser(c), parent.PostID, req.Content, &parent.ID)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"comment": m.decorate(comment, auth.CurrentUser(c)),
		"message": "Reply added successfully!",
	})
}

func (m *CommentModule) updateComment(c *gin.Context) {
	id, ok := paramID(c, "commentId")
	if !ok {
		return
	}

	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.AbortWithError(c, common.Validationf("invalid comment payload"))
		return
	}

	comment, err := m.update(auth.CurrentUser(c), id, req.Content)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "comment": m.decorate(comment, auth.CurrentUser(c))})
}

func (m *CommentModule) deleteComment(c *gin.Context) {
	id, ok := paramID(c, "commentId")
	if !ok {
		return
	}

	if err := m.remove(auth.CurrentUser(c), id); err != nil {
		common.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Comment deleted successfully"})
}

func (m *CommentModule) toggleLike(c *gin.Context) {
	id, ok := paramID(c, "commentId")
	if !ok {
		return
	}

	liked, err := m.like(auth.CurrentUser(c), id)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	message := "Unliked the comment"
	if liked {
		message = "Liked the comment"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message})
}

func (m *CommentModule) reportComment(c *gin.Context) {
	id, ok := paramID(c, "commentId")
	if !ok {
		return
	}

	hidden, err := m.report(auth.CurrentUser(c), id)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	message := "Comment reported successfully"
	if hidden {
		message = "Comment hidden due to multiple reports"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message})
}

func (m *CommentModule) getComments(c *gin.Context) {
	postID, ok := paramID(c, "postId")
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit < 1 || limit > 50 {
		limit = 10
	}

	tree, total, err := m.readTree(postID, page, limit, auth.CurrentUser(c))
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	totalPages := (total + int64(limit) - 1) / int64(limit)
	if totalPages < 1 {
		totalPages = 1
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"comments": tree,
		"pagination": gin.H{
			"totalComments": total,
			"totalPages":    totalPages,
			"currentPage":   page,
			"perPage":       limit,
		},
	})
}
