package comments

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"inkwell/common"
	"inkwell/models"
)

func setupTestDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		panic("failed to connect database")
	}

	db.AutoMigrate(
		&models.User{}, &models.Post{}, &models.Comment{},
		&models.CommentLike{}, &models.CommentReport{},
	)
	return db
}

func setupTestModule(db *gorm.DB) *CommentModule {
	return NewCommentModule(db)
}

var testUserSeq int

func createTestUser(db *gorm.DB, role string) *models.User {
	testUserSeq++
	user := &models.User{
		Name:     fmt.Sprintf("Commenter %d", testUserSeq),
		Email:    fmt.Sprintf("commenter%d@example.com", testUserSeq),
		Role:     role,
		IsActive: true,
	}
	db.Create(user)
	return user
}

func createTestPost(db *gorm.DB, authorID uint) *models.Post {
	testUserSeq++
	post := &models.Post{
		Title:    fmt.Sprintf("Post %d", testUserSeq),
		Slug:     fmt.Sprintf("post-%d", testUserSeq),
		Category: "Uncategorized",
		Status:   models.StatusPublished,
		AuthorID: authorID,
	}
	db.Create(post)
	return post
}

func TestCreateComment_TopLevel(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	reader := createTestUser(db, models.RoleReader)
	post := createTestPost(db, author.ID)

	comment, err := module.create(reader, post.ID, "first!", nil)

	assert.NoError(t, err)
	assert.Equal(t, post.ID, comment.PostID)
	assert.Equal(t, reader.ID, comment.UserID)
	assert.Nil(t, comment.ParentCommentID)
	assert.True(t, comment.IsApproved)
}

func TestCreateComment_MissingPost(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	reader := createTestUser(db, models.RoleReader)

	_, err := module.create(reader, 999, "into the void", nil)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCreateReply_MissingParent(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	reader := createTestUser(db, models.RoleReader)
	post := createTestPost(db, author.ID)

	missing := uint(999)
	_, err := module.create(reader, post.ID, "reply to nobody", &missing)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCreateReply_ParentOnAnotherPost(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	reader := createTestUser(db, models.RoleReader)
	postA := createTestPost(db, author.ID)
	postB := createTestPost(db, author.ID)

	parent, err := module.create(reader, postA.ID, "on post A", nil)
	assert.NoError(t, err)

	_, err = module.create(reader, postB.ID, "cross-post reply", &parent.ID)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestUpdateComment_OwnerOnly(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	reader := createTestUser(db, models.RoleReader)
	admin := createTestUser(db, models.RoleAdmin)
	post := createTestPost(db, author.ID)

	comment, err := module.create(reader, post.ID, "original", nil)
	assert.NoError(t, err)

	updated, err := module.update(reader, comment.ID, "edited")
	assert.NoError(t, err)
	assert.Equal(t, "edited", updated.Content)

	// Even admins do not edit other people's comments.
	_, err = module.update(admin, comment.ID, "overwritten")
	assert.ErrorIs(t, err, common.ErrForbidden)
}

func TestDeleteComment_OwnerOrAdmin(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	reader := createTestUser(db, models.RoleReader)
	stranger := createTestUser(db, models.RoleReader)
	admin := createTestUser(db, models.RoleAdmin)
	post := createTestPost(db, author.ID)

	mine, err := module.create(reader, post.ID, "mine", nil)
	assert.NoError(t, err)

	assert.ErrorIs(t, module.remove(stranger, mine.ID), common.ErrForbidden)
	assert.NoError(t, module.remove(admin, mine.ID))

	var count int64
	db.Model(&models.Comment{}).Where("id = ?", mine.ID).Count(&count)
	assert.Zero(t, count)
}

func TestToggleCommentLike(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	reader := createTestUser(db, models.RoleReader)
	post := createTestPost(db, author.ID)

	comment, err := module.create(author, post.ID, "likeable", nil)
	assert.NoError(t, err)

	liked, err := module.like(reader, comment.ID)
	assert.NoError(t, err)
	assert.True(t, liked)

	liked, err = module.like(reader, comment.ID)
	assert.NoError(t, err)
	assert.False(t, liked)

	var count int64
	db.Model(&models.CommentLike{}).Where("comment_id = ?", comment.ID).Count(&count)
	assert.Zero(t, count)
}

func TestReportComment_DuplicateConflict(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	reader := createTestUser(db, models.RoleReader)
	post := createTestPost(db, author.ID)

	comment, err := module.create(author, post.ID, "reportable", nil)
	assert.NoError(t, err)

	_, err = module.report(reader, comment.ID)
	assert.NoError(t, err)

	_, err = module.report(reader, comment.ID)
	assert.ErrorIs(t, err, common.ErrConflict)

	var count int64
	db.Model(&models.CommentReport{}).Where("comment_id = ?", comment.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestReportComment_StorageErrorIsNotConflict(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	reader := createTestUser(db, models.RoleReader)
	post := createTestPost(db, author.ID)

	comment, err := module.create(author, post.ID, "doomed table", nil)
	assert.NoError(t, err)

	// With the table gone both the insert and the duplicate lookup fail;
	// that must surface as a storage error, not a fake duplicate.
	assert.NoError(t, db.Migrator().DropTable(&models.CommentReport{}))

	_, err = module.report(reader, comment.ID)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrConflict)
}

func TestToggleCommentLike_SurfacesStorageError(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	reader := createTestUser(db, models.RoleReader)
	post := createTestPost(db, author.ID)

	comment, err := module.create(author, post.ID, "fragile", nil)
	assert.NoError(t, err)

	assert.NoError(t, db.Migrator().DropTable(&models.CommentLike{}))

	_, err = module.like(reader, comment.ID)
	assert.Error(t, err)
}

func TestReportComment_HidesAtThreshold(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	post := createTestPost(db, author.ID)

	comment, err := module.create(author, post.ID, "controversial", nil)
	assert.NoError(t, err)

	for i := 0; i < 2; i++ {
		hidden, err := module.report(createTestUser(db, models.RoleReader), comment.ID)
		assert.NoError(t, err)
		assert.False(t, hidden)
	}

	hidden, err := module.report(createTestUser(db, models.RoleReader), comment.ID)
	assert.NoError(t, err)
	assert.True(t, hidden)

	// Hiding is one way. Even if reports disappear, the flag stays until a
	// moderator deletes the comment.
	hidden, err = module.report(createTestUser(db, models.RoleReader), comment.ID)
	assert.NoError(t, err)
	assert.True(t, hidden)

	var stored models.Comment
	db.First(&stored, comment.ID)
	assert.True(t, stored.IsHidden)
}

func TestReadTree_MaterializesReplies(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	reader := createTestUser(db, models.RoleReader)
	post := createTestPost(db, author.ID)

	// A <- B <- C, plus a second top-level thread.
	a, err := module.create(reader, post.ID, "thread root", nil)
	assert.NoError(t, err)
	b, err := module.create(author, post.ID, "reply to root", &a.ID)
	assert.NoError(t, err)
	c, err := module.create(reader, post.ID, "reply to reply", &b.ID)
	assert.NoError(t, err)

	// Force distinct timestamps so ordering is deterministic.
	db.Model(&models.Comment{}).Where("id = ?", a.ID).
		Update("created_at", time.Now().Add(-3*time.Minute))
	other, err := module.create(author, post.ID, "second thread", nil)
	assert.NoError(t, err)
	db.Model(&models.Comment{}).Where("id = ?", other.ID).
		Update("created_at", time.Now().Add(-1*time.Minute))

	tree, total, err := module.readTree(post.ID, 1, 10, reader)

	assert.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, tree, 2)

	// Newest top-level first: A was backdated below the second thread.
	assert.Equal(t, other.ID, tree[0].ID)
	root := tree[1]
	assert.Equal(t, a.ID, root.ID)
	assert.Equal(t, 1, root.ReplyCount)
	assert.Len(t, root.Replies, 1)
	assert.Equal(t, b.ID, root.Replies[0].ID)
	assert.Len(t, root.Replies[0].Replies, 1)
	assert.Equal(t, c.ID, root.Replies[0].Replies[0].ID)

	assert.True(t, root.IsOwner)
	assert.NotEmpty(t, root.CreatedAtFormatted)
}

func TestReadTree_PaginatesTopLevelOnly(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	post := createTestPost(db, author.ID)

	var first *models.Comment
	for i := 0; i < 5; i++ {
		comment, err := module.create(author, post.ID, fmt.Sprintf("top %d", i), nil)
		assert.NoError(t, err)
		db.Model(&models.Comment{}).Where("id = ?", comment.ID).
			Update("created_at", time.Now().Add(time.Duration(i-10)*time.Minute))
		if i == 0 {
			first = comment
		}
	}
	// Replies never count against the page.
	_, err := module.create(author, post.ID, "a reply", &first.ID)
	assert.NoError(t, err)

	tree, total, err := module.readTree(post.ID, 2, 2, nil)

	assert.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, tree, 2)
}

func TestReadTree_SkipsUnapproved(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	post := createTestPost(db, author.ID)

	comment, err := module.create(author, post.ID, "pending", nil)
	assert.NoError(t, err)
	db.Model(&models.Comment{}).Where("id = ?", comment.ID).Update("is_approved", false)

	tree, total, err := module.readTree(post.ID, 1, 10, nil)

	assert.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, tree)
}

func TestReadTree_HiddenStillListed(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	post := createTestPost(db, author.ID)

	comment, err := module.create(author, post.ID, "hidden but present", nil)
	assert.NoError(t, err)
	db.Model(&models.Comment{}).Where("id = ?", comment.ID).Update("is_hidden", true)

	tree, _, err := module.readTree(post.ID, 1, 10, nil)

	assert.NoError(t, err)
	assert.Len(t, tree, 1)
	assert.True(t, tree[0].IsHidden)
}
