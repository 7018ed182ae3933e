package posts

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"inkwell/common"
	"inkwell/identity"
	"inkwell/models"
)

func setupTestDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		panic("failed to connect database")
	}

	db.AutoMigrate(
		&models.User{}, &models.Post{}, &models.Tag{}, &models.PostTag{},
		&models.PostLike{}, &models.Comment{}, &models.CommentLike{},
		&models.CommentReport{},
	)
	return db
}

func setupTestModule(db *gorm.DB) *PostModule {
	return NewPostModule(db, identity.NewStore(db), nil)
}

var testUserSeq int

func createTestUser(db *gorm.DB, role string) *models.User {
	testUserSeq++
	user := &models.User{
		Name:         fmt.Sprintf("Test User %d", testUserSeq),
		Email:        fmt.Sprintf("user%d@example.com", testUserSeq),
		PasswordHash: "hashedpassword",
		Role:         role,
		IsActive:     true,
	}
	db.Create(user)
	return user
}

func createTestPost(db *gorm.DB, authorID uint, title, status string) *models.Post {
	post := &models.Post{
		Title:    title,
		Slug:     generateSlug(title),
		Category: "Uncategorized",
		Status:   status,
		AuthorID: authorID,
		ContentBlocks: []models.ContentBlock{
			{Kind: "text", Value: "Some **markdown** body."},
		},
	}
	db.Create(post)
	return post
}

func TestCreatePost_Defaults(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)

	post, err := module.createPost(author, createInput{Title: "Hello World"})

	assert.NoError(t, err)
	assert.Equal(t, "hello-world", post.Slug)
	assert.Equal(t, models.StatusDraft, post.Status)
	assert.Equal(t, "Uncategorized", post.Category)
	assert.Equal(t, author.ID, post.AuthorID)
}

func TestCreatePost_SlugConflict(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)

	_, err := module.createPost(author, createInput{Title: "Hello World"})
	assert.NoError(t, err)

	// Different casing, same slug.
	_, err = module.createPost(author, createInput{Title: "HELLO world"})
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestCreatePost_RejectsUnderReview(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)

	_, err := module.createPost(author, createInput{Title: "Nope", Status: models.StatusUnderReview})
	assert.Error(t, err)
}

func TestUpdatePost_SlugFollowsTitle(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	post := createTestPost(db, author.ID, "First Title", models.StatusPublished)

	newTitle := "Segunda Edição"
	updated, err := module.updatePost(author, post.ID, updateInput{Title: &newTitle})

	assert.NoError(t, err)
	assert.Equal(t, "segunda-edicao", updated.Slug)
}

func TestUpdatePost_ForbiddenForStranger(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	other := createTestUser(db, models.RoleAuthor)
	post := createTestPost(db, author.ID, "Mine", models.StatusPublished)

	title := "Taken Over"
	_, err := module.updatePost(other, post.ID, updateInput{Title: &title})
	assert.Error(t, err)
}

func TestTrashPost_SetsTrashBookkeeping(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	post := createTestPost(db, author.ID, "Doomed", models.StatusPublished)

	trashed, err := module.trashPost(author, post.ID)

	assert.NoError(t, err)
	assert.True(t, trashed.IsDeleted)
	assert.NotNil(t, trashed.DeletedAt)
	assert.NotNil(t, trashed.DeletedByID)
	assert.Equal(t, author.ID, *trashed.DeletedByID)
	// Status is untouched by trashing.
	assert.Equal(t, models.StatusPublished, trashed.Status)
}

func TestTrashPost_AlreadyTrashed(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	post := createTestPost(db, author.ID, "Doomed Twice", models.StatusPublished)

	_, err := module.trashPost(author, post.ID)
	assert.NoError(t, err)

	_, err = module.trashPost(author, post.ID)
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestRestorePost_AuthorGetsDraft(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	post := createTestPost(db, author.ID, "Phoenix", models.StatusPublished)

	_, err := module.trashPost(author, post.ID)
	assert.NoError(t, err)

	restored, err := module.restorePost(author, post.ID)

	assert.NoError(t, err)
	assert.False(t, restored.IsDeleted)
	assert.Nil(t, restored.DeletedAt)
	assert.Nil(t, restored.DeletedByID)
	assert.Equal(t, models.StatusDraft, restored.Status)
	assert.NotNil(t, restored.RestoredByID)
	assert.Equal(t, author.ID, *restored.RestoredByID)
}

func TestAdminRestorePost_GoesUnderReview(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	admin := createTestUser(db, models.RoleAdmin)
	post := createTestPost(db, author.ID, "Reviewed", models.StatusPublished)

	_, err := module.trashPost(author, post.ID)
	assert.NoError(t, err)

	restored, err := module.adminRestorePost(admin, post.ID)

	assert.NoError(t, err)
	assert.False(t, restored.IsDeleted)
	assert.Nil(t, restored.DeletedAt)
	assert.Nil(t, restored.DeletedByID)
	assert.Equal(t, models.StatusUnderReview, restored.Status)
}

func TestRestorePost_NotDeleted(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	post := createTestPost(db, author.ID, "Still Here", models.StatusPublished)

	_, err := module.restorePost(author, post.ID)
	assert.Error(t, err)
}

func TestRestorePost_AdminPathForbiddenForAuthor(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	post := createTestPost(db, author.ID, "Gate Kept", models.StatusPublished)

	_, err := module.trashPost(author, post.ID)
	assert.NoError(t, err)

	_, err = module.adminRestorePost(author, post.ID)
	assert.Error(t, err)
}

func TestUserPurgePost_AnonymizesAuthorship(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	post := createTestPost(db, author.ID, "Forget Me", models.StatusPublished)

	purged, err := module.userPurgePost(author, post.ID)

	assert.NoError(t, err)
	assert.True(t, purged.IsUserDeletedPermanently)
	assert.True(t, purged.IsDeleted)
	assert.NotNil(t, purged.OriginalAuthorID)
	assert.Equal(t, author.ID, *purged.OriginalAuthorID)
	assert.NotEqual(t, author.ID, purged.AuthorID)

	var anon models.User
	db.First(&anon, purged.AuthorID)
	assert.Equal(t, models.RoleAnonymous, anon.Role)
	assert.Equal(t, models.AnonymousEmail, anon.Email)

	// The reassignment must survive persistence, not just the returned
	// struct: a fresh read shows the sentinel as author.
	var stored models.Post
	db.First(&stored, post.ID)
	assert.Equal(t, anon.ID, stored.AuthorID)
	assert.NotEqual(t, author.ID, stored.AuthorID)
	assert.True(t, stored.IsUserDeletedPermanently)
}

func TestUserPurgePost_AnonymizesWithExistingSentinel(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)

	// Sentinel created before the post's author, so their ids differ and an
	// unpersisted reassignment cannot hide behind matching values.
	anon, err := identity.NewStore(db).ResolveAnonymous()
	assert.NoError(t, err)
	author := createTestUser(db, models.RoleAuthor)
	post := createTestPost(db, author.ID, "Forget Me Too", models.StatusPublished)

	purged, err := module.userPurgePost(author, post.ID)
	assert.NoError(t, err)
	assert.Equal(t, anon.ID, purged.AuthorID)

	var stored models.Post
	db.First(&stored, post.ID)
	assert.Equal(t, anon.ID, stored.AuthorID)
}

func TestUserPurgePost_Idempotent(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	post := createTestPost(db, author.ID, "Twice Forgotten", models.StatusPublished)

	first, err := module.userPurgePost(author, post.ID)
	assert.NoError(t, err)

	// The original author retries after the authorship already moved to the
	// sentinel: still a no-op success, not Forbidden.
	again, err := module.userPurgePost(author, post.ID)
	assert.NoError(t, err)
	assert.Equal(t, first.AuthorID, again.AuthorID)
	assert.Equal(t, *first.OriginalAuthorID, *again.OriginalAuthorID)

	// Strangers get nothing out of the retry path.
	stranger := createTestUser(db, models.RoleAuthor)
	_, err = module.userPurgePost(stranger, post.ID)
	assert.ErrorIs(t, err, common.ErrForbidden)

	var anonCount int64
	db.Model(&models.User{}).Where("role = ?", models.RoleAnonymous).Count(&anonCount)
	assert.Equal(t, int64(1), anonCount)
}

func TestRepublishPost_Handback(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	admin := createTestUser(db, models.RoleAdmin)
	post := createTestPost(db, author.ID, "Reclaimed", models.StatusPublished)

	_, err := module.userPurgePost(author, post.ID)
	assert.NoError(t, err)

	restored, err := module.adminRestorePost(admin, post.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusUnderReview, restored.Status)

	republished, err := module.republishPost(admin, post.ID, true)

	assert.NoError(t, err)
	assert.Equal(t, models.StatusPublished, republished.Status)
	assert.Equal(t, author.ID, republished.AuthorID)
	// Handback is one-shot.
	assert.Nil(t, republished.OriginalAuthorID)

	// Persisted too: the sentinel must not creep back in on a later read.
	var stored models.Post
	db.First(&stored, post.ID)
	assert.Equal(t, author.ID, stored.AuthorID)
	assert.Nil(t, stored.OriginalAuthorID)
}

func TestRepublishPost_WithoutHandback(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	admin := createTestUser(db, models.RoleAdmin)
	post := createTestPost(db, author.ID, "Kept Anonymous", models.StatusPublished)

	purged, err := module.userPurgePost(author, post.ID)
	assert.NoError(t, err)

	republished, err := module.republishPost(admin, post.ID, false)

	assert.NoError(t, err)
	assert.Equal(t, purged.AuthorID, republished.AuthorID)
	assert.NotNil(t, republished.OriginalAuthorID)
}

func TestAdminPurgePost_RemovesDependents(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	admin := createTestUser(db, models.RoleAdmin)
	reader := createTestUser(db, models.RoleReader)
	post := createTestPost(db, author.ID, "Scorched", models.StatusPublished)

	comment := models.Comment{PostID: post.ID, UserID: reader.ID, Content: "nice", IsApproved: true}
	db.Create(&comment)
	db.Create(&models.CommentLike{CommentID: comment.ID, UserID: author.ID})
	db.Create(&models.PostLike{PostID: post.ID, UserID: reader.ID})

	err := module.adminPurgePost(admin, post.ID)
	assert.NoError(t, err)

	var posts, comms, clikes, plikes int64
	db.Model(&models.Post{}).Where("id = ?", post.ID).Count(&posts)
	db.Model(&models.Comment{}).Where("post_id = ?", post.ID).Count(&comms)
	db.Model(&models.CommentLike{}).Where("comment_id = ?", comment.ID).Count(&clikes)
	db.Model(&models.PostLike{}).Where("post_id = ?", post.ID).Count(&plikes)
	assert.Zero(t, posts)
	assert.Zero(t, comms)
	assert.Zero(t, clikes)
	assert.Zero(t, plikes)
}

func TestToggleLike_FlipsMembership(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	reader := createTestUser(db, models.RoleReader)
	post := createTestPost(db, author.ID, "Likeable", models.StatusPublished)

	liked, total, err := module.toggleLike(reader, post.ID)
	assert.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, int64(1), total)

	liked, total, err = module.toggleLike(reader, post.ID)
	assert.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, int64(0), total)
}

func TestToggleLike_SurfacesStorageError(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	reader := createTestUser(db, models.RoleReader)
	post := createTestPost(db, author.ID, "Fragile", models.StatusPublished)

	assert.NoError(t, db.Migrator().DropTable(&models.PostLike{}))

	_, _, err := module.toggleLike(reader, post.ID)
	assert.Error(t, err)
}

func TestProcessPostTags_ReplacesSet(t *testing.T) {
	db := setupTestDB()
	module := setupTestModule(db)
	author := createTestUser(db, models.RoleAuthor)
	post := createTestPost(db, author.ID, "Tagged", models.StatusPublished)

	assert.NoError(t, module.processPostTags(post.ID, []string{"Go", "testing"}))
	assert.ElementsMatch(t, []string{"go", "testing"}, module.getPostTags(post.ID))

	assert.NoError(t, module.processPostTags(post.ID, []string{"go", "sqlite"}))
	assert.ElementsMatch(t, []string{"go", "sqlite"}, module.getPostTags(post.ID))
}

func TestGenerateSlug(t *testing.T) {
	assert.Equal(t, "hello-world", generateSlug("Hello World"))
	assert.Equal(t, "cafe-com-acucar", generateSlug("Café com Açúcar"))
	assert.Equal(t, "a-b", generateSlug("  a---b  "))
	assert.Equal(t, "", generateSlug("!!!"))
}
