package posts

import (
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"inkwell/common"
	"inkwell/models"
)

// Lifecycle actions, checked through can(). Keeping the authorization table
// in one place instead of inline conditionals per handler.
type action int

const (
	actionUpdate action = iota
	actionTrash
	actionRestore
	actionAdminRestore
	actionRepublish
	actionUserPurge
	actionAdminPurge
)

// can is the single capability check for post transitions.
func can(caller *models.User, post *models.Post, act action) bool {
	isAdmin := caller.Role == models.RoleAdmin
	isOwner := post.AuthorID == caller.ID

	switch act {
	case actionUpdate, actionTrash:
		return isAdmin || isOwner
	case actionRestore, actionUserPurge:
		return isOwner
	case actionAdminRestore, actionRepublish, actionAdminPurge:
		return isAdmin
	}
	return false
}

type createInput struct {
	Title         string
	Category      string
	Tags          []string
	CoverImage    string
	Status        string
	ContentBlocks []models.ContentBlock
}

func (p *PostModule) createPost(caller *models.User, in createInput) (*models.Post, error) {
	slug := generateSlug(in.Title)
	if slug == "" {
		return nil, common.Validationf("title produces an empty slug")
	}

	var existing models.Post
	if err := p.db.Where("slug = ?", slug).First(&existing).Error; err == nil {
		return nil, common.Conflictf("a post with this title already exists")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	status := in.Status
	if status == "" {
		status = models.StatusDraft
	}
	if status != models.StatusDraft && status != models.StatusPublished {
		return nil, common.Validationf("new posts must be draft or published")
	}

	category := in.Category
	if category == "" {
		category = "Uncategorized"
	}

	post := models.Post{
		Title:         in.Title,
		Slug:          slug,
		Category:      category,
		CoverImage:    in.CoverImage,
		Status:        status,
		ContentBlocks: in.ContentBlocks,
		AuthorID:      caller.ID,
	}

	if err := p.db.Create(&post).Error; err != nil {
		return nil, err
	}

	if len(in.Tags) > 0 {
		if err := p.processPostTags(post.ID, in.Tags); err != nil {
			return nil, err
		}
	}

	return p.loadPost(post.ID)
}

type updateInput struct {
	Title         *string
	Category      *string
	Tags          []string
	CoverImage    *string
	Status        *string
	ContentBlocks []models.ContentBlock
}

func (p *PostModule) updatePost(caller *models.User, id uint, in updateInput) (*models.Post, error) {
	post, err := p.loadPost(id)
	if err != nil {
		return nil, err
	}
	if !can(caller, post, actionUpdate) {
		return nil, common.Forbiddenf("not authorized to update this post")
	}

	oldSlug := post.Slug

	if in.Title != nil && *in.Title != post.Title {
		slug := generateSlug(*in.Title)
		if slug == "" {
			return nil, common.Validationf("title produces an empty slug")
		}
		var other models.Post
		err := p.db.Where("slug = ? AND id <> ?", slug, post.ID).First(&other).Error
		if err == nil {
			return nil, common.Conflictf("a post with this title already exists")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		post.Title = *in.Title
		post.Slug = slug
	}
	if in.Category != nil {
		post.Category = *in.Category
	}
	if in.CoverImage != nil {
		post.CoverImage = *in.CoverImage
	}
	if in.Status != nil {
		switch *in.Status {
		case models.StatusDraft, models.StatusUnderReview, models.StatusPublished:
			post.Status = *in.Status
		default:
			return nil, common.Validationf("unknown status")
		}
	}
	if in.ContentBlocks != nil {
		post.ContentBlocks = in.ContentBlocks
	}

	if err := p.db.Save(post).Error; err != nil {
		return nil, err
	}

	if in.Tags != nil {
		if err := p.processPostTags(post.ID, in.Tags); err != nil {
			return nil, err
		}
	}

	p.invalidateRender(oldSlug, post.Slug)
	return p.loadPost(post.ID)
}

// trashPost moves a post to the trash. Status is left untouched so a restore
// can reason about what the post was.
func (p *PostModule) trashPost(caller *models.User, id uint) (*models.Post, error) {
	post, err := p.loadPost(id)
	if err != nil {
		return nil, err
	}
	if !can(caller, post, actionTrash) {
		return nil, common.Forbiddenf("not authorized to delete this post")
	}
	if post.IsDeleted {
		return nil, common.Conflictf("post is already in trash")
	}

	now := time.Now()
	post.IsDeleted = true
	post.DeletedAt = &now
	post.DeletedByID = &caller.ID

	if err := p.db.Save(post).Error; err != nil {
		return nil, err
	}
	p.invalidateRender(post.Slug, post.Slug)
	return post, nil
}

// restorePost is the author path out of the trash: the post comes back as a
// draft. The admin path differs only in the forced status, so both share this
// body. Restore clears DeletedAt and DeletedBy on both paths; the trash
// bookkeeping belongs to the deleted state only.
func (p *PostModule) restorePost(caller *models.User, id uint) (*models.Post, error) {
	return p.restore(caller, id, actionRestore, models.StatusDraft)
}

// adminRestorePost forces the restored post through a re-review gate instead
// of silently returning it to publication.
func (p *PostModule) adminRestorePost(caller *models.User, id uint) (*models.Post, error) {
	return p.restore(caller, id, actionAdminRestore, models.StatusUnderReview)
}

func (p *PostModule) restore(caller *models.User, id uint, act action, status string) (*models.Post, error) {
	post, err := p.loadPost(id)
	if err != nil {
		return nil, err
	}
	if !can(caller, post, act) {
		return nil, common.Forbiddenf("not authorized to restore this post")
	}
	if !post.IsDeleted {
		return nil, common.NotFoundf("post not found or not deleted")
	}

	now := time.Now()
	post.IsDeleted = false
	post.DeletedAt = nil
	post.DeletedByID = nil
	post.RestoredByID = &caller.ID
	post.RestoredAt = &now
	post.Status = status

	if err := p.db.Save(post).Error; err != nil {
		return nil, err
	}
	return post, nil
}

// republishPost publishes a restored post. With giveBackOwnership the
// preserved original author takes the post back; the handback consumes
// OriginalAuthorID so it can happen once.
func (p *PostModule) republishPost(caller *models.User, id uint, giveBackOwnership bool) (*models.Post, error) {
	post, err := p.loadPost(id)
	if err != nil {
		return nil, err
	}
	if !can(caller, post, actionRepublish) {
		return nil, common.Forbiddenf("only admin can republish posts")
	}

	// Column-level update: Save would let the preloaded Author association
	// re-derive author_id from the stale struct and undo the handback.
	updates := map[string]interface{}{"status": models.StatusPublished}
	if giveBackOwnership && post.OriginalAuthorID != nil {
		updates["author_id"] = *post.OriginalAuthorID
		updates["original_author_id"] = nil
	}

	if err := p.db.Model(&models.Post{}).Where("id = ?", post.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	return p.loadPost(post.ID)
}

// userPurgePost is the author's permanent delete: the record survives but
// authorship moves to the anonymous sentinel. Trashing is saved before
// anonymization so a sentinel failure still leaves the post trashed.
func (p *PostModule) userPurgePost(caller *models.User, id uint) (*models.Post, error) {
	post, err := p.loadPost(id)
	if err != nil {
		return nil, err
	}

	// Re-applying to an already anonymized post is a safe no-op. Checked
	// before ownership: authorship now points at the sentinel, so the
	// retrying original author would otherwise read as a stranger.
	if post.IsUserDeletedPermanently {
		if (post.OriginalAuthorID != nil && *post.OriginalAuthorID == caller.ID) ||
			post.AuthorID == caller.ID {
			return post, nil
		}
		return nil, common.Forbiddenf("only the author can permanently delete their post")
	}

	if !can(caller, post, actionUserPurge) {
		return nil, common.Forbiddenf("only the author can permanently delete their post")
	}

	if !post.IsDeleted {
		now := time.Now()
		post.IsDeleted = true
		post.DeletedAt = &now
		post.DeletedByID = &caller.ID
		if err := p.db.Save(post).Error; err != nil {
			return nil, err
		}
		p.invalidateRender(post.Slug, post.Slug)
	}

	anon, err := p.users.ResolveAnonymous()
	if err != nil {
		log.Printf("error resolving anonymous user: %v", err)
		return nil, err
	}

	// Column-level update for the same reason as republish: the preloaded
	// Author still holds the original user, and Save would write that id
	// straight back over the sentinel's.
	err = p.db.Model(&models.Post{}).Where("id = ?", post.ID).Updates(map[string]interface{}{
		"original_author_id":          post.AuthorID,
		"author_id":                   anon.ID,
		"is_user_deleted_permanently": true,
	}).Error
	if err != nil {
		return nil, err
	}
	return p.loadPost(post.ID)
}

// adminPurgePost erases the record and everything hanging off it. Terminal.
func (p *PostModule) adminPurgePost(caller *models.User, id uint) error {
	post, err := p.loadPost(id)
	if err != nil {
		return err
	}
	if !can(caller, post, actionAdminPurge) {
		return common.Forbiddenf("only admin can permanently delete posts")
	}

	err = p.db.Transaction(func(tx *gorm.DB) error {
		var commentIDs []uint
		if err := tx.Model(&models.Comment{}).Where("post_id = ?", post.ID).
			Pluck("id", &commentIDs).Error; err != nil {
			return err
		}
		if len(commentIDs) > 0 {
			if err := tx.Where("comment_id IN ?", commentIDs).Delete(&models.CommentLike{}).Error; err != nil {
				return err
			}
			if err := tx.Where("comment_id IN ?", commentIDs).Delete(&models.CommentReport{}).Error; err != nil {
				return err
			}
			if err := tx.Where("post_id = ?", post.ID).Delete(&models.Comment{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.PostLike{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.PostTag{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Post{}, post.ID).Error
	})
	if err != nil {
		return err
	}

	p.invalidateRender(post.Slug, post.Slug)
	return nil
}

// toggleLike flips the caller's membership in the like set. The delete and
// insert are single statements against the unique-indexed join table, so
// concurrent toggles by different users cannot clobber each other.
func (p *PostModule) toggleLike(caller *models.User, id uint) (liked bool, total int64, err error) {
	if _, err := p.loadPost(id); err != nil {
		return false, 0, err
	}

	res := p.db.Where("post_id = ? AND user_id = ?", id, caller.ID).Delete(&models.PostLike{})
	if res.Error != nil {
		return false, 0, res.Error
	}

	if res.RowsAffected == 0 {
		like := models.PostLike{PostID: id, UserID: caller.ID}
		if err := p.db.Create(&like).Error; err != nil {
			// A unique-index violation means a concurrent request already
			// added the like; the end state is the same. Anything else is a
			// real storage failure.
			if !common.IsDuplicateKey(err) {
				return false, 0, err
			}
			log.Printf("like insert for post %d user %d lost the race: %v", id, caller.ID, err)
		}
		liked = true
	}

	err = p.db.Model(&models.PostLike{}).Where("post_id = ?", id).Count(&total).Error
	return liked, total, err
}

func (p *PostModule) loadPost(id uint) (*models.Post, error) {
	var post models.Post
	if err := p.db.Preload("Author").First(&post, id).Error; err != nil {
		return nil, common.TranslateDbErr(err, "post")
	}
	return &post, nil
}

func (p *PostModule) likeCount(id uint) int64 {
	var total int64
	p.db.Model(&models.PostLike{}).Where("post_id = ?", id).Count(&total)
	return total
}
