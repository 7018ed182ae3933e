package posts

import (
	"strings"

	"gorm.io/gorm"

	"inkwell/models"
)

// processPostTags replaces the post's tag set. Tags are created on first use
// and shared between posts.
func (p *PostModule) processPostTags(postID uint, tags []string) error {
	result := p.db.Where("post_id = ?", postID).Delete(&models.PostTag{})
	if result.Error != nil {
		return result.Error
	}

	for _, tagName := range tags {
		tagName = strings.ToLower(strings.TrimSpace(tagName))
		if tagName == "" {
			continue
		}

		var tag models.Tag
		err := p.db.Where("title = ?", tagName).First(&tag).Error
		if err == gorm.ErrRecordNotFound {
			tag = models.Tag{Title: tagName}
			if err := p.db.Create(&tag).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		postTag := models.PostTag{PostID: postID, TagID: tag.ID}
		if err := p.db.Create(&postTag).Error; err != nil {
			// Duplicate assignment is fine; the composite index keeps the
			// set semantics.
			continue
		}
	}

	return nil
}

func (p *PostModule) getPostTags(postID uint) []string {
	var postTags []models.PostTag
	if err := p.db.Where("post_id = ?", postID).Find(&postTags).Error; err != nil {
		return nil
	}
	if len(postTags) == 0 {
		return nil
	}

	var tagIDs []uint
	for _, pt := range postTags {
		tagIDs = append(tagIDs, pt.TagID)
	}

	var tags []models.Tag
	if err := p.db.Where("id IN ?", tagIDs).Find(&tags).Error; err != nil {
		return nil
	}

	var titles []string
	for _, tag := range tags {
		titles = append(titles, tag.Title)
	}
	return titles
}

// postIDsMatchingTag returns ids of posts carrying a tag that matches the
// search term. Used by search to cover the tag axis.
func (p *PostModule) postIDsMatchingTag(term string) []uint {
	var tagIDs []uint
	p.db.Model(&models.Tag{}).Where("title LIKE ?", "%"+strings.ToLower(term)+"%").
		Pluck("id", &tagIDs)
	if len(tagIDs) == 0 {
		return nil
	}

	var postIDs []uint
	p.db.Model(&models.PostTag{}).Where("tag_id IN ?", tagIDs).
		Distinct().Pluck("post_id", &postIDs)
	return postIDs
}
