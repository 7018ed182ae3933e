package comments

import (
	"time"

	"github.com/dustin/go-humanize"

	"inkwell/models"
)

// CommentNode is one comment with its view decorations and fully
// materialized replies.
type CommentNode struct {
	ID                 uint           `json:"id"`
	PostID             uint           `json:"post_id"`
	ParentCommentID    *uint          `json:"parentComment"`
	Content            string         `json:"content"`
	AuthorID           uint           `json:"author_id"`
	AuthorName         string         `json:"author_name"`
	IsHidden           bool           `json:"isHidden"`
	CreatedAt          time.Time      `json:"created_at"`
	CreatedAtFormatted string         `json:"createdAtFormatted"`
	TotalLikes         int64          `json:"total_likes"`
	ReplyCount         int            `json:"replyCount"`
	IsOwner            bool           `json:"isOwner"`
	CanEdit            bool           `json:"canEdit"`
	Replies            []*CommentNode `json:"replies"`
}

func (m *CommentModule) decorate(comment *models.Comment, caller *models.User) *CommentNode {
	node := &CommentNode{
		ID:                 comment.ID,
		PostID:             comment.PostID,
		ParentCommentID:    comment.ParentCommentID,
		Content:            comment.Content,
		AuthorID:           comment.UserID,
		IsHidden:           comment.IsHidden,
		CreatedAt:          comment.CreatedAt,
		CreatedAtFormatted: humanize.Time(comment.CreatedAt),
		Replies:            []*CommentNode{},
	}
	if comment.User.ID != 0 {
		node.AuthorName = comment.User.Name
	}

	m.db.Model(&models.CommentLike{}).Where("comment_id = ?", comment.ID).
		Count(&node.TotalLikes)

	if caller != nil {
		node.IsOwner = comment.UserID == caller.ID
		node.CanEdit = node.IsOwner || caller.Role == models.RoleAdmin
	}

	return node
}

// readTree returns one page of top-level comments, newest first, each with
// its reply thread materialized to full depth. Threads are walked level by
// level with a frontier map instead of recursing per node, so depth costs
// one query per level regardless of shape.
func (m *CommentModule) readTree(postID uint, page, limit int, caller *models.User) ([]*CommentNode, int64, error) {
	if err := m.postExists(postID); err != nil {
		return nil, 0, err
	}

	base := m.db.Model(&models.Comment{}).
		Where("post_id = ? AND parent_comment_id IS NULL AND is_approved = ?", postID, true)

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var topLevel []models.Comment
	err := m.db.Preload("User").
		Where("post_id = ? AND parent_comment_id IS NULL AND is_approved = ?", postID, true).
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&topLevel).Error
	if err != nil {
		return nil, 0, err
	}

	tree := make([]*CommentNode, 0, len(topLevel))
	frontier := make(map[uint]*CommentNode, len(topLevel))
	for i := range topLevel {
		node := m.decorate(&topLevel[i], caller)
		tree = append(tree, node)
		frontier[node.ID] = node
	}

	for len(frontier) > 0 {
		parentIDs := make([]uint, 0, len(frontier))
		for id := range frontier {
			parentIDs = append(parentIDs, id)
		}

		var children []models.Comment
		err := m.db.Preload("User").
			Where("parent_comment_id IN ? AND is_approved = ?", parentIDs, true).
			Order("created_at ASC").
			Find(&children).Error
		if err != nil {
			return nil, 0, err
		}

		next := make(map[uint]*CommentNode, len(children))
		for i := range children {
			parent := frontier[*children[i].ParentCommentID]
			node := m.decorate(&children[i], caller)
			parent.Replies = append(parent.Replies, node)
			parent.ReplyCount = len(parent.Replies)
			next[node.ID] = node
		}
		frontier = next
	}

	return tree, total, nil
}
