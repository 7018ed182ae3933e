package models

import "time"

// User roles. Exactly one user with RoleAnonymous exists per system; it is the
// reassignment target for user-initiated permanent deletes.
const (
	RoleAdmin     = "admin"
	RoleAuthor    = "author"
	RoleReader    = "reader"
	RoleAnonymous = "anonymous"
)

// Post publication status. Orthogonal to the IsDeleted trash flag.
const (
	StatusDraft       = "draft"
	StatusUnderReview = "under_review"
	StatusPublished   = "published"
)

// AnonymousEmail is the reserved address of the sentinel user. The unique
// index on users.email is what keeps concurrent first-use creation safe.
const AnonymousEmail = "anonymous@system.local"

type User struct {
	ID           uint      `gorm:"primary_key;autoIncrement" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Name         string    `gorm:"not null" json:"name"`
	Email        string    `gorm:"unique;not null" json:"email"`
	PasswordHash string    `json:"-"` // empty for federated-only accounts
	GoogleID     *string   `gorm:"uniqueIndex" json:"-"`
	Role         string    `gorm:"not null;default:'reader'" json:"role"`
	Bio          string    `gorm:"type:text" json:"bio"`
	Avatar       string    `json:"avatar"`
	IsActive     bool      `gorm:"default:true" json:"is_active"`

	// Login security state, mutated only by the auth module.
	LastLogin       *time.Time `json:"last_login,omitempty"`
	LoginCount      int        `gorm:"default:0" json:"-"`
	LoginAttempts   int        `gorm:"default:0" json:"-"`
	LastFailedLogin *time.Time `json:"-"`
	LockUntil       *time.Time `json:"-"`

	// Password reset state: hashed link token plus short-lived OTP, with a
	// windowed attempt counter.
	ResetPasswordToken        string     `json:"-"`
	ResetPasswordExpires      *time.Time `json:"-"`
	ResetPasswordOTP          string     `json:"-"`
	ResetPasswordOTPExpires   *time.Time `json:"-"`
	PasswordResetAttempts     int        `gorm:"default:0" json:"-"`
	FirstPasswordResetAttempt *time.Time `json:"-"`
}

// IsLocked reports whether the account is currently locked out.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockUntil != nil && u.LockUntil.After(now)
}

// ContentBlock is one ordered unit of post body.
type ContentBlock struct {
	Kind  string `json:"type"` // text, image or heading
	Value string `json:"value"`
}

type Post struct {
	ID        uint      `gorm:"primary_key;autoIncrement" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Title         string         `gorm:"not null" json:"title"`
	Slug          string         `gorm:"unique;not null;index" json:"slug"`
	Category      string         `gorm:"not null;default:'Uncategorized'" json:"category"`
	CoverImage    string         `json:"cover_image"`
	Status        string         `gorm:"not null;default:'draft';index" json:"status"`
	ContentBlocks []ContentBlock `gorm:"serializer:json;type:text" json:"content_blocks"`
	ViewsCount    int64          `gorm:"default:0" json:"views_count"`

	AuthorID uint `gorm:"not null;index" json:"author_id"`
	Author   User `gorm:"foreignKey:AuthorID" json:"author"`

	// Trash state. IsDeleted=false must imply DeletedAt/DeletedBy nil, and
	// the converse. DeletedAt is deliberately *time.Time, not gorm.DeletedAt:
	// trashed rows stay visible to admin queries.
	IsDeleted    bool       `gorm:"default:false;index" json:"is_deleted"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	DeletedByID  *uint      `json:"deleted_by,omitempty"`
	RestoredAt   *time.Time `json:"restored_at,omitempty"`
	RestoredByID *uint      `json:"restored_by,omitempty"`

	// Permanent user-delete: authorship moved to the anonymous sentinel,
	// original author preserved for admin-assisted handback.
	IsUserDeletedPermanently bool  `gorm:"default:false" json:"is_user_deleted_permanently"`
	OriginalAuthorID         *uint `json:"original_author,omitempty"`
}

type Tag struct {
	ID    uint   `gorm:"primary_key;autoIncrement" json:"id"`
	Title string `gorm:"unique;not null" json:"title"`
}

type PostTag struct {
	ID     uint `gorm:"primary_key;autoIncrement" json:"id"`
	PostID uint `gorm:"not null;uniqueIndex:idx_post_tag" json:"post_id"`
	TagID  uint `gorm:"not null;uniqueIndex:idx_post_tag" json:"tag_id"`
}

// PostLike rows give the post like set its set semantics: the composite
// unique index makes concurrent toggles atomic inserts and deletes instead
// of read-modify-write over a cached slice.
type PostLike struct {
	ID     uint `gorm:"primary_key;autoIncrement" json:"id"`
	PostID uint `gorm:"not null;uniqueIndex:idx_post_like" json:"post_id"`
	UserID uint `gorm:"not null;uniqueIndex:idx_post_like" json:"user_id"`
}

type Comment struct {
	ID        uint      `gorm:"primary_key;autoIncrement" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PostID  uint   `gorm:"not null;index" json:"post_id"`
	UserID  uint   `gorm:"not null;index" json:"user_id"`
	User    User   `gorm:"foreignKey:UserID" json:"user"`
	Content string `gorm:"type:text;not null" json:"content"`

	// Nil means top-level. A set parent must belong to the same post.
	ParentCommentID *uint `gorm:"index" json:"parent_comment,omitempty"`

	IsHidden   bool `gorm:"default:false" json:"is_hidden"`
	IsApproved bool `gorm:"default:true" json:"is_approved"`
}

type CommentLike struct {
	ID        uint `gorm:"primary_key;autoIncrement" json:"id"`
	CommentID uint `gorm:"not null;uniqueIndex:idx_comment_like" json:"comment_id"`
	UserID    uint `gorm:"not null;uniqueIndex:idx_comment_like" json:"user_id"`
}

type CommentReport struct {
	ID        uint `gorm:"primary_key;autoIncrement" json:"id"`
	CommentID uint `gorm:"not null;uniqueIndex:idx_comment_report" json:"comment_id"`
	UserID    uint `gorm:"not null;uniqueIndex:idx_comment_report" json:"user_id"`
}
