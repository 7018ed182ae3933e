package identity

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"inkwell/common"
	"inkwell/models"
)

// Store is the user record surface the other modules depend on. Roles are
// plain attributes read for authorization; security fields are owned by the
// auth module.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) FindByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		return nil, common.TranslateDbErr(err, "user")
	}
	return &user, nil
}

func (s *Store) FindByEmail(email string) (*models.User, error) {
	var user models.User
	err := s.db.Where("email = ?", strings.ToLower(email)).First(&user).Error
	if err != nil {
		return nil, common.TranslateDbErr(err, "user")
	}
	return &user, nil
}

func (s *Store) FindByGoogleID(googleID string) (*models.User, error) {
	var user models.User
	err := s.db.Where("google_id = ?", googleID).First(&user).Error
	if err != nil {
		return nil, common.TranslateDbErr(err, "user")
	}
	return &user, nil
}

func (s *Store) Create(user *models.User) error {
	user.Email = strings.ToLower(user.Email)
	return s.db.Create(user).Error
}

func (s *Store) Save(user *models.User) error {
	return s.db.Save(user).Error
}

// ResolveAnonymous returns the sentinel anonymous user, creating it on first
// use. Safe under concurrent first callers: if two permanent deletes race,
// the second create hits the unique email index and re-fetches instead of
// producing a duplicate sentinel.
func (s *Store) ResolveAnonymous() (*models.User, error) {
	var user models.User
	err := s.db.Where("email = ?", models.AnonymousEmail).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = models.User{
		Name:  "Anonymous",
		Email: models.AnonymousEmail,
		Role:  models.RoleAnonymous,
		Bio:   "This content was released by its author.",
	}
	if createErr := s.db.Create(&user).Error; createErr != nil {
		// Lost the race: someone else created the sentinel between our
		// lookup and insert. Re-fetch it.
		var existing models.User
		if fetchErr := s.db.Where("email = ?", models.AnonymousEmail).First(&existing).Error; fetchErr == nil {
			return &existing, nil
		}
		return nil, createErr
	}
	return &user, nil
}
