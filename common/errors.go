package common

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Failure taxonomy shared by every module. Modules wrap these with
// fmt.Errorf("...: %w", Err...) so handlers can map to HTTP without
// inspecting messages.
var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
)

func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

func Forbiddenf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrForbidden)...)
}

func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

// IsDuplicateKey reports whether err is a unique-constraint violation. The
// sqlite driver surfaces these as plain errors unless gorm's translation is
// on, so the message is matched as a fallback.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint")
}

// TranslateDbErr converts gorm's not-found into the taxonomy so callers never
// leak storage errors upward.
func TranslateDbErr(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFoundf("%s", what)
	}
	return err
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// AbortWithError writes the JSON error envelope for a taxonomy error.
func AbortWithError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"success": false, "message": err.Error()})
}
