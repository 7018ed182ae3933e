package auth

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"inkwell/models"
)

const currentUserKey = "currentUser"

func jwtSecret() []byte {
	return []byte(os.Getenv("JWT_SECRET"))
}

func (a *AuthModule) issueToken(userID uint) (string, error) {
	ttl := 24 * time.Hour
	if raw := os.Getenv("JWT_EXPIRE"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			ttl = parsed
		}
	}

	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret())
}

func parseToken(raw string) (uint, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return jwtSecret(), nil
	})
	if err != nil {
		return 0, err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return 0, fmt.Errorf("invalid token")
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid subject claim")
	}
	return uint(id), nil
}

func bearerToken(c *gin.Context) string {
	if cookie, err := c.Cookie("token"); err == nil && cookie != "" {
		return cookie
	}
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// RequireAuth loads the caller from the token and attaches it to the context.
func (a *AuthModule) RequireAuth(c *gin.Context) {
	raw := bearerToken(c)
	if raw == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "no token provided"})
		return
	}

	userID, err := parseToken(raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "token is invalid or expired"})
		return
	}

	user, err := a.users.FindByID(userID)
	if err != nil || !user.IsActive {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "user not found or token invalid"})
		return
	}

	c.Set(currentUserKey, user)
	c.Next()
}

// OptionalAuth attaches the caller when a valid token is present but lets
// anonymous requests through. Public reads use it for view-only decorations.
func (a *AuthModule) OptionalAuth(c *gin.Context) {
	if raw := bearerToken(c); raw != "" {
		if userID, err := parseToken(raw); err == nil {
			if user, err := a.users.FindByID(userID); err == nil && user.IsActive {
				c.Set(currentUserKey, user)
			}
		}
	}
	c.Next()
}

// RequireRoles gates a route to the given roles. Must run after RequireAuth.
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "no token provided"})
			return
		}
		for _, role := range roles {
			if user.Role == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "user role not authorized"})
	}
}

// CurrentUser returns the authenticated caller, or nil on public routes.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(currentUserKey)
	if !ok {
		return nil
	}
	user, ok := v.(*models.User)
	if !ok {
		return nil
	}
	return user
}
