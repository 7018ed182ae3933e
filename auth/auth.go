package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"inkwell/common"
	emailpkg "inkwell/email"
	"inkwell/identity"
	"inkwell/models"
)

const (
	maxLoginAttempts = 5
	lockDuration     = 2 * time.Hour

	maxResetAttempts = 3
	resetWindow      = 2 * time.Hour
	resetTokenTTL    = 10 * time.Minute
	resetOTPTTL      = 5 * time.Minute
)

type AuthModule struct {
	db    *gorm.DB
	users *identity.Store
	email *emailpkg.EmailService
}

func NewAuthModule(db *gorm.DB, users *identity.Store) *AuthModule {
	return &AuthModule{
		db:    db,
		users: users,
		email: emailpkg.NewEmailService(),
	}
}

func (a *AuthModule) RegisterRoutes(router *gin.Engine) {
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", a.register)
		authGroup.POST("/login", a.login)
		authGroup.POST("/forgot-password", a.forgotPassword)
		authGroup.PUT("/reset-password/:token", a.resetPasswordWithToken)
		authGroup.PUT("/reset-password-otp", a.resetPasswordWithOTP)
		authGroup.GET("/google", a.googleStart)
		authGroup.POST("/google/callback", a.googleCallback)
	}
	router.GET("/me", a.RequireAuth, a.me)
}

type registerRequest struct {
	Name     string `json:"name" binding:"required,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

func (a *AuthModule) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.AbortWithError(c, common.Validationf("invalid registration payload"))
		return
	}

	if _, err := a.users.FindByEmail(req.Email); err == nil {
		common.AbortWithError(c, common.Conflictf("user already exists"))
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "error creating account"})
		return
	}

	user := models.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         models.RoleReader,
	}
	if err := a.users.Create(&user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "error creating account"})
		return
	}

	token, err := a.issueToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "error issuing token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "token": token, "user": user})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (a *AuthModule) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.AbortWithError(c, common.Validationf("invalid login payload"))
		return
	}

	user, err := a.users.FindByEmail(req.Email)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid credentials"})
		return
	}

	now := time.Now()
	if user.IsLocked(now) {
		c.JSON(http.StatusLocked, gin.H{"success": false, "message": "account is locked"})
		return
	}

	if !checkPasswordHash(req.Password, user.PasswordHash) {
		a.recordFailedLogin(user, now)
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid credentials"})
		return
	}

	user.LockUntil = nil
	user.LoginAttempts = 0
	user.LastLogin = &now
	user.LoginCount++
	if err := a.users.Save(user); err != nil {
		log.Printf("error updating login state for user %d: %v", user.ID, err)
	}

	token, err := a.issueToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "error issuing token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "token": token, "user": user})
}

// recordFailedLogin bumps the attempt counter and locks the account once the
// threshold is crossed. An expired lock resets the counter to 1.
func (a *AuthModule) recordFailedLogin(user *models.User, now time.Time) {
	if user.LockUntil != nil && user.LockUntil.Before(now) {
		user.LockUntil = nil
		user.LoginAttempts = 1
	} else {
		user.LoginAttempts++
		if user.LoginAttempts >= maxLoginAttempts && !user.IsLocked(now) {
			lockUntil := now.Add(lockDuration)
			user.LockUntil = &lockUntil
		}
	}
	user.LastFailedLogin = &now
	if err := a.users.Save(user); err != nil {
		log.Printf("error recording failed login for user %d: %v", user.ID, err)
	}
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func (a *AuthModule) forgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.AbortWithError(c, common.Validationf("invalid payload"))
		return
	}

	user, err := a.users.FindByEmail(req.Email)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	now := time.Now()
	if user.FirstPasswordResetAttempt == nil || now.Sub(*user.FirstPasswordResetAttempt) >= resetWindow {
		user.PasswordResetAttempts = 0
		user.FirstPasswordResetAttempt = &now
	} else if user.PasswordResetAttempts >= maxResetAttempts {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"message": "too many password reset attempts, try again later",
		})
		return
	}
	user.PasswordResetAttempts++

	token, err := generateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "error generating reset token"})
		return
	}
	otp, err := generateOTP()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "error generating reset code"})
		return
	}

	tokenExpires := now.Add(resetTokenTTL)
	otpExpires := now.Add(resetOTPTTL)
	user.ResetPasswordToken = hashToken(token)
	user.ResetPasswordExpires = &tokenExpires
	user.ResetPasswordOTP = otp
	user.ResetPasswordOTPExpires = &otpExpires

	if err := a.users.Save(user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "error saving reset state"})
		return
	}

	clientURL := os.Getenv("CLIENT_URL")
	if clientURL == "" {
		clientURL = "http://localhost:3000"
	}
	resetURL := fmt.Sprintf("%s/reset-password/%s", clientURL, token)

	if err := a.email.SendPasswordResetEmail(user.Email, resetURL, otp); err != nil {
		log.Printf("error sending reset email to %s: %v", user.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "error sending reset email"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "password reset instructions sent"})
}

type resetPasswordRequest struct {
	Password string `json:"password" binding:"required,min=8"`
}

func (a *AuthModule) resetPasswordWithToken(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.AbortWithError(c, common.Validationf("invalid payload"))
		return
	}

	hashed := hashToken(c.Param("token"))
	var user models.User
	err := a.db.Where("reset_password_token = ? AND reset_password_expires > ?", hashed, time.Now()).
		First(&user).Error
	if err != nil {
		common.AbortWithError(c, common.Validationf("invalid or expired token"))
		return
	}

	a.applyNewPassword(c, &user, req.Password)
}

type resetOTPRequest struct {
	Email    string `json:"email" binding:"required,email"`
	OTP      string `json:"otp" binding:"required,len=6"`
	Password string `json:"password" binding:"required,min=8"`
}

func (a *AuthModule) resetPasswordWithOTP(c *gin.Context) {
	var req resetOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.AbortWithError(c, common.Validationf("invalid payload"))
		return
	}

	user, err := a.users.FindByEmail(req.Email)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	if user.ResetPasswordOTP == "" || user.ResetPasswordOTP != req.OTP ||
		user.ResetPasswordOTPExpires == nil || user.ResetPasswordOTPExpires.Before(time.Now()) {
		common.AbortWithError(c, common.Validationf("invalid or expired code"))
		return
	}

	a.applyNewPassword(c, user, req.Password)
}

func (a *AuthModule) applyNewPassword(c *gin.Context, user *models.User, password string) {
	hash, err := hashPassword(password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "error updating password"})
		return
	}

	user.PasswordHash = hash
	user.ResetPasswordToken = ""
	user.ResetPasswordExpires = nil
	user.ResetPasswordOTP = ""
	user.ResetPasswordOTPExpires = nil

	if err := a.users.Save(user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "error updating password"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "password reset successful"})
}

// googleStart hands the client the provider URL along with a state nonce kept
// in the session for the callback to verify.
func (a *AuthModule) googleStart(c *gin.Context) {
	state, err := generateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "error starting oauth flow"})
		return
	}

	session := sessions.Default(c)
	session.Set("oauth_state", state)
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "error saving session"})
		return
	}

	url := fmt.Sprintf(
		"https://accounts.google.com/o/oauth2/v2/auth?client_id=%s&redirect_uri=%s&response_type=code&scope=openid%%20email%%20profile&state=%s",
		os.Getenv("GOOGLE_CLIENT_ID"),
		os.Getenv("SERVER_URL")+"/auth/google/callback",
		state,
	)
	c.JSON(http.StatusOK, gin.H{"success": true, "url": url})
}

// googleCallback exchanges a verified identity assertion for a local user.
// Token verification against the provider lives in the upstream collaborator;
// here the assertion is matched by external id first, then linked by email,
// and finally a fresh reader account is created.
type googleCallbackRequest struct {
	State    string `json:"state" binding:"required"`
	GoogleID string `json:"google_id" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name" binding:"required"`
	Avatar   string `json:"avatar"`
}

func (a *AuthModule) googleCallback(c *gin.Context) {
	var req googleCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.AbortWithError(c, common.Validationf("invalid oauth payload"))
		return
	}

	session := sessions.Default(c)
	savedState, _ := session.Get("oauth_state").(string)
	session.Delete("oauth_state")
	session.Save()
	if savedState == "" || savedState != req.State {
		common.AbortWithError(c, common.Forbiddenf("oauth state mismatch"))
		return
	}

	user, err := a.users.FindByGoogleID(req.GoogleID)
	if err != nil {
		// Not linked yet: attach to an existing local account with the same
		// email, or create a new one.
		user, err = a.users.FindByEmail(req.Email)
		if err == nil {
			user.GoogleID = &req.GoogleID
			if err := a.users.Save(user); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "error linking account"})
				return
			}
		} else {
			user = &models.User{
				Name:     req.Name,
				Email:    req.Email,
				GoogleID: &req.GoogleID,
				Avatar:   req.Avatar,
				Role:     models.RoleReader,
			}
			if err := a.users.Create(user); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "error creating account"})
				return
			}
		}
	}

	token, err := a.issueToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "error issuing token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "token": token, "user": user})
}

func (a *AuthModule) me(c *gin.Context) {
	user := CurrentUser(c)
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), 14)
	return string(bytes), err
}

func checkPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}
