package controllers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/hashbbs/hashbbs/config"
	"github.com/hashbbs/hashbbs/middleware"
	"github.com/hashbbs/hashbbs/models"
	"github.com/hashbbs/hashbbs/utils"
)

// sessionDuration is how long an issued session token stays valid unless
// revoked by logout.
const sessionDuration = 7 * 24 * time.Hour

// AuthController handles registration, login, logout, and session lookups.
type AuthController struct {
	db *gorm.DB
}

// NewAuthController creates an AuthController.
func NewAuthController(db *gorm.DB) *AuthController {
	return &AuthController{db: db}
}

// Register creates a local account with a bcrypt-hashed password. Registering
// as moderator or admin requires the pre-provisioned secret code for that
// role; a wrong code creates no user record.
func (a *AuthController) Register(ctx *gin.Context) {
	username := strings.TrimSpace(ctx.PostForm("username"))
	password := ctx.PostForm("password")
	role := ctx.PostForm("role")
	secretCode := ctx.PostForm("secret_code")

	if username == "" || password == "" {
		utils.Fail(ctx, "username and password are required")
		return
	}
	if role == "" {
		role = models.RoleUser
	}
	if !models.ValidRole(role) {
		utils.Fail(ctx, "invalid role")
		return
	}

	var existing models.User
	if err := a.db.Where("username = ?", username).First(&existing).Error; err == nil {
		utils.Fail(ctx, "username already exists")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Sugar.Errorf("register lookup failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, "database error")
		return
	}

	if role != models.RoleUser {
		expected := config.Get().SecretCodes[role]
		if expected == "" || subtle.ConstantTimeCompare([]byte(secretCode), []byte(expected)) != 1 {
			utils.Fail(ctx, "invalid secret code")
			return
		}
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		utils.Sugar.Errorf("password hash failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, "failed to create user")
		return
	}

	user := models.User{Username: username, PasswordHash: hash, Role: role}
	if err := a.db.Create(&user).Error; err != nil {
		// The unique index is the last line of defense against a concurrent
		// registration of the same name.
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			utils.Fail(ctx, "username already exists")
			return
		}
		utils.Sugar.Errorf("register create failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, "failed to create user")
		return
	}

	utils.Success(ctx, nil)
}

// Login verifies credentials and establishes a session. The token is returned
// in the body for API clients and set as a cookie for browser clients.
func (a *AuthController) Login(ctx *gin.Context) {
	username := strings.TrimSpace(ctx.PostForm("username"))
	password := ctx.PostForm("password")

	var user models.User
	if err := a.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Fail(ctx, "invalid credentials")
			return
		}
		utils.Sugar.Errorf("login lookup failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, "database error")
		return
	}

	if !utils.CheckPassword(user.PasswordHash, password) {
		utils.Fail(ctx, "invalid credentials")
		return
	}

	token, err := utils.GenerateToken(user.ID, user.Username, user.Role, sessionDuration)
	if err != nil {
		utils.Sugar.Errorf("token issue failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, "failed to establish session")
		return
	}

	ctx.SetCookie(middleware.SessionCookieName, token, int(sessionDuration.Seconds()), "/", "", false, true)
	utils.Success(ctx, gin.H{"token": token})
}

// Logout revokes the current session token, if any. Always succeeds: logging
// out without a session is a no-op.
func (a *AuthController) Logout(ctx *gin.Context) {
	if token := middleware.SessionToken(ctx); token != "" {
		if claims, err := utils.ParseToken(token); err == nil {
			utils.BlacklistToken(token, claims.ExpiresAt.Time)
		}
	}
	ctx.SetCookie(middleware.SessionCookieName, "", -1, "/", "", false, true)
	utils.Success(ctx, nil)
}

// CurrentUser returns the logged-in user for the active session, or a null
// payload when the request is anonymous.
func (a *AuthController) CurrentUser(ctx *gin.Context) {
	claims, ok := middleware.ResolveSession(ctx)
	if !ok {
		utils.Success(ctx, nil)
		return
	}

	var user models.User
	if err := a.db.First(&user, claims.UserID).Error; err != nil {
		// Deleted since the token was issued: treat as anonymous.
		utils.Success(ctx, nil)
		return
	}

	utils.Success(ctx, gin.H{
		"id":       user.ID,
		"username": user.Username,
		"role":     user.Role,
	})
}

// UserStats returns the post count and join date for the current user.
func (a *AuthController) UserStats(ctx *gin.Context) {
	userID := ctx.GetUint(middleware.ContextUserIDKey)

	var user models.User
	if err := a.db.First(&user, userID).Error; err != nil {
		utils.Error(ctx, http.StatusUnauthorized, "you must be logged in to view user stats")
		return
	}

	var postCount int64
	if err := a.db.Model(&models.Post{}).Where("user_id = ?", userID).Count(&postCount).Error; err != nil {
		utils.Sugar.Errorf("user stats count failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, "database error")
		return
	}

	utils.Success(ctx, gin.H{
		"post_count": postCount,
		"join_date":  user.CreatedAt.Format("2006-01-02"),
	})
}
