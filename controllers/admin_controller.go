package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/hashbbs/hashbbs/models"
	"github.com/hashbbs/hashbbs/utils"
)

// AdminController implements admin-only user management.
type AdminController struct {
	db *gorm.DB
}

// NewAdminController creates an AdminController.
func NewAdminController(db *gorm.DB) *AdminController {
	return &AdminController{db: db}
}

type adminUserResponse struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	JoinDate string `json:"join_date"`
}

// UsersPage renders the user management shell. The role gate on the route has
// already established the caller is an admin.
func (a *AdminController) UsersPage(ctx *gin.Context) {
	ctx.File("./static/admin_users.html")
}

// ListUsers returns all accounts for the admin view.
func (a *AdminController) ListUsers(ctx *gin.Context) {
	var users []models.User
	if err := a.db.Order("created_at DESC").Find(&users).Error; err != nil {
		utils.Sugar.Errorf("list users failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, "failed to retrieve users")
		return
	}

	items := make([]adminUserResponse, 0, len(users))
	for _, u := range users {
		items = append(items, adminUserResponse{
			ID:       u.ID,
			Username: u.Username,
			Role:     u.Role,
			JoinDate: u.CreatedAt.Format("2006-01-02"),
		})
	}

	utils.Success(ctx, items)
}

// DeleteUser removes an account and everything hanging off it: the user's
// posts, the comments on those posts, and the user's own comments elsewhere.
// The whole cascade runs in one transaction so it cannot complete partially.
func (a *AdminController) DeleteUser(ctx *gin.Context) {
	id := ctx.Param("id")

	var user models.User
	if err := a.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Fail(ctx, "user not found")
			return
		}
		utils.Sugar.Errorf("delete user lookup failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, "failed to load user")
		return
	}

	err := a.db.Transaction(func(tx *gorm.DB) error {
		var postIDs []uint
		if err := tx.Model(&models.Post{}).Where("user_id = ?", user.ID).Pluck("id", &postIDs).Error; err != nil {
			return err
		}
		if len(postIDs) > 0 {
			if err := tx.Where("post_id IN ?", postIDs).Delete(&models.Comment{}).Error; err != nil {
				return err
			}
			if err := tx.Where("user_id = ?", user.ID).Delete(&models.Post{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
	if err != nil {
		utils.Sugar.Errorf("delete user cascade failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, "failed to delete user")
		return
	}

	utils.InvalidateByPrefix(postListCachePrefix)
	utils.Success(ctx, nil)
}
