package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hashbbs/hashbbs/config"
	"github.com/hashbbs/hashbbs/middleware"
	"github.com/hashbbs/hashbbs/models"
	"github.com/hashbbs/hashbbs/utils"
)

const postListCachePrefix = "cache:posts:list"

// allowedExtensions are the file types recorded on upload. Files with other
// extensions are still stored, just without a file type tag.
var allowedExtensions = map[string]bool{
	"txt": true, "pdf": true, "png": true, "jpg": true, "jpeg": true, "gif": true,
}

// PostController manages posts and comments, addressed publicly by post hash.
type PostController struct {
	db *gorm.DB
}

// NewPostController creates a new PostController instance.
func NewPostController(db *gorm.DB) *PostController {
	return &PostController{db: db}
}

type postResponse struct {
	ID            uint   `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Content       string `json:"content"`
	Author        string `json:"author"`
	Date          string `json:"date"`
	CommentsCount int    `json:"comments_count"`
	FilePath      string `json:"file_path"`
	FileType      string `json:"file_type"`
	PostHash      string `json:"post_hash"`
}

type commentResponse struct {
	ID      uint   `json:"id"`
	Content string `json:"content"`
	Author  string `json:"author"`
	Date    string `json:"date"`
}

// CreatePost stores a new post for the authenticated user, along with its
// optional file attachment, and assigns a fresh post hash. A missing file is
// never an error.
func (p *PostController) CreatePost(ctx *gin.Context) {
	userID := ctx.GetUint(middleware.ContextUserIDKey)

	title := utils.Sanitize(strings.TrimSpace(ctx.PostForm("title")))
	description := utils.Sanitize(ctx.PostForm("description"))
	content := utils.Sanitize(ctx.PostForm("content"))
	if title == "" || content == "" {
		utils.Fail(ctx, "title and content are required")
		return
	}

	var fileName, fileType string
	if header, err := ctx.FormFile("file"); err == nil && header != nil {
		base := filepath.Base(header.Filename)
		if base == "." || base == "" {
			base = "upload"
		}
		// Server-controlled name: timestamp and author prevent collisions.
		fileName = fmt.Sprintf("%d_%d_%s", time.Now().UnixNano(), userID, base)

		uploadDir := config.Get().UploadDir
		if err := os.MkdirAll(uploadDir, 0o755); err != nil {
			utils.Sugar.Errorf("create upload directory failed: %v", err)
			utils.Error(ctx, http.StatusInternalServerError, "failed to store file")
			return
		}
		if err := ctx.SaveUploadedFile(header, filepath.Join(uploadDir, fileName)); err != nil {
			utils.Sugar.Errorf("save upload failed: %v", err)
			utils.Error(ctx, http.StatusInternalServerError, "failed to store file")
			return
		}

		if ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(base), ".")); allowedExtensions[ext] {
			fileType = ext
		}
	}

	post := models.Post{
		UserID:      userID,
		Title:       title,
		Description: description,
		Content:     content,
		FileName:    fileName,
		FileType:    fileType,
		PostHash:    uuid.NewString(),
	}

	if err := p.db.Create(&post).Error; err != nil {
		// Compensate for the file written just above; the row is the source
		// of truth for attachments.
		if fileName != "" {
			_ = os.Remove(filepath.Join(config.Get().UploadDir, fileName))
		}
		utils.Sugar.Errorf("create post failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, "failed to create post")
		return
	}

	utils.InvalidateByPrefix(postListCachePrefix)
	utils.Success(ctx, gin.H{"post_hash": post.PostHash})
}

// ListPosts returns all posts, newest first, including author and comment count.
func (p *PostController) ListPosts(ctx *gin.Context) {
	if b, ok := utils.CacheGetBytes(postListCachePrefix); ok {
		ctx.Data(http.StatusOK, "application/json", b)
		return
	}

	var posts []models.Post
	if err := p.db.Preload("User").Preload("Comments").Order("created_at DESC").Find(&posts).Error; err != nil {
		utils.Sugar.Errorf("list posts failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, "failed to list posts")
		return
	}

	items := make([]postResponse, 0, len(posts))
	for _, post := range posts {
		items = append(items, postResponse{
			ID:            post.ID,
			Title:         post.Title,
			Description:   post.Description,
			Content:       post.Content,
			Author:        post.User.Username,
			Date:          post.CreatedAt.Format("2006-01-02 15:04:05"),
			CommentsCount: len(post.Comments),
			FilePath:      post.FileName,
			FileType:      post.FileType,
			PostHash:      post.PostHash,
		})
	}

	utils.CacheSetJSON(postListCachePrefix, utils.JSONResponse{Success: true, Data: items}, time.Hour)
	utils.Success(ctx, items)
}

// PostPage renders the post detail shell, or the 404 page when the hash is
// unknown. This is the one route where not-found is a real HTTP 404.
func (p *PostController) PostPage(ctx *gin.Context) {
	hash := ctx.Param("hash")

	var post models.Post
	if err := p.db.Where("post_hash = ?", hash).First(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Sugar.Infof("no post found with hash: %s", hash)
			utils.RenderPage(ctx, http.StatusNotFound, "./static/404.html")
			return
		}
		utils.Sugar.Errorf("post page lookup failed: %v", err)
		utils.RenderPage(ctx, http.StatusInternalServerError, "./static/500.html")
		return
	}

	ctx.File("./static/post_detail.html")
}

// ListComments returns comments for a post hash, newest first.
func (p *PostController) ListComments(ctx *gin.Context) {
	hash := ctx.Param("hash")

	var comments []models.Comment
	if err := p.db.Where("post_hash = ?", hash).Order("created_at DESC").Find(&comments).Error; err != nil {
		utils.Sugar.Errorf("list comments failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, "failed to list comments")
		return
	}

	// Resolve authors in one query instead of preloading per row.
	authorNames := map[uint]string{}
	if len(comments) > 0 {
		userIDs := make([]uint, 0, len(comments))
		for _, c := range comments {
			userIDs = append(userIDs, c.UserID)
		}
		var users []models.User
		if err := p.db.Find(&users, utils.UniqueUint(userIDs)).Error; err == nil {
			for _, u := range users {
				authorNames[u.ID] = u.Username
			}
		} else {
			utils.Sugar.Warnf("load comment authors failed: %v", err)
		}
	}

	items := make([]commentResponse, 0, len(comments))
	for _, c := range comments {
		items = append(items, commentResponse{
			ID:      c.ID,
			Content: c.Content,
			Author:  authorNames[c.UserID],
			Date:    c.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}

	utils.Success(ctx, items)
}

// AddComment creates a comment on an existing post and redirects back to the
// post view. The comment carries a copy of the post hash taken from the post
// row, never from client input alone.
func (p *PostController) AddComment(ctx *gin.Context) {
	userID := ctx.GetUint(middleware.ContextUserIDKey)

	content := utils.Sanitize(strings.TrimSpace(ctx.PostForm("content")))
	hash := ctx.PostForm("post_hash")
	if content == "" {
		utils.Fail(ctx, "comment content is required")
		return
	}

	var post models.Post
	if err := p.db.Where("post_hash = ?", hash).First(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Fail(ctx, "post not found")
			return
		}
		utils.Sugar.Errorf("add comment lookup failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, "failed to load post")
		return
	}

	comment := models.Comment{
		PostID:   post.ID,
		UserID:   userID,
		PostHash: post.PostHash,
		Content:  content,
	}
	if err := p.db.Create(&comment).Error; err != nil {
		utils.Sugar.Errorf("create comment failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, "failed to create comment")
		return
	}

	utils.InvalidateByPrefix(postListCachePrefix)
	ctx.Redirect(http.StatusFound, "/post/"+post.PostHash)
}

// EditPost replaces the three mutable fields of a post. Moderator/admin only,
// enforced by the route's role gate.
func (p *PostController) EditPost(ctx *gin.Context) {
	hash := ctx.Param("hash")

	var post models.Post
	if err := p.db.Where("post_hash = ?", hash).First(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Fail(ctx, "post not found")
			return
		}
		utils.Sugar.Errorf("edit post lookup failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, "failed to load post")
		return
	}

	post.Title = utils.Sanitize(strings.TrimSpace(ctx.PostForm("title")))
	post.Description = utils.Sanitize(ctx.PostForm("description"))
	post.Content = utils.Sanitize(ctx.PostForm("content"))
	if err := p.db.Save(&post).Error; err != nil {
		utils.Sugar.Errorf("edit post save failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, "failed to update post")
		return
	}

	utils.InvalidateByPrefix(postListCachePrefix)
	utils.Success(ctx, nil)
}

// DeletePost removes a post and every comment referencing it in a single
// transaction, so a failure partway leaves both intact.
func (p *PostController) DeletePost(ctx *gin.Context) {
	hash := ctx.Param("hash")

	var post models.Post
	if err := p.db.Where("post_hash = ?", hash).First(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Fail(ctx, "post not found")
			return
		}
		utils.Sugar.Errorf("delete post lookup failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, "failed to load post")
		return
	}

	err := p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&post).Error
	})
	if err != nil {
		utils.Sugar.Errorf("delete post failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, "failed to delete post")
		return
	}

	utils.InvalidateByPrefix(postListCachePrefix)
	utils.Success(ctx, nil)
}

// ServeUpload serves a stored attachment by its server-assigned name.
func (p *PostController) ServeUpload(ctx *gin.Context) {
	// Base strips any path traversal from the request.
	name := filepath.Base(ctx.Param("filename"))
	path := filepath.Join(config.Get().UploadDir, name)
	if _, err := os.Stat(path); err != nil {
		utils.RenderPage(ctx, http.StatusNotFound, "./static/404.html")
		return
	}
	ctx.File(path)
}
