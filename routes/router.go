package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/hashbbs/hashbbs/config"
	"github.com/hashbbs/hashbbs/controllers"
	"github.com/hashbbs/hashbbs/middleware"
	"github.com/hashbbs/hashbbs/models"
	"github.com/hashbbs/hashbbs/utils"
)

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(db *gorm.DB) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Access log and panic recovery go to their own rolling file.
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.Use(middleware.BodyLimit())
	r.MaxMultipartMemory = middleware.MaxBodyBytes

	r.Static("/static", "./static")

	authController := controllers.NewAuthController(db)
	postController := controllers.NewPostController(db)
	adminController := controllers.NewAdminController(db)
	statsController := controllers.NewStatsController(db)

	// Page shells
	r.GET("/", func(c *gin.Context) {
		c.File("./static/index.html")
	})
	r.GET("/post/:hash", postController.PostPage)
	r.GET("/admin/users",
		middleware.RequireRoles(db, models.RoleAdmin),
		adminController.UsersPage)

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	// Identity
	authLimited := r.Group("")
	authLimited.Use(middleware.RateLimitMiddleware())
	authLimited.POST("/register", authController.Register)
	authLimited.POST("/login", authController.Login)
	r.POST("/logout", authController.Logout)

	// Content
	r.POST("/create_post", middleware.AuthRequired(), postController.CreatePost)
	r.POST("/add_comment", middleware.AuthRequired(), postController.AddComment)
	r.GET("/uploads/:filename", postController.ServeUpload)
	r.POST("/edit_post/:hash",
		middleware.RequireRoles(db, models.RoleAdmin, models.RoleModerator),
		postController.EditPost)
	r.POST("/delete_post/:hash",
		middleware.RequireRoles(db, models.RoleAdmin, models.RoleModerator),
		postController.DeletePost)

	// JSON API
	api := r.Group("/api")
	api.GET("/posts", middleware.AuthRequired(), postController.ListPosts)
	api.GET("/comments/:hash", postController.ListComments)
	api.GET("/user", authController.CurrentUser)
	api.GET("/user_stats", middleware.AuthRequired(), authController.UserStats)
	api.GET("/stats", statsController.GetStats)
	api.GET("/admin/users",
		middleware.RequireRoles(db, models.RoleAdmin),
		adminController.ListUsers)

	// Admin
	r.POST("/admin/delete_user/:id",
		middleware.RequireRoles(db, models.RoleAdmin),
		adminController.DeleteUser)

	r.NoRoute(func(ctx *gin.Context) {
		path := ctx.Request.URL.Path
		if strings.HasPrefix(path, "/api/") {
			utils.Error(ctx, http.StatusNotFound, "api route not found")
			return
		}
		utils.RenderPage(ctx, http.StatusNotFound, "./static/404.html")
	})

	return r
}
