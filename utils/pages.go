package utils

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// RenderPage writes a static HTML page with an explicit status code.
// ctx.File cannot be used for error pages: http.ServeFile would overwrite the
// status with 200.
func RenderPage(ctx *gin.Context, status int, path string) {
	body, err := os.ReadFile(path)
	if err != nil {
		ctx.String(status, http.StatusText(status))
		return
	}
	ctx.Data(status, "text/html; charset=utf-8", body)
}
