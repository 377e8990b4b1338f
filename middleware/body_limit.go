package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaxBodyBytes caps request bodies at 10 MiB, covering multipart uploads.
const MaxBodyBytes = 10 << 20

// BodyLimit rejects request bodies larger than MaxBodyBytes. Reads past the
// cap fail inside the handler with http.MaxBytesError, which Gin's binding
// surfaces as a 400.
func BodyLimit() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, MaxBodyBytes)
		ctx.Next()
	}
}
