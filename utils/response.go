package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// JSONResponse is the uniform envelope for API responses.
type JSONResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Respond writes a JSON envelope with the given HTTP status.
func Respond(ctx *gin.Context, status int, success bool, message string, data interface{}) {
	ctx.JSON(status, JSONResponse{
		Success: success,
		Message: message,
		Data:    data,
	})
}

// Success returns a standard success response.
func Success(ctx *gin.Context, data interface{}) {
	Respond(ctx, http.StatusOK, true, "", data)
}

// Fail reports a business-level failure (bad credentials, duplicate username,
// unknown post hash). These ride on HTTP 200: the request was handled, the
// operation was refused.
func Fail(ctx *gin.Context, message string) {
	Respond(ctx, http.StatusOK, false, message, nil)
}

// Error reports a protocol-level failure with a real HTTP status code,
// used for authentication, authorization, and storage errors.
func Error(ctx *gin.Context, status int, message string) {
	Respond(ctx, status, false, message, nil)
}
