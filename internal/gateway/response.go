// Package gateway exposes the HTTP surface consumed by the admin UI and
// third parties. Every route requires a bearer credential; handlers
// translate store errors into the response envelope.
package gateway

import "github.com/gin-gonic/gin"

// Response is the envelope returned by every endpoint.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries a machine-readable code and a human-readable message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message any    `json:"message"`
}

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Success: true, Data: data})
}

func respondError(c *gin.Context, status int, code string, message any) {
	c.JSON(status, Response{Success: false, Error: &ErrorBody{Code: code, Message: message}})
}
