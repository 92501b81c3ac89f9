// Package respond writes the JSON envelopes shared by all handlers.
package respond

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"
)

// Success wraps a successful payload.
type Success struct {
	Result interface{} `json:"result"`
}

// Error is the payload of every failed request.
type Error struct {
	Message string `json:"message"`
}

// Data writes raw bytes, used for image downloads.
func Data(c *ginext.Context, status int, contentType string, data []byte) {
	c.Data(status, contentType, data)
}

// JSON writes data as is.
func JSON(c *ginext.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// OK answers 200 with result in a Success envelope.
func OK(c *ginext.Context, result interface{}) {
	JSON(c, http.StatusOK, Success{Result: result})
}

// Accepted answers 202 for work that completes asynchronously.
func Accepted(c *ginext.Context, result interface{}) {
	JSON(c, http.StatusAccepted, Success{Result: result})
}

// Fail answers status with the error message.
func Fail(c *ginext.Context, status int, err error) {
	JSON(c, status, Error{Message: err.Error()})
}
