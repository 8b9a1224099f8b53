package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
)

const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware keeps a caller supplied request id or mints one, and
// echoes it on the response.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = xid.New().String()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
