// Package middleware holds the gin middleware the HTTP Surface (C8) wires
// in front of every route: request correlation ids, panic recovery, CORS,
// and the admin bearer-token gate for log retrieval (spec.md §4.8, §6).
// The teacher's own router.go references a middleware package of the same
// shape (RequestID, Recovery, AuthRequired) that was not itself present in
// the retrieval pack; this package follows that same convention, written
// fresh, rather than inventing a different pattern.
package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDKey is the gin context key RequestID stores the correlation id
// under, and the key handlers read it back from to stamp job rows and log
// lines (SPEC_FULL.md §3 "request_id").
const RequestIDKey = "request_id"

// RequestID assigns a request id to every inbound request — the client's
// X-Request-Id header when present, otherwise a fresh UUID — and echoes it
// back on the X-Request-Id response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// RequestIDFrom extracts the correlation id set by RequestID.
func RequestIDFrom(c *gin.Context) string {
	if v, ok := c.Get(RequestIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Recovery converts a panic into a structured 500 instead of a crashed
// process, matching the teacher's explicit middleware.Recovery() (used in
// place of gin's own Recovery() in router.go, so the response body stays in
// the repo's own error shape rather than gin's default plain text).
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("component=httpapi panic=%v path=%s", r, c.Request.URL.Path)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal error",
				})
			}
		}()
		c.Next()
	}
}

// CORS implements spec.md §6's preflight contract: wide-open origin, the
// three verbs the surface actually exposes, and the two headers clients
// need (Content-Type for the job body, Auth for the log endpoints).
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type,Auth")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// AdminAuth gates the log-retrieval routes behind the shared bearer-style
// "Auth" header (spec.md §4.8, §7 Unauthorized). An empty configured token
// means the admin surface is unconfigured and every request is rejected,
// rather than silently accepting any (or no) header.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" || c.GetHeader("Auth") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
