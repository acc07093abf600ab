package mw

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

type cachedResponse struct {
	status      int
	contentType string
	body        []byte
}

type bodyCacheWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyCacheWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w bodyCacheWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// ResponseCache keeps successful GET responses in memory keyed by request URI.
// Writes through Invalidate drop every entry under the written scope, so a
// user's listings are refreshed as soon as that user changes them.
type ResponseCache struct {
	store *cache.Cache
	ttl   time.Duration
}

// NewResponseCache creates a cache whose entries live for ttl.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{store: cache.New(ttl, 2*ttl), ttl: ttl}
}

// Cache serves repeated GET requests from memory. Only 2xx responses are
// stored, and a request sending "Cache-Control: no-cache" always reaches the
// handler. The X-Cache header reports HIT or MISS.
func (rc *ResponseCache) Cache() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := c.Request.URL.Path
		bypass := strings.Contains(c.GetHeader("Cache-Control"), "no-cache")
		if !bypass {
			if v, found := rc.store.Get(key); found {
				cached := v.(cachedResponse)
				c.Header("X-Cache", "HIT")
				c.Data(cached.status, cached.contentType, cached.body)
				c.Abort()
				return
			}
		}

		c.Header("X-Cache", "MISS")
		blw := &bodyCacheWriter{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		if status := blw.Status(); status >= 200 && status < 300 {
			rc.store.Set(key, cachedResponse{
				status:      status,
				contentType: blw.Header().Get("Content-Type"),
				body:        blw.body.Bytes(),
			}, rc.ttl)
		}
	}
}

// Invalidate drops cached entries under scope(c) once a write succeeds.
// An empty scope invalidates nothing.
func (rc *ResponseCache) Invalidate(scope func(c *gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Status() >= 300 {
			return
		}
		prefix := scope(c)
		if prefix == "" {
			return
		}
		for key := range rc.store.Items() {
			if strings.HasPrefix(key, prefix) {
				rc.store.Delete(key)
			}
		}
	}
}
