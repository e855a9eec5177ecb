package httpapi

import (
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/deixis/typhonweb/internal/i18n"
	"github.com/deixis/typhonweb/internal/metrics"
)

// CORS allows the console to be served from the listed origins. With no
// origins, no CORS headers are sent and cross-origin requests are refused.
func CORS(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return sameOriginOnly
	}
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Content-Length",
			"Accept",
			"Accept-Language",
			"Origin",
			"Cache-Control",
			"X-Requested-With",
			"Mcp-Session-Id",
		},
		ExposeHeaders: []string{"Mcp-Session-Id"},
		MaxAge:        12 * time.Hour,
	}
	if allowsAll(origins) {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func allowsAll(origins []string) bool {
	return slices.Contains(origins, "*")
}

func sameOriginOnly(c *gin.Context) {
	if origin := c.GetHeader("Origin"); origin != "" && !isSameOrigin(origin, c.Request.Host) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"ok":    false,
			"error": i18n.T(requestLang(c), "error.origin"),
		})
		return
	}
	c.Next()
}

func isSameOrigin(origin, host string) bool {
	u, err := url.Parse(origin)
	return err == nil && u.Host != "" && strings.EqualFold(u.Host, host)
}

// originAllowed applies the CORS policy to requests that bypass it, such
// as WebSocket upgrades.
func originAllowed(origins []string, origin, host string) bool {
	return origin == "" ||
		isSameOrigin(origin, host) ||
		allowsAll(origins) ||
		slices.Contains(origins, origin)
}

// RateLimit limits requests per client IP. Limiters idle for longer than
// idleTTL are forgotten on the next request.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	const idleTTL = 10 * time.Minute

	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		mu        sync.Mutex
		clients   = make(map[string]*client)
		lastSweep time.Time
	)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		now := time.Now()

		mu.Lock()
		if now.Sub(lastSweep) > idleTTL {
			for k, cl := range clients {
				if now.Sub(cl.lastSeen) > idleTTL {
					delete(clients, k)
				}
			}
			lastSweep = now
		}
		cl, ok := clients[ip]
		if !ok {
			cl = &client{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			clients[ip] = cl
		}
		cl.lastSeen = now
		limiter := cl.limiter
		mu.Unlock()

		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"ok":    false,
				"error": i18n.T(requestLang(c), "error.rate_limited"),
			})
			return
		}
		c.Next()
	}
}

// RequestLog logs every request and records it in m.
func RequestLog(log *zap.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.Request(c.Request.Method, route, strconv.Itoa(status), elapsed)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		case route == "/api/health" || route == "/metrics":
			log.Debug("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// requestLang picks the response language from the lang query parameter,
// then the lang cookie, then Accept-Language.
func requestLang(c *gin.Context) i18n.Lang {
	cookie, _ := c.Cookie("lang")
	return i18n.Negotiate(c.Query("lang"), cookie, c.GetHeader("Accept-Language"))
}
