package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feedhive/feedhive/app/database"
	"github.com/feedhive/feedhive/app/hub"
)

func NewHandler(feedRepo database.FeedRepository, articleRepo database.ArticleRepository,
	subscriptionRepo database.SubscriptionRepository, stateRepo database.UserArticleStateRepository,
	pendingRepo database.PendingFeedRepository, jobRepo database.JobRepository,
	enqueuer JobEnqueuer, notificationHub *hub.Hub, identity Identity) *Handler {
	return &Handler{
		feedRepo:         feedRepo,
		articleRepo:      articleRepo,
		subscriptionRepo: subscriptionRepo,
		stateRepo:        stateRepo,
		pendingRepo:      pendingRepo,
		jobRepo:          jobRepo,
		enqueuer:         enqueuer,
		hub:              notificationHub,
		identity:         identity,
	}
}

// NewServer creates a new HTTP server with all routes configured
func NewServer(handler *Handler, apiAccessKey string) *gin.Engine {
	// Set Gin mode (can be controlled via GIN_MODE environment variable)
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// Middleware
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	r.Use(gin.Recovery())

	// CORS middleware for API endpoints
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key, "+DefaultIdentityHeader)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Routes
	setupRoutes(r, handler, apiAccessKey)

	return r
}

// setupRoutes configures all the application routes
func setupRoutes(r *gin.Engine, handler *Handler, apiAccessKey string) {
	// Health and status endpoints
	r.GET("/health", handler.GetHealth)
	r.GET("/stats", handler.GetStats)

	// Live notification channel
	r.GET("/ws", identityMiddleware(handler.identity), handler.Websocket)

	// User endpoints, all tied to the acting user
	api := r.Group("/api")
	api.Use(identityMiddleware(handler.identity))
	{
		api.POST("/feeds", handler.AddFeed)
		api.GET("/feeds", handler.ListFeeds)
		api.POST("/feeds/:id/refresh", handler.RefreshFeed)
		api.DELETE("/feeds/:id", handler.Unsubscribe)
		api.POST("/pending/:id/choose", handler.ChooseFeedCandidate)
		api.PUT("/articles/:id/state", handler.UpdateArticleState)
	}

	// Admin endpoints (conditionally enabled with authentication)
	if apiAccessKey != "" {
		admin := r.Group("/api/admin")
		admin.Use(authMiddleware(apiAccessKey))
		{
			admin.POST("/sweep", handler.TriggerSweep)
			admin.PATCH("/feeds/:id/active", handler.SetFeedActive)
		}
		slog.Info("Admin endpoints enabled")
	} else {
		slog.Info("Admin endpoints disabled (API access key not set)")
	}

	// Root endpoint with basic information
	r.GET("/", func(c *gin.Context) {
		endpoints := map[string]string{
			"health": "/health",
			"stats":  "/stats",
			"ws":     "/ws (requires " + DefaultIdentityHeader + " header)",
			"feeds":  "/api/feeds (requires " + DefaultIdentityHeader + " header)",
		}

		if apiAccessKey != "" {
			endpoints["admin"] = "/api/admin (requires X-API-Key header)"
		}

		c.JSON(200, gin.H{
			"service":     "FeedHive",
			"version":     "1.0.0",
			"description": "RSS/Atom feed ingestion service with durable job workflows and live notifications",
			"endpoints":   endpoints,
		})
	})

	// Favicon handler (return 204 to avoid 404s)
	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(204)
	})
}

const userContextKey = "userID"

// identityMiddleware resolves the acting user and rejects anonymous requests
func identityMiddleware(identity Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := identity.UserID(c.Request)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "User identity required",
				"message": "Provide the acting user id in the " + DefaultIdentityHeader + " header",
			})
			c.Abort()
			return
		}

		c.Set(userContextKey, userID)
		c.Next()
	}
}

// currentUser returns the user id resolved by identityMiddleware
func currentUser(c *gin.Context) string {
	return c.GetString(userContextKey)
}

// authMiddleware creates authentication middleware for admin endpoints
func authMiddleware(apiAccessKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get API key from X-API-Key header
		providedKey := c.GetHeader("X-API-Key")

		// Also check Authorization header with Bearer prefix
		if providedKey == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				providedKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if providedKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "API key required",
				"message": "Provide API key in X-API-Key header or Authorization: Bearer <key>",
			})
			c.Abort()
			return
		}

		if providedKey != apiAccessKey {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid API key",
				"message": "The provided API key is not valid",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
