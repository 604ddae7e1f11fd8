package routes

import (
	"github.com/damoang/angple-chat/internal/handler"
	"github.com/damoang/angple-chat/internal/middleware"
	"github.com/damoang/angple-chat/pkg/jwt"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Handlers bundles every HTTP handler of the chat API
type Handlers struct {
	Messages    *handler.MessageHandler
	Reactions   *handler.ReactionHandler
	Attachments *handler.AttachmentHandler
	WS          *handler.WSHandler
	Health      *handler.HealthHandler
}

// Limits are the per-user budgets; sends and uploads are counted separately
type Limits struct {
	Sends   middleware.RateLimitConfig
	Uploads middleware.RateLimitConfig
}

// Setup configures all API routes
func Setup(router *gin.Engine, h Handlers, jwtManager *jwt.Manager, redisClient *redis.Client, limits Limits) {
	router.GET("/health", h.Health.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.JWTAuth(jwtManager)
	limitSends := middleware.RateLimitPerUser(redisClient, limits.Sends)
	limitUploads := middleware.RateLimitPerUser(redisClient, limits.Uploads)

	api := router.Group("/api/v1", middleware.SecurityHeaders(), auth)

	// 스코프 (class, campus) 별 메시지 로그
	scopes := api.Group("/scopes/:scope_id")
	{
		scopes.POST("/messages", limitSends, h.Messages.Append)
		scopes.GET("/messages", h.Messages.FetchRecent)
	}

	messages := api.Group("/messages")
	{
		messages.POST("/resolve", h.Messages.Resolve)
		messages.DELETE("/:id", h.Messages.Delete)
		messages.GET("/:id/reply-preview", h.Messages.ReplyPreview)
		messages.PUT("/:id/reactions", h.Reactions.Set)
		messages.POST("/:id/reactions/toggle", h.Reactions.Toggle)
	}

	api.POST("/attachments", limitUploads, h.Attachments.Upload)

	// WebSocket: 브라우저는 헤더를 못 붙이므로 ?token= 도 허용
	router.GET("/ws/scopes/:scope_id", auth, h.WS.Connect)
}
