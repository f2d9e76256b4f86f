package http

import (
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.ngs.io/ensemble-store/internal/adapter/store"
)

// SetupRouter creates the read-only inspection API over a store.
func SetupRouter(s store.Store, allowedOrigins []string) *gin.Engine {
	router := gin.Default()

	// Allow all origins when none, or "*", is configured.
	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = allowedOrigins
	}
	router.Use(cors.New(corsConfig))

	handler := NewHandler(s)

	// API v1 routes.
	v1 := router.Group("/v1")
	groups := v1.Group("/groups")
	groups.GET("", handler.ListGroups)
	groups.GET("/:group", handler.GetGroup)
	groups.GET("/:group/variables/:name/values", handler.GetValues)

	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
