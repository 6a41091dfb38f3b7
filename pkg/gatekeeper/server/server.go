package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/admin"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/apikeys"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/auth"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/directory"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/gate"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/groups"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/importexport"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/logging"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/metrics"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/permissions"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps are the collaborators the HTTP surface is built from
type Deps struct {
	DB  *gorm.DB
	Log *zap.Logger
	// Metrics is optional; nil disables /metrics and the recorders
	Metrics *metrics.Metrics
}

// New builds the router with every route mounted
func New(d Deps) *gin.Engine {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	var denials gate.DenialRecorder
	var storeOpts []directory.Option
	if d.Metrics != nil {
		denials = d.Metrics
		storeOpts = append(storeOpts, directory.WithDiscardRecorder(d.Metrics))
	}
	store := directory.NewStore(d.DB, log, storeOpts...)

	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware(log))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware())
		r.GET("/metrics", d.Metrics.Handler())
	}

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// API routes
	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "ok",
				"service": "gatekeeper",
			})
		})

		jwtAuth := auth.AuthMiddleware(d.DB)

		// Combined auth middleware (accepts JWT or API key)
		combinedAuth := apikeys.CombinedAuthMiddleware(d.DB, log)

		// Auth routes (public, except /me and /deactivate)
		authHandler := auth.NewHandler(d.DB, store, log)
		authHandler.RegisterRoutes(api.Group("/auth"), combinedAuth)

		// API keys routes (JWT only - need to be logged in to manage keys)
		apiKeysHandler := apikeys.NewHandler(d.DB, log)
		apiKeysHandler.RegisterRoutes(api.Group("", jwtAuth))

		// Groups routes (protected - accepts JWT or API key)
		groupsHandler := groups.NewHandler(d.DB, store, log, denials)
		groupsGroup := api.Group("/groups")
		groupsGroup.Use(combinedAuth)
		groupsHandler.RegisterRoutes(groupsGroup)
		groupsHandler.RegisterMemberRoutes(groupsGroup)

		// Admin routes (JWT only, admin panel access required)
		adminGroup := api.Group("/admin")
		adminGroup.Use(jwtAuth, gate.RequireCapability(permissions.AccessAdminPanel, denials))
		admin.NewHandler(d.DB, store, log, denials).RegisterRoutes(adminGroup)
		importexport.NewHandler(d.DB, store, log, denials).RegisterRoutes(adminGroup)
	}

	return r
}
