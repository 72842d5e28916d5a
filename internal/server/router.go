package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"skysurvey-agent/internal/apiclient"
	"skysurvey-agent/internal/gateway"
	"skysurvey-agent/internal/handler"
	"skysurvey-agent/internal/hub"
	"skysurvey-agent/internal/middleware"
	"skysurvey-agent/internal/netwatch"
	"skysurvey-agent/internal/store"
	"skysurvey-agent/internal/syncer"
	"skysurvey-agent/internal/watchdog"
)

type Deps struct {
	Store    *store.Store
	Gateway  *gateway.Gateway
	API      *apiclient.Client
	Net      *netwatch.Tracker
	Syncer   *syncer.Syncer
	Watchdog *watchdog.Watchdog
	Devices  gateway.DeviceIdentity
	Hub      *hub.Hub
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true, "online": deps.Net.IsOnline()})
	})

	loginLimiter := middleware.NewRateLimiter(10, time.Minute)
	authHandler := &handler.AuthHandler{
		Gateway:      deps.Gateway,
		API:          deps.API,
		Net:          deps.Net,
		Syncer:       deps.Syncer,
		Devices:      deps.Devices,
		LoginLimiter: loginLimiter,
	}

	r.POST("/v1/auth/login", authHandler.Login)
	r.POST("/v1/auth/register", authHandler.Register)

	protected := r.Group("/v1")
	protected.Use(middleware.RequireSession(deps.Store))
	protected.POST("/auth/logout", authHandler.Logout)

	surveyHandler := &handler.SurveyHandler{Gateway: deps.Gateway, API: deps.API, Net: deps.Net}
	protected.POST("/survey/submit", surveyHandler.Submit)
	protected.GET("/survey/submissions", surveyHandler.Submissions)
	protected.GET("/survey/dashboard-stats", surveyHandler.DashboardStats)

	syncHandler := &handler.SyncHandler{Syncer: deps.Syncer}
	protected.GET("/sync/status", syncHandler.Status)
	protected.POST("/sync/trigger", syncHandler.Trigger)

	appHandler := &handler.AppHandler{Net: deps.Net, Watchdog: deps.Watchdog, Syncer: deps.Syncer}
	protected.POST("/app/resume", appHandler.Resume)
	protected.POST("/app/background", appHandler.Background)

	wsHandler := &handler.WebSocketHandler{Hub: deps.Hub, Store: deps.Store, Syncer: deps.Syncer}
	r.GET("/ws", wsHandler.Serve)

	return r
}
