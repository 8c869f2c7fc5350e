package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/agentcall/internal/config"
	"github.com/xpanvictor/agentcall/internal/domains/chat"
	"github.com/xpanvictor/agentcall/internal/handlers"
	"github.com/xpanvictor/agentcall/internal/handlers/websocket"
	"github.com/xpanvictor/agentcall/pkg/Logger"
)

// Session is what the control API drives and observes.
type Session interface {
	handlers.SessionService
	Subscribe(obs chat.Observer) func()
}

type Dependencies struct {
	Session Session
	Logger  *Logger.Logger
	Configs *config.Settings
}

func NewServerDependencies(session Session, logger *Logger.Logger, cfg *config.Settings) Dependencies {
	return Dependencies{Session: session, Logger: logger, Configs: cfg}
}

// NewRouter builds the gin engine with middleware and routes. The returned
// events handler must be closed on shutdown.
func NewRouter(dep Dependencies) (*gin.Engine, *websocket.EventsHandler) {
	if !dep.Configs.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(handlers.ErrorHandlerMiddleware(dep.Logger))
	r.Use(handlers.RequestLoggerMiddleware(dep.Logger))
	r.Use(handlers.CORSMiddleware())
	events := InitializeRoutes(dep.Configs, r, dep)
	return r, events
}

func InitializeRoutes(cfg *config.Settings, r *gin.Engine, dep Dependencies) *websocket.EventsHandler {
	r.GET("/", func(ctx *gin.Context) { ctx.JSON(http.StatusOK, gin.H{"message": "Server healthy"}) })
	r.GET("/health", func(ctx *gin.Context) { ctx.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/")
	if cfg.Control.JWTSecret != "" {
		api.Use(handlers.AuthMiddleware(cfg.Control.JWTSecret, dep.Logger))
	} else {
		dep.Logger.Warn("control API running without authentication")
	}

	sh := handlers.NewSessionHandler(dep.Session, cfg.Agent.AgentID, dep.Logger)
	session := api.Group("/session")
	{
		session.GET("", sh.GetSession)
		session.POST("/start", sh.StartSession)
		session.POST("/end", sh.EndSession)
		session.POST("/restart", sh.RestartSession)
		session.POST("/mic", sh.ToggleMic)
		session.POST("/audio-output", sh.ToggleAudioOutput)
		session.POST("/input-mode", sh.ToggleInputMode)
	}
	messages := api.Group("/messages")
	{
		messages.GET("", sh.ListMessages)
		messages.POST("", sh.SendMessage)
	}

	events := websocket.NewEventsHandler(dep.Session, dep.Logger)
	events.RegisterRoutes(api)
	return events
}
