package http

import (
	"embed"
	"html/template"
	"log/slog"

	"github.com/apolo-dex/smartlink"
	"github.com/apolo-dex/smartlink/adapters/analysis"
	"github.com/apolo-dex/smartlink/adapters/widget"
	"github.com/apolo-dex/smartlink/ports"
	"github.com/apolo-dex/smartlink/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Deps are the components the gateway serves
type Deps struct {
	Linker      smartlink.Client
	Bridge      *service.Bridge
	Credentials *service.CredentialStore
	Validator   *service.SessionValidator
	Analysis    *analysis.Client
	Bus         ports.SignalBus
	Page        *widget.Page
	Hub         *Hub
	Logger      *slog.Logger
	Locale      string
}

// SetupRouter sets up the Gin router
func SetupRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), RequestLogger(logger))
	router.SetHTMLTemplate(template.Must(template.ParseFS(templatesFS, "templates/*.html")))

	// Create handlers
	handlers := NewLinkHandlers(d)

	// Link dialog routes
	link := router.Group("/link")
	{
		link.GET("", handlers.Page)
		link.GET("/status", handlers.Status)
		link.POST("/wallet", handlers.SetWallet)
		link.POST("/telegram", handlers.Telegram)
		link.GET("/telegram/callback", handlers.TelegramCallback)
		link.GET("/events", handlers.Events)
	}

	// Session routes
	session := router.Group("/session")
	{
		session.POST("/invalidate", handlers.Invalidate)
		session.GET("/validate", handlers.Validate)
	}

	// Protected analysis routes
	api := router.Group("/analysis")
	api.Use(RequireSession(d.Credentials, d.Bus, logger))
	{
		api.POST("/:kind", handlers.Analysis)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
