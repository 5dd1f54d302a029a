package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/streetpano/internal/api/handlers"
	"github.com/your-org/streetpano/internal/api/ws"
	"github.com/your-org/streetpano/internal/auth"
	"github.com/your-org/streetpano/internal/config"
	"github.com/your-org/streetpano/internal/objstore"
	"github.com/your-org/streetpano/internal/queue"
	"github.com/your-org/streetpano/internal/storage"
)

type RouterConfig struct {
	APIKey   string
	DB       *storage.PostgresStore
	FS       *objstore.Filesystems
	Producer *queue.Producer
	Hub      *ws.Hub
	Strategy config.DerivatesStrategy
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API (with auth)
	api := r.Group("/api")
	api.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket status feed
	api.GET("/ws", cfg.Hub.HandleWS)

	// Sequences & uploads
	seqH := handlers.NewSequenceHandler(cfg.DB, cfg.FS, cfg.Producer)
	api.POST("/sequences", seqH.Create)
	api.GET("/sequences/:id", seqH.Get)
	api.POST("/sequences/:id/pictures", seqH.UploadPicture)

	// Pictures & derivates
	picH := handlers.NewPictureHandler(cfg.DB, cfg.FS, cfg.Producer, cfg.Strategy)
	api.PATCH("/pictures/:id", picH.SetVisibility)
	api.DELETE("/pictures/:id", picH.Delete)
	api.GET("/pictures/:id/tiled/:tile", picH.Tile)
	api.GET("/pictures/:id/:file", picH.Derivate)

	return r
}
