// Package server exposes the upload pipeline over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	batchdomain "github.com/fleetdesk/fleetdesk/internal/batch/domain"
	"github.com/fleetdesk/fleetdesk/internal/config"
	masterdomain "github.com/fleetdesk/fleetdesk/internal/masterdata/domain"
	"github.com/fleetdesk/fleetdesk/internal/upload"
	"github.com/fleetdesk/fleetdesk/internal/upload/notify"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	uploadSvc  *upload.Service
	batchSvc   batchdomain.Service
	masterRepo masterdomain.Repository
	progress   *notify.Hub
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	UploadSvc  *upload.Service
	BatchSvc   batchdomain.Service
	MasterRepo masterdomain.Repository
	Progress   *notify.Hub `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		uploadSvc:  p.UploadSvc,
		batchSvc:   p.BatchSvc,
		masterRepo: p.MasterRepo,
		progress:   p.Progress,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/uploads", s.SubmitUpload)
	v1.GET("/uploads", s.ListBatches)
	v1.GET("/uploads/:id", s.GetBatch)
	v1.GET("/uploads/:id/counts", s.GetBatchCounts)
	v1.POST("/uploads/:id/cancel", s.CancelBatch)
	v1.GET("/uploads/:id/report", s.DownloadErrorReport)
	v1.GET("/uploads/:id/events", s.StreamBatchProgress)

	v1.GET("/document-types", s.ListDocumentTypes)
	v1.GET("/address-types", s.ListAddressTypes)
}
