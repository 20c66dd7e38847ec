package http

import (
	"context"
	"net/http"
	"slices"

	"github.com/dkeye/Roulette/internal/adapters/signal"
	"github.com/dkeye/Roulette/internal/app/orch"
	"github.com/dkeye/Roulette/internal/config"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func corsConfig(origins []string) cors.Config {
	cc := cors.DefaultConfig()
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
		cc.AllowCredentials = true
	}
	cc.AllowHeaders = []string{"Authorization", "Content-Type", "Origin", "Accept"}
	return cc
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(cfg.AllowOrigins)))

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RouletteSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"online":  o.ActiveUsers(c.Request.Context()),
			"waiting": o.Pool.Len(),
		})
	})

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ctrl := signal.NewSignalWSController(o, signal.Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		ReportLimit:  cfg.ReportLimit,
		ReportWindow: cfg.ReportWindow,
	})

	api := r.Group("/api")
	api.GET("/ws", UserMiddleware(cfg.JWTSecret), func(c *gin.Context) {
		// The last user seen on this browser, for the page to greet.
		sess := sessions.Default(c)
		sess.Set("user_id", c.GetString("user_id"))
		if err := sess.Save(); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
		}
		log.Info().Str("module", "adapters.http").Str("user", c.GetString("user_id")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})
	api.GET("/me", UserMiddleware(cfg.JWTSecret), func(c *gin.Context) {
		sess := sessions.Default(c)
		c.JSON(http.StatusOK, gin.H{
			"user_id":   c.GetString("user_id"),
			"last_seen": sess.Get("user_id"),
		})
	})

	return r
}
