package bootstrap

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/apiforge-labs/testorder-backend/config"
	httpapi "github.com/apiforge-labs/testorder-backend/internal/api/http"
	"github.com/apiforge-labs/testorder-backend/internal/api/http/middleware"
	"github.com/apiforge-labs/testorder-backend/internal/auth"
	authmw "github.com/apiforge-labs/testorder-backend/internal/auth/middleware"
	catrepo "github.com/apiforge-labs/testorder-backend/internal/catalogue/repository"
	"github.com/apiforge-labs/testorder-backend/internal/db"
	"github.com/apiforge-labs/testorder-backend/internal/testorder/builder"
	"github.com/apiforge-labs/testorder-backend/internal/testorder/cache"
	"github.com/apiforge-labs/testorder-backend/internal/testorder/events"
	tohttp "github.com/apiforge-labs/testorder-backend/internal/testorder/http"
	"github.com/apiforge-labs/testorder-backend/internal/testorder/metadata"
	"github.com/apiforge-labs/testorder-backend/internal/testorder/repository"
	"github.com/apiforge-labs/testorder-backend/internal/testorder/service"
)

type RouterDeps struct {
	ServiceName string
	Config      *config.Config
	DB          *db.DB
	// Redis is nil when REDIS_ADDR is unset; the gate cache and the event
	// stream are then disabled.
	Redis *redis.Client
	// Verifier is required when Config.Auth.Mode is firebase.
	Verifier authmw.TokenVerifier
	Log      logrus.FieldLogger
}

func SetGinMode(env string) {
	switch env {
	case "production":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}
}

func BuildRouter(dep RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware(dep.Log))
	r.Use(cors.New(corsConfig(dep.Config.Server.CORSAllowedOrigins)))

	healthHandler := httpapi.NewHealthHandler(dep.ServiceName, dep.Config.App.Version, dep.DB.Pool, dep.Redis)
	healthHandler.RegisterRoutes(r)

	api := r.Group("/api/v1")
	if dep.Config.Auth.Mode == config.AuthModeFirebase {
		api.Use(authmw.FirebaseAuthMiddleware(dep.Verifier))
	} else {
		api.Use(auth.HeaderUser())
	}
	limiter := middleware.NewRateLimiter(dep.Config.RateLimit.RPS, dep.Config.RateLimit.Burst)
	api.Use(limiter.Middleware(auth.UserID))

	newTestOrderHandler(dep).Register(api)

	return r
}

// newTestOrderHandler wires the ordering workflow over the database and the
// optional Redis client.
func newTestOrderHandler(dep RouterDeps) *tohttp.Handler {
	log := dep.Log

	resolver := metadata.NewResolver(catrepo.NewEndpointRepository(dep.DB.SQL), log.WithField("component", "metadata"))
	orderBuilder := builder.NewBuilder(resolver, log.WithField("component", "builder"))
	store := repository.NewProposalRepository(dep.DB.Pool)

	deps := service.ProposalDeps{
		Store:   store,
		Builder: orderBuilder,
		Log:     log.WithField("component", "proposals"),
	}
	var (
		gateCache   service.GateCache
		eventSource tohttp.EventSource
	)
	if dep.Redis != nil {
		c := cache.NewGateCache(dep.Redis, dep.Config.Gate.CacheTTL)
		p := events.NewPublisher(dep.Redis)
		deps.GateCache, deps.Events = c, p
		gateCache, eventSource = c, p
	}
	gateSvc := service.NewGateService(store, gateCache, log.WithField("component", "gate"))

	return tohttp.New(service.NewProposalService(deps), gateSvc, eventSource, log.WithField("component", "http"))
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "If-Match", auth.HeaderUserID, middleware.HeaderRequestID},
		ExposeHeaders: []string{"ETag", middleware.HeaderRequestID},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}
