package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/fintrack/internal/adminsessions"
	adminsessionsdomain "github.com/smallbiznis/fintrack/internal/adminsessions/domain"
	"github.com/smallbiznis/fintrack/internal/auth"
	authdomain "github.com/smallbiznis/fintrack/internal/auth/domain"
	"github.com/smallbiznis/fintrack/internal/authorization"
	"github.com/smallbiznis/fintrack/internal/config"
	"github.com/smallbiznis/fintrack/internal/defaults"
	defaultsdomain "github.com/smallbiznis/fintrack/internal/defaults/domain"
	"github.com/smallbiznis/fintrack/internal/observability"
	obsmiddleware "github.com/smallbiznis/fintrack/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/fintrack/internal/observability/metrics"
	obstracing "github.com/smallbiznis/fintrack/internal/observability/tracing"
	"github.com/smallbiznis/fintrack/internal/profile"
	profiledomain "github.com/smallbiznis/fintrack/internal/profile/domain"
	"github.com/smallbiznis/fintrack/internal/providers"
	"github.com/smallbiznis/fintrack/internal/ratelimit"
	"github.com/smallbiznis/fintrack/internal/seed"
	"github.com/smallbiznis/fintrack/internal/signin"
	signindomain "github.com/smallbiznis/fintrack/internal/signin/domain"
	"github.com/smallbiznis/fintrack/internal/signup"
	signupdomain "github.com/smallbiznis/fintrack/internal/signup/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	auth.Module,
	profile.Module,
	defaults.Module,
	providers.Module,
	signup.Module,
	signin.Module,
	adminsessions.Module,
	ratelimit.Module,
	seed.Module,
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
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
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	authsvc       authdomain.Service
	authzSvc      authorization.Service
	profilesvc    profiledomain.Service
	defaultsSvc   defaultsdomain.Service
	signupsvc     signupdomain.Service
	signinsvc     signindomain.Service
	adminSessions adminsessionsdomain.Service
	signinLimiter *ratelimit.SigninLimiter
	revokeGuard   *ratelimit.RevokeGuard
	db            *gorm.DB
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	Authsvc       authdomain.Service
	AuthzSvc      authorization.Service
	ProfileSvc    profiledomain.Service
	DefaultsSvc   defaultsdomain.Service
	SignupSvc     signupdomain.Service
	SigninSvc     signindomain.Service
	AdminSessions adminsessionsdomain.Service
	SigninLimiter *ratelimit.SigninLimiter `optional:"true"`
	RevokeGuard   *ratelimit.RevokeGuard   `optional:"true"`
	DB            *gorm.DB                 `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		authsvc:       p.Authsvc,
		authzSvc:      p.AuthzSvc,
		profilesvc:    p.ProfileSvc,
		defaultsSvc:   p.DefaultsSvc,
		signupsvc:     p.SignupSvc,
		signinsvc:     p.SigninSvc,
		adminSessions: p.AdminSessions,
		signinLimiter: p.SigninLimiter,
		revokeGuard:   p.RevokeGuard,
		db:            p.DB,
	}

	svc.registerAuthRoutes()
	svc.registerUserRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/api/auth")

	auth.POST("/signup", s.Signup)
	auth.POST("/signin", s.SigninRateLimit(), s.Signin)
	auth.POST("/signout", s.AuthRequired(), s.Signout)
	auth.POST("/refresh", s.Refresh)
	auth.GET("/session", s.AuthRequired(), s.CurrentSession)
	auth.POST("/resend-verification", s.ResendVerification)
	auth.GET("/verify", s.Verify)
	auth.POST("/password/reset", s.RequestPasswordReset)
	auth.PUT("/password", s.AuthRequired(), s.UpdatePassword)
}

func (s *Server) registerUserRoutes() {
	users := s.engine.Group("/api/users", s.AuthRequired())

	users.GET("/:id/profile", s.GetProfile)
	users.PATCH("/me/profile", s.UpdateMyProfile)
	users.POST("/initialize-defaults", s.InitializeDefaults)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/api/admin", s.AuthRequired())

	admin.GET("/sessions", s.authorize(authorization.ObjectSession, authorization.ActionSessionView), s.ListActiveSessions)
	admin.GET("/sessions/stats", s.authorize(authorization.ObjectSession, authorization.ActionSessionView), s.SessionStats)
	admin.POST("/users/:id/revoke-sessions", s.authorize(authorization.ObjectSession, authorization.ActionSessionRevoke), s.RevokeUserSessions)
	admin.PATCH("/users/:id/active", s.authorize(authorization.ObjectUser, authorization.ActionUserActivate), s.SetUserActive)
	admin.DELETE("/users/:id", s.authorize(authorization.ObjectUser, authorization.ActionUserDelete), s.DeleteUser)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
