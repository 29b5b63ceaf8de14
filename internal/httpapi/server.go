// Package httpapi exposes the commission ledger to the admin dashboard over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/commissions/internal/authz"
	"github.com/MarkoPoloResearchLab/commissions/pkg/commission"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey = "auth_claims"
	actorContextKey  = "commission_actor"
)

// Dependencies are the collaborators the HTTP surface drives.
type Dependencies struct {
	Service    *commission.Service
	Authorizer *authz.Authorizer
	Metrics    http.Handler
	Logger     *zap.Logger
}

func (deps Dependencies) validate() error {
	if deps.Service == nil {
		return errors.New("commission service is required")
	}
	if deps.Authorizer == nil {
		return errors.New("authorizer is required")
	}
	return nil
}

// NewHandler builds the HTTP router.
func NewHandler(cfg Config, deps Dependencies) (http.Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	handler := &httpHandler{
		logger:     logger,
		service:    deps.Service,
		authorizer: deps.Authorizer,
		labels:     commission.NewStatusLabels(),
		cfg:        cfg,
	}
	return setupRouter(cfg, handler, sessionValidator, deps.Metrics), nil
}

// Run serves the HTTP API until ctx is cancelled.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	router, err := NewHandler(cfg, deps)
	if err != nil {
		return err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator, metrics http.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))

	api.GET("/session", handler.handleSession)

	commissions := api.Group("/commissions")
	commissions.GET("", handler.require(authz.ActionRead), handler.handleQuery)
	commissions.GET("/unsettled", handler.require(authz.ActionRead), handler.handleUnsettled)
	commissions.GET("/labels", handler.require(authz.ActionRead), handler.handleLabels)
	commissions.POST("/reset", handler.require(authz.ActionReset), handler.handleReset)
	commissions.POST("/release-eligible", handler.require(authz.ActionSweep), handler.handleReleaseEligible)
	commissions.GET("/:orderId", handler.require(authz.ActionRead), handler.handleGet)
	commissions.GET("/:orderId/audit", handler.require(authz.ActionRead), handler.handleAudit)
	commissions.POST("/:orderId/release", handler.require(authz.ActionRelease), handler.handleRelease)
	commissions.PUT("/:orderId/release-date", handler.require(authz.ActionUpdateReleaseDate), handler.handleUpdateReleaseDate)
	commissions.POST("/:orderId/cancel", handler.require(authz.ActionCancel), handler.handleCancel)
	commissions.POST("/:orderId/claim", handler.require(authz.ActionClaim), handler.handleClaim)
	commissions.POST("/:orderId/fix-balance", handler.require(authz.ActionFixBalance), handler.handleFixBalance)

	api.POST("/agents", handler.require(authz.ActionRegister), handler.handleRegisterAgent)
	api.GET("/agents/:agentId/balance", handler.require(authz.ActionRead), handler.handleAgentBalance)
	api.POST("/orders", handler.require(authz.ActionRegister), handler.handleRegisterOrder)

	return router
}
