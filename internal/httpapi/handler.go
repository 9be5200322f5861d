// Package httpapi exposes the marketplace over HTTP and WebSocket.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tutormarket/internal/auth"
	"tutormarket/internal/httpmiddleware"
	"tutormarket/internal/lifecycle"
	"tutormarket/internal/messaging"
	"tutormarket/internal/model"
)

// Check is a named dependency health check for /healthz.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Config wires the handler.
type Config struct {
	Engine  *lifecycle.Engine
	Chat    *messaging.Gateway
	Auth    auth.Config
	Limiter *httpmiddleware.SimpleTokenBucket
	Checks  []Check
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// DevTokens enables POST /dev/token.
	DevTokens bool
	TokenTTL  time.Duration
	Logger    *zap.Logger
}

// Handler serves the API.
type Handler struct {
	engine    *lifecycle.Engine
	chat      *messaging.Gateway
	auth      auth.Config
	limiter   *httpmiddleware.SimpleTokenBucket
	checks    []Check
	gatherer  prometheus.Gatherer
	devTokens bool
	tokenTTL  time.Duration
	logger    *zap.Logger
}

func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Handler{
		engine:    cfg.Engine,
		chat:      cfg.Chat,
		auth:      cfg.Auth,
		limiter:   cfg.Limiter,
		checks:    cfg.Checks,
		gatherer:  cfg.Gatherer,
		devTokens: cfg.DevTokens,
		tokenTTL:  ttl,
		logger:    logger,
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.healthz)
	if h.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
	if h.devTokens {
		r.POST("/dev/token", h.devToken)
	}

	api := r.Group("/api", auth.Bearer(h.auth))
	if h.limiter != nil {
		api.Use(h.limiter.GinMiddleware())
	}

	api.POST("/tuitions", h.createTuition)
	api.GET("/tuitions", h.listApprovedTuitions)
	api.GET("/tuitions/:id", h.getTuition)
	api.PATCH("/tuitions/:id", h.updateTuition)
	api.DELETE("/tuitions/:id", h.deleteTuition)
	api.GET("/tuitions/:id/applications", h.listTuitionApplications)
	api.GET("/student/tuitions", h.listStudentTuitions)
	api.GET("/admin/tuitions", h.listAllTuitions)
	api.PATCH("/admin/tuitions/:id", h.reviewTuition)

	api.POST("/applications", h.submitApplication)
	api.PATCH("/applications/:id", h.updateApplication)
	api.DELETE("/applications/:id", h.withdrawApplication)
	api.PATCH("/applications/:id/reject", h.rejectApplication)
	api.PATCH("/applications/:id/approve", h.approveApplication)
	api.GET("/tutor/applications", h.listTutorApplications)
	api.GET("/tutor/ongoing", h.listOngoing)
	api.GET("/student/applications", h.listStudentApplications)

	api.POST("/create-payment-intent", h.createPaymentIntent)
	api.POST("/payments", h.recordPayment)
	api.GET("/student/payments", h.listStudentPayments)
	api.GET("/admin/payments", h.listAllPayments)

	api.POST("/sessions", h.scheduleSession)
	api.GET("/sessions", h.listSessions)
	api.PATCH("/sessions/:id", h.updateSession)
	api.DELETE("/sessions/:id", h.deleteSession)

	api.GET("/tutors", h.listTutors)
	api.GET("/tutors/:id", h.getTutor)
	api.GET("/users/:email", h.getUser)
	api.GET("/users/role/:id", h.userRole)
	api.PUT("/users/role/:id", h.setUserRole)
	api.GET("/admin/users", h.listUsers)
	api.PATCH("/admin/users/:id", h.setUserRole)

	api.POST("/conversations", h.openConversation)
	api.GET("/conversations", h.listConversations)
	api.GET("/conversations/:userId", h.listConversationsOf)
	api.GET("/messages/:conversationId", h.history)
	api.POST("/messages/:conversationId", h.sendMessage)
	api.POST("/messages/:conversationId/read", h.markRead)
	api.GET("/ws", h.websocket)
}

// caller returns the identity set by the bearer middleware.
func caller(c *gin.Context) model.User {
	u, _ := auth.CurrentUser(c)
	return u
}

func (h *Handler) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	report := gin.H{"status": "ok"}
	for _, chk := range h.checks {
		if err := chk.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("check", chk.Name), zap.Error(err))
			report[chk.Name] = false
			report["status"] = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		report[chk.Name] = true
	}
	c.JSON(status, report)
}

type devTokenRequest struct {
	Email   string     `json:"email" binding:"required,email"`
	Name    string     `json:"name"`
	Picture string     `json:"picture"`
	Role    model.Role `json:"role" binding:"required,oneof=student tutor admin"`
}

// devToken issues identity tokens in place of the identity provider.
func (h *Handler) devToken(c *gin.Context) {
	var req devTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, badBody("httpapi.devToken", err))
		return
	}
	u := model.User{ID: req.Email, Name: req.Name, PhotoURL: req.Picture, Role: req.Role}
	token, exp, err := auth.Issue(u, h.auth.Issuer, h.auth.SigningKey, h.tokenTTL)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"access_token": token, "expires_at": exp.Unix()})
}

func (h *Handler) websocket(c *gin.Context) {
	if err := h.chat.Serve(c.Writer, c.Request, caller(c)); err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
	}
}
