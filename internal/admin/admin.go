// Package admin exposes the relay's operational HTTP surface: the session
// directory, user provisioning and Prometheus metrics. It is meant for
// operator tooling, never for peers.
package admin

import (
	"errors"
	"log"
	"net/http"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "screenrelay/internal/errors"
	"screenrelay/internal/relay"
	"screenrelay/internal/sentry"
	"screenrelay/internal/storage"
)

type API struct {
	Registry *relay.Registry
	Store    storage.Store

	// Token guards every endpoint. Empty means no guard (local dev only).
	Token string
}

func New(registry *relay.Registry, store storage.Store, token string) *API {
	if token == "" {
		log.Println("WARNING: ADMIN_TOKEN not set, admin API is unauthenticated. Set it for production.")
	}
	return &API{Registry: registry, Store: store, Token: token}
}

func (a *API) Handler() http.Handler {
	// Set Gin to release mode
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	r.Use(a.requireToken)

	r.GET("/api/sessions", a.listSessions)
	r.POST("/api/users", a.createUser)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (a *API) requireToken(c *gin.Context) {
	if a.Token == "" {
		return
	}
	if c.GetHeader("Authorization") != "Bearer "+a.Token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid admin token"})
	}
}

// listSessions returns a snapshot of every active session: id, host
// identity, viewer count and timestamps.
func (a *API) listSessions(c *gin.Context) {
	sessions := a.Registry.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

type createUserRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// createUser provisions an account out of band. Peers never reach this;
// it replaces manual database seeding.
func (a *API) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	user, err := a.Store.CreateUser(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, apperrors.ErrDuplicateKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
			return
		}
		sentry.CaptureErrorWithContext(c, err, "user provisioning failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"username": user.Username,
		"api_key":  user.APIKey,
	})
}
