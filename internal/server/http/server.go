// Package httpserver exposes the portal over HTTP and websocket.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/atelier-lumen/portal/internal/errs"
	"github.com/atelier-lumen/portal/internal/model"
	"github.com/atelier-lumen/portal/internal/service"
)

const shutdownTimeout = 5 * time.Second

// Role-derived landing pages returned by the login endpoint.
const (
	redirectAdmin  = "/admin"
	redirectClient = "/portal"
)

// SyncFactory builds a conversation synchronizer for a resolved user. One
// synchronizer is created per websocket session and torn down with it.
type SyncFactory func(user model.AppUser, opts ...service.SyncOption) *service.Synchronizer

type Server struct {
	addr     string
	identity service.IdentityService
	tokens   TokenVerifier
	newSync  SyncFactory
	log      *zap.Logger

	srv *http.Server
}

// New constructs the HTTP server with required dependencies.
func New(addr string, identity service.IdentityService, tokens TokenVerifier, newSync SyncFactory, log *zap.Logger) *Server {
	return &Server{
		addr:     addr,
		identity: identity,
		tokens:   tokens,
		newSync:  newSync,
		log:      log,
	}
}

// Router assembles the gin engine with middleware and routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(Recover(s.log), Logging(s.log))

	v1 := r.Group("/api/v1")
	v1.POST("/login", s.handleLogin)

	authed := v1.Group("", RequireAuth(s.tokens, s.identity))
	authed.POST("/logout", s.handleLogout)
	authed.GET("/session", s.handleSession)
	authed.GET("/ws", s.handleWS)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{Addr: s.addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(shCtx)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      userDTO   `json:"user"`
	Redirect  string    `json:"redirect"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	// the session must be the one this login issued: the provider's own
	// session view is shared and another user's login can replace it between
	// the sign-in and a read
	user, sess, err := s.identity.Login(c.Request.Context(), req.Email, req.Password, c.ClientIP())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": publicError(err)})
		return
	}

	c.JSON(http.StatusOK, loginResponse{
		Token:     sess.AccessToken,
		ExpiresAt: sess.ExpiresAt,
		User:      toUserDTO(user),
		Redirect:  redirectFor(user.Role),
	})
}

// handleLogout acknowledges the logout without touching shared state. Bearer
// tokens are stateless, so the client ends the session by discarding the
// token; clearing the identity service's session here would tear down
// whichever user signed in last, not the caller.
func (s *Server) handleLogout(c *gin.Context) {
	if user, ok := UserFrom(c); ok {
		s.log.Info("logout", zap.String("email", user.Email))
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSession(c *gin.Context) {
	user, ok := UserFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":     toUserDTO(user),
		"redirect": redirectFor(user.Role),
	})
}

func toUserDTO(u model.AppUser) userDTO {
	return userDTO{ID: u.ID.String(), Name: u.Name, Email: u.Email, Role: string(u.Role)}
}

func redirectFor(role model.Role) string {
	if role == model.RoleAdmin {
		return redirectAdmin
	}
	return redirectClient
}

// statusFor maps service errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// publicError hides internals behind a generic message for 5xx responses.
func publicError(err error) string {
	if statusFor(err) == http.StatusInternalServerError {
		return "internal"
	}
	return err.Error()
}
