// Package service contains application services for identity resolution and
// conversation synchronization.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/atelier-lumen/portal/internal/errs"
	"github.com/atelier-lumen/portal/internal/model"
	"github.com/atelier-lumen/portal/internal/provider"
	"github.com/atelier-lumen/portal/internal/repository"
)

// MinPasswordLen is enforced before any provider round trip.
const MinPasswordLen = 6

// IdentityService resolves provider sessions to role-tagged application users.
type IdentityService interface {
	// Login authenticates against the provider and resolves the application
	// role. The returned session is the one issued by this sign-in; callers
	// must use it rather than re-reading provider state, which another login
	// may have replaced meanwhile. The caller derives the redirect target
	// from AppUser.Role.
	Login(ctx context.Context, email, password, ip string) (model.AppUser, model.Session, error)
	// RestoreSession rehydrates identity from an existing provider session.
	// Never fails; an unresolvable session leaves the user unauthenticated.
	RestoreSession(ctx context.Context) (model.AppUser, bool)
	// Logout clears the in-memory user synchronously, then signs out of the
	// provider best-effort.
	Logout(ctx context.Context)
	// Watch consumes provider session-change events until ctx ends; a
	// sign-out reported by the provider clears the in-memory user even when
	// Logout was never called locally.
	Watch(ctx context.Context)
	// Current returns the resolved user, if any.
	Current() (model.AppUser, bool)
	// Resolve maps an authenticated email to an application user without
	// side effects (used to rehydrate identity per request).
	Resolve(ctx context.Context, email string) (model.AppUser, bool)
}

type IdentityServiceImpl struct {
	auth    provider.Auth
	admins  repository.AdminRepository
	clients repository.ClientRepository
	log     *zap.Logger

	mu      sync.Mutex
	current *model.AppUser
}

// NewIdentityService constructs IdentityService with required dependencies.
func NewIdentityService(auth provider.Auth, admins repository.AdminRepository, clients repository.ClientRepository, log *zap.Logger) *IdentityServiceImpl {
	return &IdentityServiceImpl{auth: auth, admins: admins, clients: clients, log: log}
}

// Login authenticates email/password and resolves the application role.
// A valid provider credential whose email matches neither directory table is
// not sufficient for access: the provider session is forcibly terminated and
// ErrUnauthorized is returned.
func (s *IdentityServiceImpl) Login(ctx context.Context, email, password, ip string) (model.AppUser, model.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return model.AppUser{}, model.Session{}, fmt.Errorf("%w: empty email", errs.ErrValidation)
	}
	if len(password) < MinPasswordLen {
		return model.AppUser{}, model.Session{}, fmt.Errorf("%w: password shorter than %d characters", errs.ErrValidation, MinPasswordLen)
	}

	sess, err := s.auth.SignIn(ctx, email, password, ip)
	if err != nil {
		s.log.Info("sign-in rejected", zap.String("email", email), zap.Error(err))
		return model.AppUser{}, model.Session{}, err
	}

	user, ok := s.resolveIdentity(ctx, sess.Email)
	if !ok {
		// the directory is authoritative: terminate the orphan session
		if soErr := s.auth.SignOut(ctx); soErr != nil {
			s.log.Warn("forced sign-out failed", zap.Error(soErr))
		}
		s.log.Warn("authenticated email unknown to directory", zap.String("email", sess.Email))
		return model.AppUser{}, model.Session{}, errs.ErrUnauthorized
	}

	// presence side effect, fail-soft
	switch user.Role {
	case model.RoleAdmin:
		if err := s.admins.TouchLastLogin(ctx, user.ID); err != nil {
			s.log.Warn("touch last_login failed", zap.Error(err))
		}
	case model.RoleClient:
		if err := s.clients.TouchLastSeen(ctx, user.ID); err != nil {
			s.log.Warn("touch last_seen failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.current = &user
	s.mu.Unlock()
	return user, sess, nil
}

// RestoreSession rehydrates role and identity from an existing provider
// session without the presence side effect.
func (s *IdentityServiceImpl) RestoreSession(ctx context.Context) (model.AppUser, bool) {
	sess, ok := s.auth.Session(ctx)
	if !ok {
		return model.AppUser{}, false
	}
	user, ok := s.resolveIdentity(ctx, sess.Email)
	if !ok {
		return model.AppUser{}, false
	}
	s.mu.Lock()
	s.current = &user
	s.mu.Unlock()
	return user, true
}

// Logout clears the in-memory user before the provider round trip: the UI
// treats logout as immediate.
func (s *IdentityServiceImpl) Logout(ctx context.Context) {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	if err := s.auth.SignOut(ctx); err != nil {
		s.log.Warn("provider sign-out failed", zap.Error(err))
	}
}

// Watch clears the in-memory user when the provider reports the session
// ended (external logout, expiry). Runs until ctx is done.
func (s *IdentityServiceImpl) Watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-s.auth.Changes():
			if !ok {
				return
			}
			if ch.Kind == provider.SignedOut {
				s.mu.Lock()
				s.current = nil
				s.mu.Unlock()
				s.log.Info("session ended by provider", zap.String("email", ch.Session.Email))
			}
		}
	}
}

// Current returns the resolved user, if any.
func (s *IdentityServiceImpl) Current() (model.AppUser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return model.AppUser{}, false
	}
	return *s.current, true
}

// Resolve maps an authenticated email to an application user without side
// effects.
func (s *IdentityServiceImpl) Resolve(ctx context.Context, email string) (model.AppUser, bool) {
	return s.resolveIdentity(ctx, email)
}

// resolveIdentity maps an authenticated email to an application user by
// looking up the admins table first, then clients. An email present in both
// tables resolves to admin; the order is the documented tie-break. Lookup
// errors are logged and treated as not-found for that table.
func (s *IdentityServiceImpl) resolveIdentity(ctx context.Context, email string) (model.AppUser, bool) {
	admin, err := s.admins.GetByEmail(ctx, email)
	if err == nil {
		return model.AppUser{ID: admin.ID, Name: admin.Name, Email: admin.Email, Role: model.RoleAdmin}, true
	}
	if !errors.Is(err, errs.ErrNotFound) {
		s.log.Warn("admin lookup failed", zap.String("email", email), zap.Error(err))
	}

	client, err := s.clients.GetByEmail(ctx, email)
	if err == nil {
		return model.AppUser{ID: client.ID, Name: client.Name, Email: client.Email, Role: model.RoleClient}, true
	}
	if !errors.Is(err, errs.ErrNotFound) {
		s.log.Warn("client lookup failed", zap.String("email", email), zap.Error(err))
	}

	return model.AppUser{}, false
}
