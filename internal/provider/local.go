package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/atelier-lumen/portal/internal/crypto"
	"github.com/atelier-lumen/portal/internal/errs"
	"github.com/atelier-lumen/portal/internal/limiter"
	"github.com/atelier-lumen/portal/internal/model"
)

// Local is an Auth implementation backed by the portal's own account table.
// It issues HS256 JWT sessions and keeps the current session in memory,
// mirroring the single browser session the portal UI holds.
type Local struct {
	store     AccountStore
	lim       limiter.Limiter
	signKey   []byte
	accessTTL time.Duration
	log       *zap.Logger

	mu      sync.Mutex
	current *model.Session
	changes chan Change
}

// NewLocal constructs a local provider with required dependencies.
func NewLocal(store AccountStore, lim limiter.Limiter, signKey []byte, accessTTL time.Duration, log *zap.Logger) *Local {
	return &Local{
		store:     store,
		lim:       lim,
		signKey:   signKey,
		accessTTL: accessTTL,
		log:       log,
		changes:   make(chan Change, 16),
	}
}

// SignIn authenticates with rate limiting by (email, ip).
func (p *Local) SignIn(ctx context.Context, email, password, ip string) (model.Session, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := p.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return model.Session{}, err
	}
	if !allowed {
		return model.Session{}, errs.ErrRateLimited
	}

	acc, err := p.store.GetByEmail(ctx, email)
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), acc.SaltAuth, acc.PwdHash) {
		if blocked, _, ferr := p.lim.Failure(ctx, email, ipHash); ferr == nil && blocked {
			return model.Session{}, errs.ErrRateLimited
		}
		// lookup errors are masked: existence of the account is not revealed
		return model.Session{}, errs.ErrUnauthorized
	}

	_ = p.lim.Success(ctx, email, ipHash)

	token, exp, err := p.issueToken(email)
	if err != nil {
		return model.Session{}, err
	}
	sess := model.Session{Email: email, AccessToken: token, ExpiresAt: exp}

	p.mu.Lock()
	p.current = &sess
	p.mu.Unlock()
	p.emit(Change{Kind: SignedIn, Session: sess})
	return sess, nil
}

// SignOut clears the current session and notifies subscribers. Safe to call
// with no active session.
func (p *Local) SignOut(_ context.Context) error {
	p.mu.Lock()
	had := p.current != nil
	var old model.Session
	if had {
		old = *p.current
	}
	p.current = nil
	p.mu.Unlock()

	if had {
		p.emit(Change{Kind: SignedOut, Session: old})
	}
	return nil
}

// Session returns the current session if present and unexpired. An expired
// session is cleared and reported as a sign-out, matching provider behavior
// on token expiry.
func (p *Local) Session(_ context.Context) (model.Session, bool) {
	p.mu.Lock()
	cur := p.current
	if cur != nil && time.Now().After(cur.ExpiresAt) {
		expired := *cur
		p.current = nil
		p.mu.Unlock()
		p.emit(Change{Kind: SignedOut, Session: expired})
		return model.Session{}, false
	}
	p.mu.Unlock()

	if cur == nil {
		return model.Session{}, false
	}
	return *cur, true
}

// Changes streams session-change notifications.
func (p *Local) Changes() <-chan Change { return p.changes }

// VerifyToken parses an HS256 token and returns the subject email.
func (p *Local) VerifyToken(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return p.signKey, nil
	})
	if err != nil || !parsed.Valid {
		return "", errs.ErrUnauthorized
	}

	v := jwt.NewValidator(jwt.WithLeeway(30 * time.Second))
	if err := v.Validate(&claims); err != nil {
		return "", errs.ErrUnauthorized
	}
	return claims.Subject, nil
}

// issueToken creates a signed HS256 JWT for the given email.
func (p *Local) issueToken(email string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(p.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(p.signKey)
	return signed, exp, err
}

// emit delivers a change without ever blocking a sign-in/sign-out path.
func (p *Local) emit(ch Change) {
	select {
	case p.changes <- ch:
	default:
		p.log.Warn("session change dropped, subscriber too slow",
			zap.String("kind", string(ch.Kind)))
	}
}
