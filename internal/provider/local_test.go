package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	pkgcrypto "github.com/atelier-lumen/portal/internal/crypto"
	"github.com/atelier-lumen/portal/internal/errs"
	"github.com/atelier-lumen/portal/internal/limiter"
)

type fakeStore struct {
	byEmail map[string]*Account
	getErr  error
}

var _ AccountStore = (*fakeStore)(nil)

func (f *fakeStore) GetByEmail(_ context.Context, email string) (*Account, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	a, ok := f.byEmail[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *a
	return &c, nil
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return nil
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, nil
}

func newAccount(t *testing.T, email, password string) *Account {
	t.Helper()
	salt, err := pkgcrypto.RandBytes(16)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	return &Account{
		Email:    email,
		PwdHash:  pkgcrypto.HashPassword([]byte(password), salt),
		SaltAuth: salt,
	}
}

func TestLocal_SignIn_CredsAndLimiter(t *testing.T) {
	t.Parallel()

	acc := newAccount(t, "marie@atelier-lumen.fr", "trellis-jade-42")
	store := &fakeStore{byEmail: map[string]*Account{acc.Email: acc}}
	lim := &fakeLimiter{allowOK: true}
	p := NewLocal(store, lim, []byte("secret"), time.Minute, zap.NewNop())

	lim.allowErr = errors.New("lim boom")
	if _, err := p.SignIn(context.Background(), acc.Email, "trellis-jade-42", "1.2.3.4"); err == nil {
		t.Fatalf("want limiter error propagate")
	}
	lim.allowErr = nil

	lim.allowOK = false
	if _, err := p.SignIn(context.Background(), acc.Email, "trellis-jade-42", "1.2.3.4"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	lim.allowOK = true

	if _, err := p.SignIn(context.Background(), acc.Email, "wrong", "1.2.3.4"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on wrong password, got %v", err)
	}
	if lim.failureCalls == 0 {
		t.Fatalf("expected Failure() recorded for wrong password")
	}

	store.getErr = errors.New("db down")
	if _, err := p.SignIn(context.Background(), acc.Email, "trellis-jade-42", "1.2.3.4"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("lookup error must be masked as unauthorized, got %v", err)
	}
	store.getErr = nil

	sess, err := p.SignIn(context.Background(), acc.Email, "trellis-jade-42", "1.2.3.4")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if sess.AccessToken == "" || sess.Email != acc.Email || !sess.ExpiresAt.After(time.Now()) {
		t.Fatalf("bad session: %+v", sess)
	}
	if lim.successCalls == 0 {
		t.Fatalf("expected Success() to be called")
	}

	select {
	case ch := <-p.Changes():
		if ch.Kind != SignedIn || ch.Session.Email != acc.Email {
			t.Fatalf("unexpected change: %+v", ch)
		}
	default:
		t.Fatalf("expected SignedIn change event")
	}
}

func TestLocal_SessionRestoreAndSignOut(t *testing.T) {
	t.Parallel()

	acc := newAccount(t, "paul@example.com", "soft-linen-light")
	store := &fakeStore{byEmail: map[string]*Account{acc.Email: acc}}
	p := NewLocal(store, &fakeLimiter{allowOK: true}, []byte("secret"), time.Minute, zap.NewNop())

	if _, ok := p.Session(context.Background()); ok {
		t.Fatalf("no session expected before sign-in")
	}

	if _, err := p.SignIn(context.Background(), acc.Email, "soft-linen-light", ""); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	<-p.Changes() // drain SignedIn

	got, ok := p.Session(context.Background())
	if !ok || got.Email != acc.Email {
		t.Fatalf("Session restore: ok=%v got=%+v", ok, got)
	}

	if err := p.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, ok := p.Session(context.Background()); ok {
		t.Fatalf("session must be cleared after sign-out")
	}
	select {
	case ch := <-p.Changes():
		if ch.Kind != SignedOut {
			t.Fatalf("want SignedOut, got %+v", ch)
		}
	default:
		t.Fatalf("expected SignedOut change event")
	}

	// second sign-out with no session emits nothing
	if err := p.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut(2): %v", err)
	}
	select {
	case ch := <-p.Changes():
		t.Fatalf("unexpected change: %+v", ch)
	default:
	}
}

func TestLocal_Session_ExpiryReportsSignOut(t *testing.T) {
	t.Parallel()

	acc := newAccount(t, "paul@example.com", "soft-linen-light")
	store := &fakeStore{byEmail: map[string]*Account{acc.Email: acc}}
	p := NewLocal(store, &fakeLimiter{allowOK: true}, []byte("secret"), -time.Second, zap.NewNop())

	if _, err := p.SignIn(context.Background(), acc.Email, "soft-linen-light", ""); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	<-p.Changes() // drain SignedIn

	if _, ok := p.Session(context.Background()); ok {
		t.Fatalf("expired session must not restore")
	}
	select {
	case ch := <-p.Changes():
		if ch.Kind != SignedOut {
			t.Fatalf("want SignedOut on expiry, got %+v", ch)
		}
	default:
		t.Fatalf("expected SignedOut change on expiry")
	}
}

func TestLocal_VerifyToken(t *testing.T) {
	t.Parallel()

	acc := newAccount(t, "marie@atelier-lumen.fr", "trellis-jade-42")
	store := &fakeStore{byEmail: map[string]*Account{acc.Email: acc}}
	p := NewLocal(store, &fakeLimiter{allowOK: true}, []byte("secret"), time.Minute, zap.NewNop())

	sess, err := p.SignIn(context.Background(), acc.Email, "trellis-jade-42", "")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	email, err := p.VerifyToken(sess.AccessToken)
	if err != nil || email != acc.Email {
		t.Fatalf("VerifyToken: email=%q err=%v", email, err)
	}

	if _, err := p.VerifyToken("not-a-token"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for garbage token, got %v", err)
	}

	other := NewLocal(store, &fakeLimiter{allowOK: true}, []byte("other-key"), time.Minute, zap.NewNop())
	if _, err := other.VerifyToken(sess.AccessToken); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for wrong key, got %v", err)
	}
}
