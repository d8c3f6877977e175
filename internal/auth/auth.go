package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alphabot-ai/articles/internal/rate"

	"golang.org/x/crypto/bcrypt"
)

const DefaultRealm = "Admin Access"

var (
	ErrUnauthorized = errors.New("authentication required")
	ErrThrottled    = errors.New("too many failed attempts")
)

// ThrottledError is returned by Check while a client is locked out.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%s, retry in %s", ErrThrottled, e.RetryAfter.Round(time.Second))
}

func (e *ThrottledError) Is(target error) bool {
	return target == ErrThrottled
}

// Credentials is the single administrator identity.
type Credentials struct {
	Username     string
	PasswordHash []byte
}

// HashPassword bcrypt-hashes plain. A zero cost means bcrypt.DefaultCost.
func HashPassword(plain string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// NewCredentials builds credentials from either a bcrypt hash or a plain
// password. The hash wins when both are set.
func NewCredentials(username, password, passwordHash string, cost int) (Credentials, error) {
	if username == "" {
		return Credentials{}, errors.New("admin username required")
	}
	if passwordHash != "" {
		if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
			return Credentials{}, fmt.Errorf("admin password hash: %w", err)
		}
		return Credentials{Username: username, PasswordHash: []byte(passwordHash)}, nil
	}
	if password == "" {
		return Credentials{}, errors.New("admin password or password hash required")
	}
	hash, err := HashPassword(password, cost)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Username: username, PasswordHash: []byte(hash)}, nil
}

type Options struct {
	Realm string
	// FailuresPerMinute locks a client out after that many failed attempts.
	// Zero disables throttling.
	FailuresPerMinute int
	// TrustForwardedFor keys throttling on the first X-Forwarded-For entry.
	TrustForwardedFor bool
}

// Guard checks HTTP basic credentials against one configured administrator.
// Every request is checked from scratch; nothing is remembered on success.
type Guard struct {
	mu      sync.RWMutex
	creds   Credentials
	opts    Options
	limiter rate.Limiter
}

func NewGuard(creds Credentials, limiter rate.Limiter, opts Options) *Guard {
	if opts.Realm == "" {
		opts.Realm = DefaultRealm
	}
	if limiter == nil {
		limiter = rate.NewMemory()
	}
	return &Guard{creds: creds, opts: opts, limiter: limiter}
}

// SetCredentials swaps the administrator identity, e.g. after a config reload.
func (g *Guard) SetCredentials(creds Credentials) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creds = creds
}

func (g *Guard) Username() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.creds.Username
}

func (g *Guard) Realm() string {
	return g.opts.Realm
}

// Check returns nil when r carries the administrator's credentials.
func (g *Guard) Check(r *http.Request) error {
	key := "auth:" + g.clientIP(r)
	if g.opts.FailuresPerMinute > 0 {
		if blocked, retry := g.limiter.Blocked(key, g.opts.FailuresPerMinute); blocked {
			return &ThrottledError{RetryAfter: retry}
		}
	}

	username, password, ok := r.BasicAuth()
	if ok && g.matches(username, password) {
		g.limiter.Reset(key)
		return nil
	}

	if g.opts.FailuresPerMinute > 0 && ok {
		g.limiter.Allow(key, g.opts.FailuresPerMinute, time.Minute)
	}
	return ErrUnauthorized
}

// Challenge sets the WWW-Authenticate header for a 401 response.
func (g *Guard) Challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm=%q, charset="UTF-8"`, g.opts.Realm))
}

// WriteError answers a failed Check with 401 or 429.
func WriteError(w http.ResponseWriter, g *Guard, err error) {
	var throttled *ThrottledError
	if errors.As(err, &throttled) {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(throttled.RetryAfter.Seconds())+1))
		http.Error(w, "Too many failed login attempts", http.StatusTooManyRequests)
		return
	}
	g.Challenge(w)
	http.Error(w, "Authentication required", http.StatusUnauthorized)
}

func (g *Guard) matches(username, password string) bool {
	g.mu.RLock()
	creds := g.creds
	g.mu.RUnlock()

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(creds.Username)) == 1
	// Always run bcrypt so a wrong username costs the same as a wrong password.
	passOK := bcrypt.CompareHashAndPassword(creds.PasswordHash, []byte(password)) == nil
	return userOK && passOK
}

func (g *Guard) clientIP(r *http.Request) string {
	if g.opts.TrustForwardedFor {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			parts := strings.Split(forwarded, ",")
			return strings.TrimSpace(parts[0])
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
