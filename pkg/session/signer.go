package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidSignature is returned for a session cookie that fails
	// verification: bad encoding, wrong algorithm, wrong key or expired.
	ErrInvalidSignature = errors.New("session: invalid signature")

	// ErrNoSecret is returned by NewSigner for an empty secret.
	ErrNoSecret = errors.New("session: empty secret")
)

const (
	// DefaultCookieName is the session cookie name.
	DefaultCookieName = "pagewire_session"

	// DefaultMaxAge is the cookie and token lifetime.
	DefaultMaxAge = 7 * 24 * time.Hour
)

// Session identifies one browser.
type Session struct {
	ID string

	// New is set when the session was created for this request and the
	// cookie still has to be sent.
	New bool

	ExpiresAt time.Time
}

// Signer issues and verifies session cookies. A cookie value is an HS256 JWT
// whose jti is the session id.
type Signer struct {
	secret   []byte
	name     string
	maxAge   time.Duration
	secure   bool
	sameSite http.SameSite
	now      func() time.Time
	logger   *slog.Logger
	parser   *jwt.Parser
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithCookieName overrides DefaultCookieName.
func WithCookieName(name string) SignerOption {
	return func(s *Signer) {
		if name != "" {
			s.name = name
		}
	}
}

// WithMaxAge overrides DefaultMaxAge.
func WithMaxAge(d time.Duration) SignerOption {
	return func(s *Signer) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

// WithSecure marks cookies Secure.
func WithSecure(secure bool) SignerOption {
	return func(s *Signer) { s.secure = secure }
}

// WithSameSite sets the cookie SameSite mode. Default: Lax.
func WithSameSite(mode http.SameSite) SignerOption {
	return func(s *Signer) { s.sameSite = mode }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SignerOption {
	return func(s *Signer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSigner creates a Signer keyed by secret.
func NewSigner(secret string, opts ...SignerOption) (*Signer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	s := &Signer{
		secret:   []byte(secret),
		name:     DefaultCookieName,
		maxAge:   DefaultMaxAge,
		sameSite: http.SameSiteLaxMode,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session")
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	return s, nil
}

// CookieName returns the session cookie name.
func (s *Signer) CookieName() string { return s.name }

// MaxAge returns the session lifetime.
func (s *Signer) MaxAge() time.Duration { return s.maxAge }

// Sign returns the cookie value for sess.
func (s *Signer) Sign(sess *Session) (string, error) {
	now := s.now()
	exp := sess.ExpiresAt
	if exp.IsZero() {
		exp = now.Add(s.maxAge)
	}
	claims := jwt.RegisteredClaims{
		ID:        sess.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("session: sign: %w", err)
	}
	return signed, nil
}

// Verify checks a cookie value and returns the session it names.
func (s *Signer) Verify(value string) (*Session, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := s.parser.ParseWithClaims(value, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidSignature)
	}
	return &Session{ID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Issue returns the request's session. A request without a cookie gets a
// fresh session with New set; a cookie that fails verification is an error.
func (s *Signer) Issue(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(s.name)
	if err != nil || cookie.Value == "" {
		sess := &Session{
			ID:        newID(),
			New:       true,
			ExpiresAt: s.now().Add(s.maxAge),
		}
		s.logger.Debug("new session created", "session_id", sess.ID)
		return sess, nil
	}
	return s.Verify(cookie.Value)
}

// Attach writes the session cookie when sess is new, along with extra
// cookies. Nothing is written for an existing session.
func (s *Signer) Attach(w http.ResponseWriter, sess *Session, extra ...*http.Cookie) error {
	if sess == nil || !sess.New {
		return nil
	}
	value, err := s.Sign(sess)
	if err != nil {
		return err
	}
	http.SetCookie(w, s.cookie(s.name, value))
	for _, c := range extra {
		if c == nil {
			continue
		}
		out := *c
		if out.Path == "" {
			out.Path = "/"
		}
		if out.MaxAge == 0 && out.Expires.IsZero() {
			out.MaxAge = int(s.maxAge / time.Second)
		}
		out.HttpOnly = true
		http.SetCookie(w, &out)
	}
	return nil
}

func (s *Signer) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.maxAge / time.Second),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: s.sameSite,
	}
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

type contextKey struct{}

// NewContext returns ctx carrying sess.
func NewContext(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

// FromContext returns the session stored by Middleware, or nil.
func FromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(contextKey{}).(*Session)
	return sess
}

// Middleware resolves the session for every request. A bad cookie is
// answered with 400 "Bad Session".
func (s *Signer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.Issue(r)
		if err != nil {
			s.logger.Warn("bad session cookie", "remote", r.RemoteAddr, "error", err)
			http.Error(w, "Bad Session", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), sess)))
	})
}
