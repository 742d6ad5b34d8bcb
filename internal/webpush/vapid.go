package webpush

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL bounds the validity of a VAPID token. Push services
// reject anything beyond 24 hours; 12 gives caching headroom.
const DefaultTokenTTL = 12 * time.Hour

// SignerConfig bundles the configuration required to build a Signer.
type SignerConfig struct {
	PublicKey  string // base64url uncompressed P-256 point
	PrivateKey string // base64url 32-byte scalar
	Subject    string // contact identifier, e.g. "mailto:ops@tavolo.app"
	TokenTTL   time.Duration
	Clock      func() time.Time
}

// Signer issues VAPID Authorization header values scoped to a push-service
// origin. Tokens are cached per origin for their validity window; the
// cache is purely an optimization and never outlives a token.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	publicKey  string
	subject    string
	ttl        time.Duration
	now        func() time.Time

	mu     sync.Mutex
	tokens map[string]cachedToken
}

type cachedToken struct {
	header    string
	expiresAt time.Time
}

// NewSigner constructs a Signer from the process-wide VAPID keypair.
func NewSigner(cfg SignerConfig) (*Signer, error) {
	if cfg.PublicKey == "" || cfg.PrivateKey == "" {
		return nil, errors.New("webpush: vapid keypair is required")
	}
	if err := validateVAPIDPublicKey(cfg.PublicKey); err != nil {
		return nil, err
	}

	privateKey, err := decodeVAPIDPrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	subject := cfg.Subject
	if subject == "" {
		subject = "mailto:ops@tavolo.app"
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &Signer{
		privateKey: privateKey,
		publicKey:  cfg.PublicKey,
		subject:    subject,
		ttl:        ttl,
		now:        now,
		tokens:     make(map[string]cachedToken),
	}, nil
}

// PublicKey returns the base64url application server key subscribers were
// registered against.
func (s *Signer) PublicKey() string {
	return s.publicKey
}

// AuthorizationHeader returns a `vapid t=<jwt>, k=<key>` header value bound
// to the origin of the supplied endpoint.
func (s *Signer) AuthorizationHeader(endpoint string) (string, error) {
	origin, err := originOf(endpoint)
	if err != nil {
		return "", err
	}

	now := s.now()

	s.mu.Lock()
	cached, ok := s.tokens[origin]
	s.mu.Unlock()
	// Refresh well before expiry so a token never goes stale mid-broadcast.
	if ok && now.Add(time.Minute).Before(cached.expiresAt) {
		return cached.header, nil
	}

	expiresAt := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"aud": origin,
		"exp": expiresAt.Unix(),
		"sub": s.subject,
	})

	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("webpush: sign vapid token: %w", err)
	}

	header := fmt.Sprintf("vapid t=%s, k=%s", signed, s.publicKey)

	s.mu.Lock()
	s.tokens[origin] = cachedToken{header: header, expiresAt: expiresAt}
	s.mu.Unlock()

	return header, nil
}

func originOf(endpoint string) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("webpush: parse endpoint: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("webpush: endpoint %q has no origin", endpoint)
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}
