// Package auth is the access gate: bearer token checks against a fixed token
// set plus optional per-client rate limiting. The mode is decided once at
// startup and never changes afterwards.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"peripheral/internal/config"
	perrors "peripheral/internal/errors"
)

// Mode is the gate's fixed access mode.
type Mode string

const (
	// ModeOpen admits every caller; no tokens are configured.
	ModeOpen Mode = "open"
	// ModeRestricted requires a bearer token from the configured set.
	ModeRestricted Mode = "restricted"
)

// AnonymousClient identifies callers in open mode.
const AnonymousClient = "anonymous"

// Principal is the authenticated caller.
type Principal struct {
	ClientID      string
	Authenticated bool
}

type credential struct {
	digest   Digest
	clientID string
}

// Gate decides whether a call may reach the router.
type Gate struct {
	mode        Mode
	credentials []credential
	limiter     *RateLimiter
	logger      *slog.Logger
}

// NewGate builds the gate from configuration. Inline tokens get the ids
// friend_0, friend_1, ...; tokens file entries use their name when set.
func NewGate(cfg config.AuthConfig, logger *slog.Logger) (*Gate, error) {
	g := &Gate{
		logger:  logger,
		limiter: NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, logger),
	}

	for _, t := range cfg.Tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		g.add(DigestToken(t), "")
	}

	if cfg.TokensFile != "" {
		f, err := LoadTokensFile(cfg.TokensFile)
		if err != nil {
			return nil, err
		}
		for _, e := range f.Tokens {
			d := DigestToken(e.Token)
			if e.Digest != "" {
				d, _ = ParseDigest(e.Digest) // validated by LoadTokensFile
			}
			g.add(d, e.Name)
		}
	}

	if len(g.credentials) == 0 {
		if cfg.Required {
			return nil, fmt.Errorf("auth.required is set but no tokens are configured")
		}
		g.mode = ModeOpen
	} else {
		g.mode = ModeRestricted
	}

	logger.Info("Access gate initialized",
		"mode", string(g.mode),
		"tokens", len(g.credentials),
		"rateLimited", g.limiter.Enabled(),
	)
	return g, nil
}

// NewOpenGate returns a gate that admits every caller.
func NewOpenGate(logger *slog.Logger) *Gate {
	return &Gate{mode: ModeOpen, limiter: NewRateLimiter(0, 0, logger), logger: logger}
}

func (g *Gate) add(d Digest, name string) {
	if name == "" {
		name = fmt.Sprintf("friend_%d", len(g.credentials))
	}
	g.credentials = append(g.credentials, credential{digest: d, clientID: name})
}

// Mode returns the fixed access mode.
func (g *Gate) Mode() Mode { return g.mode }

// Limiter returns the per-client rate limiter.
func (g *Gate) Limiter() *RateLimiter { return g.limiter }

// Authorize checks a presented bearer token. Every configured digest is
// compared in constant time, and the error never says which check failed.
func (g *Gate) Authorize(token string) (Principal, error) {
	if g.mode == ModeOpen {
		return Principal{ClientID: AnonymousClient}, nil
	}

	presented := DigestToken(token)
	match := -1
	for i := range g.credentials {
		if subtle.ConstantTimeCompare(presented[:], g.credentials[i].digest[:]) == 1 && match < 0 {
			match = i
		}
	}
	if token == "" || match < 0 {
		return Principal{}, perrors.NewUnauthorizedError()
	}
	return Principal{ClientID: g.credentials[match].clientID, Authenticated: true}, nil
}

// Allow applies the rate limit for key, normally the principal's client id.
func (g *Gate) Allow(key string) error {
	if ok, retryAfter := g.limiter.Allow(key); !ok {
		return perrors.NewRateLimitedError(retryAfter)
	}
	return nil
}

// Admit authorizes token and charges the caller's rate limit.
func (g *Gate) Admit(token, fallbackKey string) (Principal, error) {
	p, err := g.Authorize(token)
	if err != nil {
		return Principal{}, err
	}
	key := p.ClientID
	if !p.Authenticated && fallbackKey != "" {
		key = fallbackKey
	}
	if err := g.Allow(key); err != nil {
		return Principal{}, err
	}
	return p, nil
}

// ExtractBearerToken returns the token of an "Authorization: Bearer" header.
func ExtractBearerToken(r *http.Request) string {
	return BearerFromHeader(r.Header.Get("Authorization"))
}

// BearerFromHeader parses an Authorization header value.
func BearerFromHeader(h string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return h[len(prefix):]
}

type principalKey struct{}

// WithPrincipal attaches an admitted caller to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller admitted for ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
