package formguard

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/formguard/formguard/internal"
	"github.com/formguard/formguard/internal/stores"
)

// formTokenClaims is the payload of a signed form token. The session claim
// is present only when session binding is on at issue time.
type formTokenClaims struct {
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// IssueFormTokens mints a signed form token plus a single-use nonce for one
// page render. The nonce is registered server-side at issue time; validation
// later consumes it exactly once.
func (g *Guard) IssueFormTokens(ctx context.Context, sessionID string) (*FormTokens, error) {
	if g == nil {
		return nil, ErrGuardNotReady
	}
	if len(g.config.AntiReplay.SigningKey) == 0 {
		return nil, errors.New("anti-replay signing key not configured")
	}

	now := g.clock.Now()

	nonce, err := internal.NewNonce(g.rand)
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	claims := formTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        nonce,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.config.AntiReplay.TokenTTL)),
		},
	}
	if !g.config.AntiReplay.SkipSessionBinding {
		claims.SessionID = sessionID
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString(g.config.AntiReplay.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("sign form token: %w", err)
	}

	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	if err := g.nonces.Register(sctx, nonce, now.Add(g.config.AntiReplay.NonceTTL)); err != nil {
		g.metrics.Inc(MetricStoreFault)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	g.metrics.Inc(MetricAntiReplayIssued)
	g.emitAudit(ctx, AuditEvent{
		Timestamp: now,
		EventType: AuditAntiReplayIssued,
		SessionID: sessionID,
		Success:   true,
	})

	return &FormTokens{Token: token, Nonce: nonce, IssuedAt: now}, nil
}

// ValidateFormTokens runs the anti-replay check alone: token signature and
// expiry, session binding, nonce consumption, then the form-timing window.
// On success the nonce is spent and the same pair can never validate again.
func (g *Guard) ValidateFormTokens(ctx context.Context, token, nonce, sessionID string) error {
	if g == nil {
		return ErrGuardNotReady
	}
	_, err := g.validateAntiReplay(ctx, token, nonce, sessionID)
	return err
}

// validateAntiReplay is the shared core for ValidateFormTokens and the
// Authorize pipeline. The check order is fixed: signature and expiry prove
// the token is ours before any store round trip, the nonce burn happens
// before the timing check so that a too-fast submission still spends its
// nonce.
func (g *Guard) validateAntiReplay(ctx context.Context, token, nonce, sessionID string) (Reason, error) {
	cfg := g.config.AntiReplay
	now := g.clock.Now()

	parsed, err := jwt.ParseWithClaims(token, &formTokenClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return cfg.SigningKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(g.clock.Now),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ReasonExpiredToken, ErrTokenExpired
		}
		return ReasonInvalidSignature, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := parsed.Claims.(*formTokenClaims)
	if !ok || claims.IssuedAt == nil {
		return ReasonInvalidSignature, ErrTokenInvalid
	}

	if !cfg.SkipSessionBinding && claims.SessionID != sessionID {
		return ReasonSessionMismatch, ErrTokenSessionMismatch
	}

	// The nonce inside the token must be the one submitted alongside it, or
	// an attacker could pair a captured token with a fresh nonce.
	if nonce == "" || claims.ID != nonce {
		return ReasonReplayedNonce, ErrNonceReplayed
	}

	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	if err := g.nonces.Consume(sctx, nonce, now); err != nil {
		if errors.Is(err, stores.ErrNonceSpent) {
			g.metrics.Inc(MetricNonceReplayDetected)
			return ReasonReplayedNonce, ErrNonceReplayed
		}
		g.metrics.Inc(MetricStoreFault)
		return ReasonStoreUnavailable, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	elapsed := now.Sub(claims.IssuedAt.Time)
	if elapsed < cfg.MinFormTime {
		return ReasonTooFast, ErrFormTooFast
	}
	if elapsed > cfg.MaxFormTime {
		return ReasonTooSlow, ErrFormTooSlow
	}

	return ReasonNone, nil
}
