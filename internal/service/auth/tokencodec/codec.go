package tokencodec

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/askibill/askibill/internal/apperrors"
	"github.com/askibill/askibill/internal/models"
)

const (
	defaultSigningMethod = "HS256"
	defaultAccessTTL     = 30 * time.Minute
	defaultRefreshTTL    = 7 * 24 * time.Hour
	defaultResetTTL      = 15 * time.Minute
)

// Token codec with sensible defaults
type Config struct {
	// Secret key to sign tokens
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm: HS256, HS384 or HS512
	// If not set than default is used
	Alg string

	// Token lifetimes per kind
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration

	// Clock used for issuing and expiration checks
	// If not set than time.Now is used
	Now func() time.Time
}

// Decoded token. SessionID is uuid.Nil for reset tokens
type Claims struct {
	ID        string
	Kind      models.TokenKind
	Subject   uuid.UUID
	SessionID uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Claims as they are serialized into JWT payload
type wireClaims struct {
	jwt.RegisteredClaims
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

type Codec struct {
	key []byte
	alg jwt.SigningMethod
	ttl map[models.TokenKind]time.Duration
	now func() time.Time
}

func New(cfg Config) (*Codec, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg, ok := jwt.GetSigningMethod(cfg.Alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing method %q, only HMAC is allowed", cfg.Alg)
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTTL)
	setDefaultDuration(&cfg.ResetTTL, defaultResetTTL)

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Codec{
		key: []byte(cfg.SecretKey),
		alg: alg,
		ttl: map[models.TokenKind]time.Duration{
			models.TokenAccess:  cfg.AccessTTL,
			models.TokenRefresh: cfg.RefreshTTL,
			models.TokenReset:   cfg.ResetTTL,
		},
		now: cfg.Now,
	}, nil
}

func (c *Codec) AccessTTL() time.Duration {
	return c.ttl[models.TokenAccess]
}

func (c *Codec) RefreshTTL() time.Duration {
	return c.ttl[models.TokenRefresh]
}

func (c *Codec) ResetTTL() time.Duration {
	return c.ttl[models.TokenReset]
}

// Build claims for the kind, expiring after the kind's lifetime
// JWT dates have second precision, so times are truncated
func (c *Codec) NewClaims(kind models.TokenKind, subject uuid.UUID, sessionID uuid.UUID) Claims {
	now := c.now().Truncate(time.Second)
	return Claims{
		ID:        uuid.NewString(),
		Kind:      kind,
		Subject:   subject,
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: now.Add(c.ttl[kind]),
	}
}

// Sign the claim set
func (c *Codec) Issue(claims Claims) (models.IssuedToken, error) {
	var issued models.IssuedToken

	if err := checkClaims(claims); err != nil {
		return issued, err
	}

	wire := wireClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        claims.ID,
			Subject:   claims.Subject.String(),
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
		Type: string(claims.Kind),
	}
	if claims.Kind.HasSession() {
		wire.SessionID = claims.SessionID.String()
	}

	value, err := jwt.NewWithClaims(c.alg, wire).SignedString(c.key)
	if err != nil {
		return issued, fmt.Errorf("error while signing %s token. Err: %w", claims.Kind, err)
	}

	return models.IssuedToken{Value: value, ExpiresAt: wire.ExpiresAt.Time}, nil
}

func (c *Codec) IssueAccess(userID uuid.UUID, sessionID uuid.UUID) (models.IssuedToken, error) {
	return c.Issue(c.NewClaims(models.TokenAccess, userID, sessionID))
}

func (c *Codec) IssueRefresh(userID uuid.UUID, sessionID uuid.UUID) (models.IssuedToken, error) {
	return c.Issue(c.NewClaims(models.TokenRefresh, userID, sessionID))
}

func (c *Codec) IssueReset(userID uuid.UUID) (models.IssuedToken, error) {
	return c.Issue(c.NewClaims(models.TokenReset, userID, uuid.Nil))
}

// Parse and validate token of any kind
// Every failure wraps apperrors.ErrInvalidToken
func (c *Codec) Parse(token string) (Claims, error) {
	var claims Claims
	wire := &wireClaims{}

	_, err := jwt.ParseWithClaims(
		token,
		wire,
		func(t *jwt.Token) (any, error) {
			return c.key, nil
		},
		jwt.WithValidMethods([]string{c.alg.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return claims, fmt.Errorf("%w: %w", apperrors.ErrInvalidToken, err)
	}

	subject, err := uuid.Parse(wire.Subject)
	if err != nil {
		return claims, fmt.Errorf("%w: bad subject", apperrors.ErrInvalidToken)
	}

	claims = Claims{
		ID:        wire.ID,
		Kind:      models.TokenKind(wire.Type),
		Subject:   subject,
		ExpiresAt: wire.ExpiresAt.Time,
	}
	if wire.IssuedAt != nil {
		claims.IssuedAt = wire.IssuedAt.Time
	}

	switch {
	case !claims.Kind.Valid():
		return Claims{}, fmt.Errorf("%w: unknown token type %q", apperrors.ErrInvalidToken, wire.Type)
	case claims.Kind.HasSession():
		claims.SessionID, err = uuid.Parse(wire.SessionID)
		if err != nil {
			return Claims{}, fmt.Errorf("%w: bad session id", apperrors.ErrInvalidToken)
		}
	case wire.SessionID != "":
		return Claims{}, fmt.Errorf("%w: unexpected session id", apperrors.ErrInvalidToken)
	}

	return claims, nil
}

// Parse token and require it to be of the kind
func (c *Codec) ParseKind(token string, kind models.TokenKind) (Claims, error) {
	claims, err := c.Parse(token)
	if err != nil {
		return claims, err
	}

	if claims.Kind != kind {
		return Claims{}, fmt.Errorf("%w: want %s token, got %s", apperrors.ErrInvalidToken, kind, claims.Kind)
	}

	return claims, nil
}

func checkClaims(c Claims) error {
	switch {
	case !c.Kind.Valid():
		return fmt.Errorf("unknown token kind %q", c.Kind)
	case c.Subject == uuid.Nil:
		return errors.New("token subject must be set")
	case c.Kind.HasSession() && c.SessionID == uuid.Nil:
		return fmt.Errorf("%s token requires session", c.Kind)
	case !c.Kind.HasSession() && c.SessionID != uuid.Nil:
		return fmt.Errorf("%s token must not carry session", c.Kind)
	case c.ExpiresAt.IsZero():
		return errors.New("token expiration must be set")
	default:
		return nil
	}
}
