package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"taskmarket/pkg/config"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("security", fx.Provide(NewTokenIssuer))

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

type Claims struct {
	jwt.Claims
	Email string `json:"email"`
	Role  string `json:"role"`
}

type TokenIssuer interface {
	Issue(subject, email, role string) (string, *Claims, error)
	Verify(raw string) (*Claims, error)
}

type hmacIssuer struct {
	signer jose.Signer
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(cfg *config.Config) (TokenIssuer, error) {
	secret := []byte(cfg.Auth.Secret)
	if len(secret) == 0 {
		if cfg.AppEnv == "production" {
			return nil, errors.New("AUTH.SECRET is required in production")
		}
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		zap.L().Warn("AUTH.SECRET not set, tokens are signed with an ephemeral key")
	}

	return NewHMACIssuer(secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
}

func NewHMACIssuer(secret []byte, issuer string, ttl time.Duration) (TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("signing secret must be at least 32 bytes, got %d", len(secret))
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: secret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, err
	}

	return &hmacIssuer{
		signer: signer,
		secret: secret,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

func (i *hmacIssuer) Issue(subject, email, role string) (string, *Claims, error) {
	now := i.now()
	claims := &Claims{
		Claims: jwt.Claims{
			Issuer:   i.issuer,
			Subject:  subject,
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Email: email,
		Role:  role,
	}

	raw, err := jwt.Signed(i.signer).Claims(claims).Serialize()
	if err != nil {
		return "", nil, err
	}

	return raw, claims, nil
}

func (i *hmacIssuer) Verify(raw string) (*Claims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, ErrInvalidToken
	}

	var claims Claims
	if err := tok.Claims(i.secret, &claims); err != nil {
		return nil, ErrInvalidToken
	}

	err = claims.ValidateWithLeeway(jwt.Expected{
		Issuer: i.issuer,
		Time:   i.now(),
	}, 0)
	if errors.Is(err, jwt.ErrExpired) {
		return nil, ErrExpiredToken
	}
	if err != nil || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &claims, nil
}
