package auth

import (
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a bearer token cannot be verified.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the JWT payload issued to storefront callers.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 bearer tokens.
type Tokens struct {
	secret []byte
	now    func() time.Time
}

// NewTokens returns a token codec using secret as the HMAC key.
func NewTokens(secret []byte) *Tokens {
	return &Tokens{secret: secret, now: time.Now}
}

// Issue signs a token for p that expires after ttl.
func (t *Tokens) Issue(p Principal, ttl time.Duration) (string, error) {
	now := t.now()
	claims := Claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// Parse verifies raw and returns the principal it was issued for.
func (t *Tokens) Parse(raw string) (Principal, error) {
	var claims Claims
	tkn, err := jwt.ParseWithClaims(raw, &claims, func(tkn *jwt.Token) (any, error) {
		if tkn.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.Errorf("unexpected signing method %q", tkn.Method.Alg())
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil || !tkn.Valid {
		return Principal{}, errors.Wrap(ErrInvalidToken, "parse")
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return Principal{}, errors.Wrap(ErrInvalidToken, "subject is not a user id")
	}
	role := claims.Role
	if role == "" {
		role = RoleUser
	}
	return Principal{UserID: userID, Role: role}, nil
}
