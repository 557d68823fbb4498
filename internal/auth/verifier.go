package auth

import (
	"errors"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
)

// ErrBadCredential covers every verification failure: malformed token, bad
// signature, expiry, missing or unparseable claims. Callers never learn which.
var ErrBadCredential = errors.New("authentication failed")

// Identity is the verified subject bound to a connection for its lifetime.
type Identity struct {
	ID          uuid.UUID
	Role        string // doctor, patient, admin
	DisplayName string
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates an HS256 bearer token carrying userId,
// userType, name and exp claims.
func (v *Verifier) Verify(raw string) (Identity, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrBadCredential
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrBadCredential
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrBadCredential
	}

	sub, _ := claims["userId"].(string)
	role, _ := claims["userType"].(string)
	name, _ := claims["name"].(string)

	id, err := uuid.Parse(sub)
	if err != nil {
		return Identity{}, ErrBadCredential
	}

	switch role {
	case "doctor", "patient", "admin":
	default:
		return Identity{}, ErrBadCredential
	}

	return Identity{ID: id, Role: role, DisplayName: name}, nil
}

// GenerateToken issues a token the Verifier accepts. Used by the simulator
// and by tests; the production issuer lives outside this service.
func GenerateToken(secret string, identity Identity, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId":   identity.ID.String(),
		"userType": identity.Role,
		"name":     identity.DisplayName,
		"exp":      time.Now().Add(ttl).Unix(),
	})

	return token.SignedString([]byte(secret))
}
