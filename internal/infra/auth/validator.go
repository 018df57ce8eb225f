package auth

import (
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xela07ax/capgov/internal/domain"
)

// PrincipalClaims is the assertion the identity provider signs for us:
// who the caller is and whether they carry the staff or admin role.
type PrincipalClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"` // "staff" or "admin"
	jwt.RegisteredClaims
}

// BaseValidator verifies RS256 tokens issued by the identity provider.
type BaseValidator struct {
	publicKey *rsa.PublicKey
}

func NewBaseValidator(pubKey *rsa.PublicKey) *BaseValidator {
	return &BaseValidator{publicKey: pubKey}
}

// VerifyToken checks the signature and maps the claims onto a Principal.
func (v *BaseValidator) VerifyToken(tokenStr string) (*domain.Principal, error) {
	tokenStr = strings.TrimPrefix(tokenStr, "Bearer ")
	tokenStr = strings.TrimSpace(tokenStr)

	token, err := jwt.ParseWithClaims(tokenStr, &PrincipalClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*PrincipalClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}

	role := domain.Role(claims.Role)
	if role != domain.RoleStaff && role != domain.RoleAdmin {
		return nil, fmt.Errorf("unrecognized role %q", claims.Role)
	}

	return &domain.Principal{ID: claims.UserID, Role: role}, nil
}

// ParseRSAPublicKey turns PEM bytes into a verification key.
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
