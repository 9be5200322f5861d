package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tutormarket/internal/model"
)

// Claims is the identity payload issued by the identity provider. Subject
// is the user's email, which is also the marketplace user id.
type Claims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// User maps verified claims onto a marketplace identity. Emails listed in
// admins are promoted to the admin role whatever the token says.
func (c Claims) User(admins []string) (model.User, error) {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if email == "" {
		email = strings.ToLower(strings.TrimSpace(c.Subject))
	}
	if email == "" {
		return model.User{}, errors.New("token has no subject")
	}
	role := model.Role(c.Role)
	if adminListed(admins, email) {
		role = model.RoleAdmin
	}
	switch role {
	case model.RoleStudent, model.RoleTutor, model.RoleAdmin:
	default:
		return model.User{}, errors.New("token has no usable role")
	}
	name := c.Name
	if name == "" {
		name = email
	}
	return model.User{ID: email, Name: name, PhotoURL: c.Picture, Role: role}, nil
}

func adminListed(admins []string, email string) bool {
	for _, a := range admins {
		if a == email {
			return true
		}
	}
	return false
}

// Issue signs an identity token. It backs the development token endpoint
// and tests; production tokens come from the identity provider.
func Issue(u model.User, issuer, key string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Email:   u.ID,
		Name:    u.Name,
		Picture: u.PhotoURL,
		Role:    string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.ID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}

// ParseUnverified decodes claims without checking the signature. Clients use
// it to learn their own identity; servers must use Parse.
func ParseUnverified(tokenStr string) (Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, &claims); err != nil {
		return Claims{}, err
	}
	return claims, nil
}
