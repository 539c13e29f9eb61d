package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zanzhit/camera_dvr/internal/domain/models"
)

var ErrInvalidToken = errors.New("invalid token")

func NewToken(user models.User, duration time.Duration, secret string) (string, error) {
	token := jwt.New(jwt.SigningMethodHS256)

	claims := token.Claims.(jwt.MapClaims)
	claims["uid"] = user.Id
	claims["email"] = user.Email
	claims["exp"] = time.Now().Add(duration).Unix()

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken verifies an HS256 token and returns the operator it was issued to.
func ParseToken(tokenString, secret string) (models.User, error) {
	const op = "lib.jwt.ParseToken"

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return models.User{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.User{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	uid, ok := claims["uid"].(float64)
	if !ok {
		return models.User{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	email, _ := claims["email"].(string)

	return models.User{Id: int(uid), Email: email}, nil
}
