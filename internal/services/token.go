package services

import (
	"errors"
	"time"

	"collab-backend/internal/models"
	"collab-backend/internal/utils"

	"github.com/golang-jwt/jwt/v5"
)

// The core consumes identity from tokens issued by the platform's auth
// service; GenerateToken exists for that service and for tests.

func GenerateToken(identity models.Identity) (string, error) {
	claims := jwt.MapClaims{
		"user_id":      identity.UserID,
		"display_name": identity.DisplayName,
		"exp":          time.Now().Add(time.Hour * 72).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(utils.GetEnv("JWT_SECRET", "secret")))
}

// ValidateToken verifies the signature and returns the embedded identity.
func ValidateToken(tokenString string) (models.Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(utils.GetEnv("JWT_SECRET", "secret")), nil
	})
	if err != nil {
		return models.Identity{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return models.Identity{}, errors.New("invalid token")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return models.Identity{}, errors.New("invalid token claims")
	}
	displayName, _ := claims["display_name"].(string)

	return models.Identity{UserID: userID, DisplayName: displayName}, nil
}
