package myjwt

import (
	"errors"
	"time"

	"InsightLink/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

type CustomClaims struct {
	Uuid     string `json:"uuid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Options 签发参数
type Options struct {
	Key         string
	Issuer      string
	ExpireHours int
}

func optionsFromConfig() Options {
	conf := config.GetConfig()
	issuer := conf.JwtConfig.Issuer
	if issuer == "" {
		issuer = conf.MainConfig.AppName
	}
	return Options{Key: conf.JwtConfig.Key, Issuer: issuer, ExpireHours: conf.JwtConfig.ExpireHours}
}

func GenerateToken(uuid string, username string) (string, error) {
	return GenerateTokenWith(optionsFromConfig(), uuid, username)
}

func ParseToken(tokenString string) (*CustomClaims, error) {
	return ParseTokenWith(optionsFromConfig().Key, tokenString)
}

func GenerateTokenWith(opts Options, uuid string, username string) (string, error) {
	if opts.Key == "" {
		return "", errors.New("jwt key is empty")
	}
	expireHours := opts.ExpireHours
	if expireHours <= 0 {
		expireHours = 24
	}

	now := time.Now()
	claims := CustomClaims{
		Uuid:     uuid,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(expireHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    opts.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(opts.Key))
}

func ParseTokenWith(key string, tokenString string) (*CustomClaims, error) {
	if key == "" {
		return nil, errors.New("jwt key is empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Uuid == "" {
		return nil, errors.New("token missing subject")
	}
	return claims, nil
}
