package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"vault_chat/internal/config"
	"vault_chat/internal/domain"
	"vault_chat/internal/repository"
	apperrors "vault_chat/pkg/errors"
	"vault_chat/pkg/logger"
)

// AuthService проверяет токены доступа. Выпуск токенов живет во внешнем сервисе.
type AuthService interface {
	ValidateToken(ctx context.Context, tokenString string) (*domain.User, error)
}

type authService struct {
	userRepo repository.UserRepository
	jwtCfg   config.JWTConfig
	log      logger.Logger
}

func NewAuthService(userRepo repository.UserRepository, jwtCfg config.JWTConfig, log logger.Logger) AuthService {
	return &authService{
		userRepo: userRepo,
		jwtCfg:   jwtCfg,
		log:      log,
	}
}

func (s *authService) ValidateToken(ctx context.Context, tokenString string) (*domain.User, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.jwtCfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.jwtCfg.Issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtCfg.AccessSecret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, apperrors.ErrInvalidToken
	}

	user, err := s.userRepo.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, apperrors.ErrUserNotFound) {
			s.log.Warn("Token for unknown user", "user_id", claims.Subject)
			return nil, apperrors.ErrUnauthorized
		}
		return nil, err
	}

	if !domain.ValidRole(user.Role) {
		s.log.Warn("User has unknown role", "user_id", user.UID, "role", user.Role)
		return nil, apperrors.ErrForbidden
	}

	return user, nil
}
