package authservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/zanzhit/camera_dvr/internal/domain/errs"
	"github.com/zanzhit/camera_dvr/internal/domain/models"
	jwtmid "github.com/zanzhit/camera_dvr/internal/lib/jwt"
	"github.com/zanzhit/camera_dvr/internal/lib/sl"
)

type AuthService struct {
	secret       string
	tokenTTL     time.Duration
	log          *slog.Logger
	userSaver    UserSaver
	userProvider UserProvider
}

type UserSaver interface {
	SaveUser(ctx context.Context, email string, passHash []byte) (int, error)
}

type UserProvider interface {
	User(ctx context.Context, email string) (models.User, error)
}

func New(log *slog.Logger, userSaver UserSaver, userProvider UserProvider, tokenTTL time.Duration, secret string) *AuthService {
	return &AuthService{
		secret:       secret,
		tokenTTL:     tokenTTL,
		log:          log,
		userSaver:    userSaver,
		userProvider: userProvider,
	}
}

func (s *AuthService) RegisterNewUser(ctx context.Context, email, password string) (int, error) {
	const op = "service.auth.RegisterNewUser"

	log := s.log.With(
		slog.String("op", op),
		slog.String("email", email),
	)

	log.Info("registering user")

	passHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to hash password", sl.Err(err))

		return 0, fmt.Errorf("%s: %w", op, err)
	}

	id, err := s.userSaver.SaveUser(ctx, email, passHash)
	if err != nil {
		if errors.Is(err, errs.ErrUserExists) {
			log.Warn("user already exists")

			return 0, fmt.Errorf("%s: %w", op, errs.ErrUserExists)
		}

		log.Error("failed to save user", sl.Err(err))

		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	const op = "service.auth.Login"

	log := s.log.With(
		slog.String("op", op),
		slog.String("email", email),
	)

	log.Info("attempting to login user")

	user, err := s.userProvider.User(ctx, email)
	if err != nil {
		if errors.Is(err, errs.ErrUserNotFound) {
			log.Warn("user not found", sl.Err(err))

			return "", fmt.Errorf("%s: %w", op, errs.ErrInvalidCredentials)
		}

		log.Error("failed to get user", sl.Err(err))

		return "", fmt.Errorf("%s: %w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword(user.PassHash, []byte(password)); err != nil {
		log.Info("invalid credentials", sl.Err(err))

		return "", fmt.Errorf("%s: %w", op, errs.ErrInvalidCredentials)
	}

	log.Info("user logged in successfully")

	token, err := jwtmid.NewToken(user, s.tokenTTL, s.secret)
	if err != nil {
		log.Error("failed to generate token", sl.Err(err))

		return "", fmt.Errorf("%s: %w", op, err)
	}

	return token, nil
}

// CreateInitialOperator registers the first operator account unless it
// already exists.
func (s *AuthService) CreateInitialOperator(ctx context.Context, email, password string) error {
	const op = "service.auth.CreateInitialOperator"

	log := s.log.With(
		slog.String("op", op),
	)

	if email == "" || password == "" {
		return fmt.Errorf("%s: ADMIN_EMAIL and ADMIN_PASSWORD are required", op)
	}

	_, err := s.userProvider.User(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errs.ErrUserNotFound) {
		return fmt.Errorf("%s: failed to check operator existence: %w", op, err)
	}

	if _, err := s.RegisterNewUser(ctx, email, password); err != nil {
		log.Error("failed to create operator", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("operator created successfully")

	return nil
}
