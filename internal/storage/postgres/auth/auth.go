package authstorage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/zanzhit/camera_dvr/internal/domain/errs"
	"github.com/zanzhit/camera_dvr/internal/domain/models"
	"github.com/zanzhit/camera_dvr/internal/storage/postgres"
)

type AuthStorage struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *AuthStorage {
	return &AuthStorage{db: db}
}

func (s *AuthStorage) SaveUser(ctx context.Context, email string, passHash []byte) (int, error) {
	const op = "storage.postgres.auth.SaveUser"

	var id int
	query := fmt.Sprintf("INSERT INTO %s (email, password_hash) VALUES ($1, $2) RETURNING id", postgres.UsersTable)

	if err := s.db.QueryRowContext(ctx, query, email, passHash).Scan(&id); err != nil {
		if postgres.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%s: %w", op, errs.ErrUserExists)
		}

		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *AuthStorage) User(ctx context.Context, email string) (models.User, error) {
	const op = "storage.postgres.auth.User"

	var user models.User
	query := fmt.Sprintf("SELECT id, email, password_hash FROM %s WHERE email = $1", postgres.UsersTable)

	if err := s.db.GetContext(ctx, &user, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, fmt.Errorf("%s: %w", op, errs.ErrUserNotFound)
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}
