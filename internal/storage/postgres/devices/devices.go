package devicestorage

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

// DeviceStorage keeps the on/off state of each device and the listing
// requests raised when a device's recordings change.
type DeviceStorage struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *DeviceStorage {
	return &DeviceStorage{
		db: db,
	}
}

func (s *DeviceStorage) State(ctx context.Context, deviceID string) (models.DeviceState, error) {
	const op = "storage.postgres.devices.State"

	var state models.DeviceState
	query := fmt.Sprintf(`SELECT device_id, value, updated_at FROM %s WHERE device_id = $1`, postgres.DeviceStatesTable)

	if err := s.db.GetContext(ctx, &state, query, deviceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DeviceState{}, fmt.Errorf("%s: %w", op, errs.ErrDeviceNotFound)
		}

		return models.DeviceState{}, fmt.Errorf("%s: %w", op, err)
	}

	return state, nil
}

func (s *DeviceStorage) SetState(ctx context.Context, deviceID, value string) (models.DeviceState, error) {
	const op = "storage.postgres.devices.SetState"

	var state models.DeviceState
	query := fmt.Sprintf(`INSERT INTO %s (device_id, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (device_id) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		RETURNING device_id, value, updated_at`, postgres.DeviceStatesTable)

	if err := s.db.QueryRowxContext(ctx, query, deviceID, value).StructScan(&state); err != nil {
		return models.DeviceState{}, fmt.Errorf("%s: %w", op, err)
	}

	return state, nil
}

func (s *DeviceStorage) RequestListing(ctx context.Context, deviceID, reason string) error {
	const op = "storage.postgres.devices.RequestListing"

	query := fmt.Sprintf(`INSERT INTO %s (device_id, reason) VALUES ($1, $2)`, postgres.ListingRequestsTable)

	if _, err := s.db.ExecContext(ctx, query, deviceID, reason); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ListingRequests returns the latest requests of a device, newest first.
func (s *DeviceStorage) ListingRequests(ctx context.Context, deviceID string, limit int) ([]models.ListingRequest, error) {
	const op = "storage.postgres.devices.ListingRequests"

	requests := []models.ListingRequest{}
	query := fmt.Sprintf(`SELECT id, device_id, reason, created_at FROM %s
		WHERE device_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, postgres.ListingRequestsTable)

	if err := s.db.SelectContext(ctx, &requests, query, deviceID, limit); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return requests, nil
}
