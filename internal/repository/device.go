package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// PgDeviceRepository implements DeviceRepository using pgx.
type PgDeviceRepository struct{}

// NewPgDeviceRepository creates a new PgDeviceRepository.
func NewPgDeviceRepository() *PgDeviceRepository {
	return &PgDeviceRepository{}
}

// IsKnown reports whether the device is remembered for the user.
func (r *PgDeviceRepository) IsKnown(ctx context.Context, db DBTX, userID uuid.UUID, deviceID string) (bool, error) {
	var known bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM known_devices WHERE user_id = $1 AND device_id = $2)`,
		userID, deviceID).Scan(&known)
	if err != nil {
		return false, fmt.Errorf("lookup device: %w", err)
	}
	return known, nil
}

// Remember upserts the device for the user.
func (r *PgDeviceRepository) Remember(ctx context.Context, db DBTX, userID uuid.UUID, deviceID string) error {
	_, err := db.Exec(ctx, `
		INSERT INTO known_devices (user_id, device_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, device_id) DO UPDATE SET last_seen_at = now()`,
		userID, deviceID)
	if err != nil {
		return fmt.Errorf("remember device: %w", err)
	}
	return nil
}
