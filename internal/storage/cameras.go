package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// SensorWidth looks up the sensor width in millimetres for a camera,
// keyed by "<make> <model>". The second return is false when the camera
// is unknown.
func (s *PostgresStore) SensorWidth(ctx context.Context, make, model string) (float64, bool, error) {
	key := strings.TrimSpace(make + " " + model)
	if key == "" {
		return 0, false, nil
	}
	var width float64
	err := s.pool.QueryRow(ctx,
		`SELECT sensor_width FROM cameras WHERE model = $1`, key).Scan(&width)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("lookup camera: %w", err)
	}
	return width, true, nil
}
