package data

import (
	"context"

	"github.com/google/uuid"
)

// Interaction directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

type InteractionModel struct {
	DB DBTX
}

// Log records one client exchange for audit. Image payloads are logged by
// header only, never by body.
func (m InteractionModel) Log(ctx context.Context, channel, remoteAddr, direction, message string) error {
	if len(message) > 512 {
		message = message[:512]
	}
	query := `
		INSERT INTO interactions (id, channel, remote_addr, direction, message, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW() AT TIME ZONE 'UTC')`
	_, err := m.DB.ExecContext(ctx, query, uuid.New().String(), channel, remoteAddr, direction, message)
	return err
}
