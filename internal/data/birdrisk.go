package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/technosupport/falcon/internal/protocol"
)

// BirdRiskRecord is one published risk-level change. Prev is zero for the
// first entry after a fresh database.
type BirdRiskRecord struct {
	ID        int64
	Prev      protocol.BirdRisk
	Level     protocol.BirdRisk
	ChangedAt time.Time
}

type BirdRiskModel struct {
	DB DBTX
}

// Insert appends a risk-level change.
func (m BirdRiskModel) Insert(ctx context.Context, prev, level protocol.BirdRisk, changedAt time.Time) error {
	query := `
		INSERT INTO bird_risks (prev_level, level, changed_at)
		VALUES ($1, $2, $3)`
	_, err := m.DB.ExecContext(ctx, query, int(prev), int(level), changedAt.UTC())
	return err
}

// Latest returns the most recent risk level.
func (m BirdRiskModel) Latest(ctx context.Context) (*BirdRiskRecord, error) {
	query := `
		SELECT id, prev_level, level, changed_at
		FROM bird_risks
		ORDER BY changed_at DESC, id DESC
		LIMIT 1`

	var r BirdRiskRecord
	var prev, level int
	err := m.DB.QueryRowContext(ctx, query).Scan(&r.ID, &prev, &level, &r.ChangedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Prev = protocol.BirdRisk(prev)
	r.Level = protocol.BirdRisk(level)
	return &r, nil
}
