package data

import (
	"context"
	"time"

	"github.com/technosupport/falcon/internal/protocol"
)

// AccessCondition is one zone's stored authority level.
type AccessCondition struct {
	AreaID    int
	Authority protocol.AuthorityLevel
	UpdatedAt time.Time
}

type AccessModel struct {
	DB DBTX
}

// GetAll returns the stored authority of every zone in area-id order.
func (m AccessModel) GetAll(ctx context.Context) ([]AccessCondition, error) {
	query := `
		SELECT area_id, authority, updated_at
		FROM access_conditions
		ORDER BY area_id`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conds []AccessCondition
	for rows.Next() {
		var c AccessCondition
		if err := rows.Scan(&c.AreaID, &c.Authority, &c.UpdatedAt); err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	return conds, rows.Err()
}

// Upsert writes one zone's authority.
func (m AccessModel) Upsert(ctx context.Context, c AccessCondition) error {
	query := `
		INSERT INTO access_conditions (area_id, authority, updated_at)
		VALUES ($1, $2, NOW() AT TIME ZONE 'UTC')
		ON CONFLICT (area_id)
		DO UPDATE SET authority = EXCLUDED.authority, updated_at = EXCLUDED.updated_at`

	_, err := m.DB.ExecContext(ctx, query, c.AreaID, int(c.Authority))
	return err
}
