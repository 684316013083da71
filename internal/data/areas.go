package data

import (
	"context"
)

// Area is a fixed map region row. Coordinates are normalized [0,1] rectangle
// corners.
type Area struct {
	ID   int
	Name string
	X1   float64
	Y1   float64
	X2   float64
	Y2   float64
}

type AreaModel struct {
	DB DBTX
}

// GetAll returns the area table in id order. The table is seeded by the
// migrations and read once at startup.
func (m AreaModel) GetAll(ctx context.Context) ([]Area, error) {
	query := `
		SELECT id, name, x1, y1, x2, y2
		FROM areas
		ORDER BY id`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var areas []Area
	for rows.Next() {
		var a Area
		if err := rows.Scan(&a.ID, &a.Name, &a.X1, &a.Y1, &a.X2, &a.Y2); err != nil {
			return nil, err
		}
		areas = append(areas, a)
	}
	return areas, rows.Err()
}
