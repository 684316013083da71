package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/technosupport/falcon/internal/protocol"
)

// DetectEvent is the first-detection record of one tracked object.
type DetectEvent struct {
	ObjectID    int64
	EventType   protocol.EventType
	Class       protocol.Class
	MapX        int
	MapY        int
	AreaID      int
	AreaName    string
	RescueLevel int
	ImagePath   string
	DetectedAt  time.Time
}

type DetectEventModel struct {
	DB DBTX
}

// Insert persists a first detection. Object ids are unique for the lifetime of
// the tracker, so a conflicting insert means the object was already recorded
// and the row is left untouched.
func (m DetectEventModel) Insert(ctx context.Context, e DetectEvent) (bool, error) {
	query := `
		INSERT INTO detect_events
			(object_id, event_type, class, map_x, map_y, area_id, rescue_level, image_path, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (object_id) DO NOTHING`

	res, err := m.DB.ExecContext(ctx, query,
		e.ObjectID, int(e.EventType), string(e.Class), e.MapX, e.MapY,
		nullableID(e.AreaID), e.RescueLevel, e.ImagePath, e.DetectedAt.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetByObjectID returns one object's first-detection record.
func (m DetectEventModel) GetByObjectID(ctx context.Context, objectID int64) (*DetectEvent, error) {
	query := `
		SELECT e.object_id, e.event_type, e.class, e.map_x, e.map_y,
		       COALESCE(e.area_id, 0), COALESCE(a.name, 'UNKNOWN'),
		       e.rescue_level, e.image_path, e.detected_at
		FROM detect_events e
		LEFT JOIN areas a ON a.id = e.area_id
		WHERE e.object_id = $1`

	var e DetectEvent
	var eventType int
	var class string
	err := m.DB.QueryRowContext(ctx, query, objectID).Scan(
		&e.ObjectID, &eventType, &class, &e.MapX, &e.MapY,
		&e.AreaID, &e.AreaName, &e.RescueLevel, &e.ImagePath, &e.DetectedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	e.EventType = protocol.EventType(eventType)
	e.Class = protocol.Class(class)
	return &e, nil
}

// HistoryFilter narrows History results. Zero values mean no constraint.
type HistoryFilter struct {
	From      time.Time
	To        time.Time
	EventType protocol.EventType
	AreaID    int
	Limit     int
}

// History returns first-detection records, newest first.
func (m DetectEventModel) History(ctx context.Context, f HistoryFilter) ([]DetectEvent, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	query := `
		SELECT e.object_id, e.event_type, e.class, e.map_x, e.map_y,
		       COALESCE(e.area_id, 0), COALESCE(a.name, 'UNKNOWN'),
		       e.rescue_level, e.image_path, e.detected_at
		FROM detect_events e
		LEFT JOIN areas a ON a.id = e.area_id
		WHERE ($1::timestamptz IS NULL OR e.detected_at >= $1)
		  AND ($2::timestamptz IS NULL OR e.detected_at <= $2)
		  AND ($3 = 0 OR e.event_type = $3)
		  AND ($4 = 0 OR e.area_id = $4)
		ORDER BY e.detected_at DESC
		LIMIT $5`

	rows, err := m.DB.QueryContext(ctx, query,
		nullableTime(f.From), nullableTime(f.To), int(f.EventType), f.AreaID, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []DetectEvent
	for rows.Next() {
		var e DetectEvent
		var eventType int
		var class string
		if err := rows.Scan(&e.ObjectID, &eventType, &class, &e.MapX, &e.MapY,
			&e.AreaID, &e.AreaName, &e.RescueLevel, &e.ImagePath, &e.DetectedAt); err != nil {
			return nil, err
		}
		e.EventType = protocol.EventType(eventType)
		e.Class = protocol.Class(class)
		events = append(events, e)
	}
	return events, rows.Err()
}

// MaxObjectID returns the highest recorded object id, 0 when the table is
// empty. Used to seed the already-alerted set at startup.
func (m DetectEventModel) MaxObjectID(ctx context.Context) (int64, error) {
	var max int64
	err := m.DB.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(object_id), 0) FROM detect_events`).Scan(&max)
	return max, err
}

func nullableID(id int) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
