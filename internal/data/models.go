package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

var (
	ErrRecordNotFound = errors.New("record not found")
)

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Models bundles the repositories over one connection pool. The pool handle is
// kept so multi-table writes can run in a transaction.
type Models struct {
	db *sql.DB

	Areas        AreaModel
	Access       AccessModel
	DetectEvents DetectEventModel
	BirdRisks    BirdRiskModel
	Interactions InteractionModel
}

func NewModels(db *sql.DB) Models {
	return Models{
		db:           db,
		Areas:        AreaModel{DB: db},
		Access:       AccessModel{DB: db},
		DetectEvents: DetectEventModel{DB: db},
		BirdRisks:    BirdRiskModel{DB: db},
		Interactions: InteractionModel{DB: db},
	}
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxIdleTime(15 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// ReplaceAccess writes all zone authorities in one transaction so a partial
// AC_UA update can never be observed.
func (m Models) ReplaceAccess(ctx context.Context, levels []AccessCondition) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	model := AccessModel{DB: tx}
	for _, c := range levels {
		if err := model.Upsert(ctx, c); err != nil {
			return err
		}
	}
	return tx.Commit()
}
