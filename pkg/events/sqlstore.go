package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"coffee-catalog/pkg/database"
)

// SQLEventStore stores events in a SQL table with ordered IDs.
// NOTE: JSON may be emulated as LONGTEXT on older MySQL variants.
type SQLEventStore struct {
	db *database.DB
}

func NewSQLEventStore(db *database.DB) (*SQLEventStore, error) {
	s := &SQLEventStore{db: db}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("events: ensure table: %w", err)
	}
	return s, nil
}

func (s *SQLEventStore) ensureTable() error {
	qry := `CREATE TABLE IF NOT EXISTS farm_events (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		farm_id BIGINT NOT NULL,
		type VARCHAR(64) NOT NULL,
		at DATETIME(6) NOT NULL,
		reviewer VARCHAR(255) NULL,
		data JSON NOT NULL,
		KEY idx_farm_id (farm_id),
		KEY idx_farm_time (farm_id, id)
	)`
	_, err := s.db.Conn().Exec(qry)
	return err
}

func (s *SQLEventStore) Append(ctx context.Context, ev ...Event) error {
	if len(ev) == 0 {
		return nil
	}
	tx, err := s.db.Conn().BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO farm_events (farm_id, type, at, reviewer, data) VALUES (?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range ev {
		b, err := e.MarshalData()
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		at := e.Timestamp()
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, e.FarmID(), e.Type(), at, e.Reviewer(), string(b)); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLEventStore) ListByFarm(ctx context.Context, farmID int64) ([]StoredEvent, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT id, farm_id, type, at, reviewer, data FROM farm_events WHERE farm_id = ? ORDER BY id ASC`, farmID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var se StoredEvent
		var reviewer sql.NullString
		var dataStr string
		if err := rows.Scan(&se.ID, &se.FarmID, &se.Type, &se.At, &reviewer, &dataStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if reviewer.Valid {
			v := reviewer.String
			se.Reviewer = &v
		}
		se.Data = json.RawMessage(dataStr)
		out = append(out, se)
	}
	return out, rows.Err()
}
