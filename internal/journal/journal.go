// Package journal keeps a local append-only mirror of confirmed reservations
// in sqlite. The calendar stays the source of truth; the journal exists for
// audit and reporting.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"prenotabot/internal/models"
)

// DB wraps sql.DB for the booking journal.
type DB struct {
	*sql.DB
}

// Entry is one journaled reservation.
type Entry struct {
	ID          int64
	ShopID      string
	Phone       string
	ServiceName string
	Operator    string
	Start       time.Time
	End         time.Time
	BookingKey  string
	CreatedAt   time.Time
}

// Open opens the journal at path and creates the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS reservations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		shop_id TEXT NOT NULL,
		phone TEXT NOT NULL,
		service_name TEXT NOT NULL,
		operator TEXT NOT NULL,
		start_time DATETIME NOT NULL,
		end_time DATETIME NOT NULL,
		booking_key TEXT UNIQUE NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &DB{db}, nil
}

// Record inserts the reservation. The unique booking key makes replaying the
// same confirmation a no-op instead of a duplicate row.
func (db *DB) Record(ctx context.Context, res models.Reservation) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO reservations
		 (shop_id, phone, service_name, operator, start_time, end_time, booking_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.ShopID, res.Phone, res.ServiceName, res.Operator.Name,
		res.Start.UTC(), res.End.UTC(), res.BookingKey)
	if err != nil {
		return fmt.Errorf("record reservation: %w", err)
	}
	return nil
}

// ByShop lists entries of a shop, newest first.
func (db *DB) ByShop(ctx context.Context, shopID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, shop_id, phone, service_name, operator, start_time, end_time, booking_key, created_at
		 FROM reservations WHERE shop_id = ? ORDER BY start_time DESC LIMIT ?`,
		shopID, limit)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ShopID, &e.Phone, &e.ServiceName, &e.Operator,
			&e.Start, &e.End, &e.BookingKey, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
