package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"diagnosure/pkg"
)

// SQLiteStore implements BookingStore on a local SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures the
// schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time; keeps the per-connection pragmas below in effect
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		patient_name TEXT NOT NULL,
		age INTEGER NOT NULL,
		gender TEXT NOT NULL DEFAULT '',
		hospital_name TEXT NOT NULL,
		hospital_address TEXT NOT NULL DEFAULT '',
		slot TEXT NOT NULL,
		date TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		urgency TEXT NOT NULL DEFAULT 'medium',
		symptoms TEXT NOT NULL DEFAULT '[]',
		diagnosis TEXT,
		seq INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_patient ON bookings(patient_id);
	CREATE INDEX IF NOT EXISTS idx_bookings_seq ON bookings(seq);
	`
	_, err := db.Exec(schema)
	return err
}

const sqliteColumns = `id, patient_id, patient_name, age, gender, hospital_name, hospital_address,
	slot, date, note, status, urgency, symptoms, diagnosis, created_at`

func scanSQLiteBooking(s scanner) (pkg.Booking, error) {
	var b pkg.Booking
	var symptoms string
	var diagnosis sql.NullString
	err := s.Scan(
		&b.ID, &b.PatientID, &b.PatientName, &b.Age, &b.Gender, &b.HospitalName, &b.HospitalAddress,
		&b.Slot, &b.Date, &b.Note, &b.Status, &b.Urgency, &symptoms, &diagnosis, &b.CreatedAt,
	)
	if err != nil {
		return b, err
	}
	if err := json.Unmarshal([]byte(symptoms), &b.Symptoms); err != nil {
		return b, fmt.Errorf("decode symptoms of %s: %w", b.ID, err)
	}
	if b.Symptoms == nil {
		b.Symptoms = []string{}
	}
	if diagnosis.Valid {
		b.Diagnosis = &diagnosis.String
	}
	return b, nil
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...interface{}) ([]pkg.Booking, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	bookings := []pkg.Booking{}
	for rows.Next() {
		b, err := scanSQLiteBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// LoadBookings returns all bookings in insertion order.
func (s *SQLiteStore) LoadBookings(ctx context.Context) ([]pkg.Booking, error) {
	return s.query(ctx, "SELECT "+sqliteColumns+" FROM bookings ORDER BY seq ASC")
}

// ListByPatient returns a patient's bookings, newest first.
func (s *SQLiteStore) ListByPatient(ctx context.Context, patientID string) ([]pkg.Booking, error) {
	return s.query(ctx, "SELECT "+sqliteColumns+" FROM bookings WHERE patient_id = ? ORDER BY seq DESC", patientID)
}

// AppendBooking stores a new booking with a fresh id and creation time.
func (s *SQLiteStore) AppendBooking(ctx context.Context, nb pkg.NewBooking) (*pkg.Booking, error) {
	b := fromNew(uuid.NewString(), nb)
	b.CreatedAt = time.Now().UTC()
	if err := s.insert(ctx, s.db, b); err != nil {
		return nil, fmt.Errorf("insert booking: %w", err)
	}
	return &b, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLiteStore) insert(ctx context.Context, ex execer, b pkg.Booking) error {
	symptoms, err := json.Marshal(b.Symptoms)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO bookings (id, patient_id, patient_name, age, gender, hospital_name, hospital_address,
			slot, date, note, status, urgency, symptoms, diagnosis, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM bookings), ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status
	`,
		b.ID, b.PatientID, b.PatientName, b.Age, b.Gender, b.HospitalName, b.HospitalAddress,
		b.Slot, b.Date, b.Note, string(b.Status), string(b.Urgency), string(symptoms), nullable(b.Diagnosis), b.CreatedAt,
	)
	return err
}

// SetBookingStatus updates one booking's status.
func (s *SQLiteStore) SetBookingStatus(ctx context.Context, id string, status pkg.BookingStatus) error {
	res, err := s.db.ExecContext(ctx, "UPDATE bookings SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBookingNotFound
	}
	return nil
}

// SaveBookings upserts the given bookings in one transaction.
func (s *SQLiteStore) SaveBookings(ctx context.Context, bookings []pkg.Booking) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, b := range bookings {
		if b.CreatedAt.IsZero() {
			b.CreatedAt = time.Now().UTC()
		}
		if err := s.insert(ctx, tx, b); err != nil {
			return fmt.Errorf("save booking %s: %w", b.ID, err)
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
