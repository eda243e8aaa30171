package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"diagnosure/pkg"
)

const bookingColumns = `id, patient_id, patient_name, age, gender, hospital_name, hospital_address,
       slot, date, note, status, urgency, symptoms, diagnosis, created_at`

// Repository stores bookings in PostgreSQL.
type Repository struct {
	DB *sql.DB
}

// NewRepository constructs a new Repository from an existing sql.DB.
// The caller is responsible for managing the DB connection lifecycle.
func NewRepository(db *sql.DB) *Repository { return &Repository{DB: db} }

func scanBooking(s scanner) (pkg.Booking, error) {
	var b pkg.Booking
	var diagnosis sql.NullString
	var symptoms pq.StringArray
	err := s.Scan(
		&b.ID, &b.PatientID, &b.PatientName, &b.Age, &b.Gender, &b.HospitalName, &b.HospitalAddress,
		&b.Slot, &b.Date, &b.Note, &b.Status, &b.Urgency, &symptoms, &diagnosis, &b.CreatedAt,
	)
	if err != nil {
		return b, err
	}
	b.Symptoms = []string(symptoms)
	if b.Symptoms == nil {
		b.Symptoms = []string{}
	}
	if diagnosis.Valid {
		b.Diagnosis = &diagnosis.String
	}
	return b, nil
}

func (r *Repository) query(ctx context.Context, q string, args ...interface{}) ([]pkg.Booking, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	bookings := []pkg.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// LoadBookings returns every booking ordered by creation time.
func (r *Repository) LoadBookings(ctx context.Context) ([]pkg.Booking, error) {
	return r.query(ctx, `SELECT `+bookingColumns+` FROM bookings ORDER BY created_at ASC, id ASC`)
}

// ListByPatient returns the bookings of one patient, newest first.
func (r *Repository) ListByPatient(ctx context.Context, patientID string) ([]pkg.Booking, error) {
	return r.query(ctx,
		`SELECT `+bookingColumns+`
         FROM bookings
         WHERE patient_id = $1
         ORDER BY created_at DESC`, patientID)
}

// AppendBooking inserts a new booking.  The id is generated here and the
// creation timestamp comes from the database.
func (r *Repository) AppendBooking(ctx context.Context, nb pkg.NewBooking) (*pkg.Booking, error) {
	b := fromNew(uuid.NewString(), nb)
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO bookings (id, patient_id, patient_name, age, gender, hospital_name, hospital_address,
                               slot, date, note, status, urgency, symptoms, diagnosis)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
         RETURNING created_at`,
		b.ID, b.PatientID, b.PatientName, b.Age, b.Gender, b.HospitalName, b.HospitalAddress,
		b.Slot, b.Date, b.Note, string(b.Status), string(b.Urgency), pq.Array(b.Symptoms), nullable(b.Diagnosis),
	).Scan(&b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert booking: %w", err)
	}
	return &b, nil
}

// SetBookingStatus updates a single booking's status.
func (r *Repository) SetBookingStatus(ctx context.Context, id string, status pkg.BookingStatus) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrBookingNotFound
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE bookings SET status = $1 WHERE id = $2`, string(status), id)
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

// SaveBookings upserts the given bookings.  Existing rows get their status
// replaced; every other field is immutable after creation.
func (r *Repository) SaveBookings(ctx context.Context, bookings []pkg.Booking) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO bookings (id, patient_id, patient_name, age, gender, hospital_name, hospital_address,
                               slot, date, note, status, urgency, symptoms, diagnosis, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
         ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range bookings {
		if b.CreatedAt.IsZero() {
			b.CreatedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			b.ID, b.PatientID, b.PatientName, b.Age, b.Gender, b.HospitalName, b.HospitalAddress,
			b.Slot, b.Date, b.Note, string(b.Status), string(b.Urgency), pq.Array(b.Symptoms), nullable(b.Diagnosis), b.CreatedAt,
		); err != nil {
			return fmt.Errorf("save booking %s: %w", b.ID, err)
		}
	}
	return tx.Commit()
}

// Close closes the underlying database.
func (r *Repository) Close() error { return r.DB.Close() }

func fromNew(id string, nb pkg.NewBooking) pkg.Booking {
	symptoms := nb.Symptoms
	if symptoms == nil {
		symptoms = []string{}
	}
	return pkg.Booking{
		ID:              id,
		PatientID:       nb.PatientID,
		PatientName:     nb.PatientName,
		Age:             nb.Age,
		Gender:          nb.Gender,
		HospitalName:    nb.HospitalName,
		HospitalAddress: nb.HospitalAddress,
		Slot:            nb.Slot,
		Date:            nb.Date,
		Note:            nb.Note,
		Status:          nb.Status,
		Urgency:         nb.Urgency,
		Symptoms:        symptoms,
		Diagnosis:       nb.Diagnosis,
	}
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
