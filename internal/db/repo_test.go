package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diagnosure/pkg"
)

var bookingRowColumns = []string{
	"id", "patient_id", "patient_name", "age", "gender", "hospital_name", "hospital_address",
	"slot", "date", "note", "status", "urgency", "symptoms", "diagnosis", "created_at",
}

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func TestRepository_AppendBooking(t *testing.T) {
	db, mock := setupTestDB(t)
	defer db.Close()
	repo := NewRepository(db)
	created := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	diagnosis := "Influenza"

	mock.ExpectQuery("INSERT INTO bookings").
		WithArgs(sqlmock.AnyArg(), "u-1", "Ada", 34, "female", "City Hospital", "1 Main St",
			"10:00 AM", "2026-10-16", "fever", "pending", "high", sqlmock.AnyArg(), "Influenza").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	b, err := repo.AppendBooking(context.Background(), pkg.NewBooking{
		PatientID: "u-1", PatientName: "Ada", Age: 34, Gender: "female",
		HospitalName: "City Hospital", HospitalAddress: "1 Main St",
		Slot: "10:00 AM", Date: "2026-10-16", Note: "fever",
		Status: pkg.StatusPending, Urgency: pkg.UrgencyHigh,
		Symptoms: []string{"fever", "cough"}, Diagnosis: &diagnosis,
	})

	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, created, b.CreatedAt)
	assert.Equal(t, []string{"fever", "cough"}, b.Symptoms)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_AppendBookingError(t *testing.T) {
	db, mock := setupTestDB(t)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO bookings").WillReturnError(errors.New("connection reset"))

	_, err := NewRepository(db).AppendBooking(context.Background(), pkg.NewBooking{PatientID: "u-1"})

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_LoadBookings(t *testing.T) {
	db, mock := setupTestDB(t)
	defer db.Close()
	created := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

	rows := sqlmock.NewRows(bookingRowColumns).
		AddRow("b-1", "u-1", "Ada", 34, "female", "City Hospital", "1 Main St",
			"10:00 AM", "2026-10-16", "fever", "pending", "high", "{fever,cough}", "Influenza", created).
		AddRow("b-2", "u-2", "Bo", 70, "male", "General", "",
			"Emergency", "2026-10-15", "EMERGENCY: fell", "confirmed", "medium", "{}", nil, created)
	mock.ExpectQuery("SELECT (.+) FROM bookings ORDER BY created_at").WillReturnRows(rows)

	bookings, err := NewRepository(db).LoadBookings(context.Background())

	require.NoError(t, err)
	require.Len(t, bookings, 2)
	assert.Equal(t, pkg.StatusPending, bookings[0].Status)
	assert.Equal(t, pkg.UrgencyHigh, bookings[0].Urgency)
	assert.Equal(t, []string{"fever", "cough"}, bookings[0].Symptoms)
	require.NotNil(t, bookings[0].Diagnosis)
	assert.Equal(t, "Influenza", *bookings[0].Diagnosis)
	assert.Nil(t, bookings[1].Diagnosis)
	assert.Equal(t, []string{}, bookings[1].Symptoms)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ListByPatient(t *testing.T) {
	db, mock := setupTestDB(t)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM bookings WHERE patient_id = (.+) ORDER BY created_at DESC").
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows(bookingRowColumns))

	bookings, err := NewRepository(db).ListByPatient(context.Background(), "u-1")

	require.NoError(t, err)
	assert.Empty(t, bookings)
	assert.NotNil(t, bookings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_SetBookingStatus(t *testing.T) {
	id := "7a0c6f5e-8a5e-4f4b-9d7e-2f4a1c3b5d6e"

	t.Run("updates one row", func(t *testing.T) {
		db, mock := setupTestDB(t)
		defer db.Close()
		mock.ExpectExec("UPDATE bookings SET status").
			WithArgs("confirmed", id).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := NewRepository(db).SetBookingStatus(context.Background(), id, pkg.StatusConfirmed)

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown id", func(t *testing.T) {
		db, mock := setupTestDB(t)
		defer db.Close()
		mock.ExpectExec("UPDATE bookings SET status").
			WithArgs("cancelled", id).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := NewRepository(db).SetBookingStatus(context.Background(), id, pkg.StatusCancelled)

		assert.ErrorIs(t, err, ErrBookingNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed id never reaches the database", func(t *testing.T) {
		db, mock := setupTestDB(t)
		defer db.Close()

		err := NewRepository(db).SetBookingStatus(context.Background(), "nope", pkg.StatusCancelled)

		assert.ErrorIs(t, err, ErrBookingNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_SaveBookings(t *testing.T) {
	db, mock := setupTestDB(t)
	defer db.Close()
	bookings := []pkg.Booking{
		{ID: "b-1", PatientID: "u-1", Status: pkg.StatusPending, Urgency: pkg.UrgencyLow},
		{ID: "b-2", PatientID: "u-2", Status: pkg.StatusCompleted, Urgency: pkg.UrgencyHigh},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO bookings")
	prep.ExpectExec().WithArgs(append([]driver.Value{"b-1"}, anyArgs(14)...)...).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(append([]driver.Value{"b-2"}, anyArgs(14)...)...).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewRepository(db).SaveBookings(context.Background(), bookings)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// setTime matches any non-zero time.Time argument.
type setTime struct{}

func (setTime) Match(v driver.Value) bool {
	ts, ok := v.(time.Time)
	return ok && !ts.IsZero()
}

func TestRepository_SaveBookingsDefaultsCreatedAt(t *testing.T) {
	db, mock := setupTestDB(t)
	defer db.Close()
	imported := pkg.Booking{ID: "8f14e45f-ceea-467f-a0e6-5d2b0f5e7c11", PatientID: "u-1", Status: pkg.StatusPending, Urgency: pkg.UrgencyLow}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO bookings")
	args := append([]driver.Value{imported.ID}, anyArgs(13)...)
	prep.ExpectExec().WithArgs(append(args, setTime{})...).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewRepository(db).SaveBookings(context.Background(), []pkg.Booking{imported})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_SaveBookingsRollsBack(t *testing.T) {
	db, mock := setupTestDB(t)
	defer db.Close()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO bookings")
	prep.ExpectExec().WillReturnError(errors.New("check constraint"))
	mock.ExpectRollback()

	err := NewRepository(db).SaveBookings(context.Background(), []pkg.Booking{{ID: "b-1"}})

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func anyArgs(n int) []driver.Value {
	out := make([]driver.Value, n)
	for i := range out {
		out[i] = sqlmock.AnyArg()
	}
	return out
}
