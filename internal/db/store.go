package db

import (
	"context"
	"errors"

	"diagnosure/pkg"
)

// ErrBookingNotFound is returned when a keyed update matches no booking.
var ErrBookingNotFound = errors.New("booking not found")

// BookingStore persists bookings.  Updates are keyed by booking id and are
// atomic per record; no cross-record locking is implied.
type BookingStore interface {
	// LoadBookings returns every booking in creation order.
	LoadBookings(ctx context.Context) ([]pkg.Booking, error)
	// SaveBookings upserts the given bookings in one transaction.
	SaveBookings(ctx context.Context, bookings []pkg.Booking) error
	// AppendBooking stores a new booking, assigning its id and creation time.
	AppendBooking(ctx context.Context, b pkg.NewBooking) (*pkg.Booking, error)
	// SetBookingStatus changes the status of one booking.
	SetBookingStatus(ctx context.Context, id string, status pkg.BookingStatus) error
	// ListByPatient returns a patient's bookings, newest first.
	ListByPatient(ctx context.Context, patientID string) ([]pkg.Booking, error)
	Close() error
}

// Publisher announces booking changes to queue listeners.
type Publisher interface {
	Notify(ctx context.Context, bookingID string) error
	Listen(ctx context.Context) (<-chan string, error)
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}
