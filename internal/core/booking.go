package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"diagnosure/internal/db"
	"diagnosure/internal/triage"
	"diagnosure/pkg"
)

const (
	// EmergencySlot is the slot recorded for emergency requests.
	EmergencySlot = "Emergency"
	emergencyNote = "EMERGENCY: "
	dateLayout    = "2006-01-02"
	maxAge        = 150
)

// ErrInvalidBooking wraps every booking validation failure.
var ErrInvalidBooking = errors.New("invalid booking")

// BookingService creates bookings from patient requests and serves the
// doctor queue.
type BookingService struct {
	Store     db.BookingStore
	Publisher db.Publisher
	Sessions  *SessionManager
	Hospitals []pkg.Hospital
	Slots     []string

	now func() time.Time
	log *logrus.Logger
}

// NewBookingService constructs a BookingService.  sessions may be nil, in
// which case requests naming a session are rejected.
func NewBookingService(store db.BookingStore, pub db.Publisher, sessions *SessionManager, hospitals []pkg.Hospital, slots []string, logger *logrus.Logger) *BookingService {
	return &BookingService{
		Store:     store,
		Publisher: pub,
		Sessions:  sessions,
		Hospitals: hospitals,
		Slots:     slots,
		now:       time.Now,
		log:       logger,
	}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidBooking, fmt.Sprintf(format, args...))
}

// Create validates req, attaches the symptoms and latest diagnosis of the
// named session, and appends the booking.
func (s *BookingService) Create(ctx context.Context, user pkg.User, req pkg.BookingRequest) (*pkg.Booking, error) {
	nb, err := s.build(user, req)
	if err != nil {
		return nil, err
	}

	var diagnoses []pkg.DiagnosisCandidate
	if req.SessionID != "" {
		if s.Sessions == nil {
			return nil, ErrSessionNotFound
		}
		sess, err := s.Sessions.Get(req.SessionID, user.ID)
		if err != nil {
			return nil, err
		}
		nb.Symptoms = sess.Symptoms()
		diagnoses = sess.Diagnoses()
	}
	if nb.Symptoms == nil {
		nb.Symptoms = []string{}
	}
	nb.Urgency = BookingUrgency(diagnoses)
	nb.Diagnosis = LeadingCondition(diagnoses)

	b, err := s.Store.AppendBooking(ctx, nb)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"patient_id": b.PatientID,
		"urgency":    b.Urgency,
		"emergency":  req.Emergency,
	}).Info("Booking created")
	s.publish(ctx, b.ID)
	return b, nil
}

func (s *BookingService) build(user pkg.User, req pkg.BookingRequest) (pkg.NewBooking, error) {
	nb := pkg.NewBooking{
		PatientID:       user.ID,
		PatientName:     user.Name,
		Gender:          user.Gender,
		HospitalName:    strings.TrimSpace(req.HospitalName),
		HospitalAddress: strings.TrimSpace(req.HospitalAddress),
		Slot:            strings.TrimSpace(req.Slot),
		Date:            strings.TrimSpace(req.Date),
		Note:            strings.TrimSpace(req.Note),
		Status:          pkg.StatusPending,
	}
	if nb.Gender == "" {
		nb.Gender = req.Gender
	}

	switch {
	case user.Age != nil:
		nb.Age = *user.Age
	case req.Age != nil:
		nb.Age = *req.Age
	default:
		return nb, invalid("age is required")
	}
	if nb.Age < 0 || nb.Age > maxAge {
		return nb, invalid("age %d out of range", nb.Age)
	}

	if nb.HospitalName == "" {
		return nb, invalid("hospital name is required")
	}
	if nb.HospitalAddress == "" {
		for _, h := range s.Hospitals {
			if strings.EqualFold(h.Name, nb.HospitalName) {
				nb.HospitalAddress = h.Address
				break
			}
		}
	}
	if nb.Note == "" {
		return nb, invalid("note is required")
	}

	if req.Emergency {
		nb.Slot = EmergencySlot
		if nb.Date == "" {
			nb.Date = s.now().Format(dateLayout)
		}
		if !strings.HasPrefix(nb.Note, emergencyNote) {
			nb.Note = emergencyNote + nb.Note
		}
	} else if !s.knownSlot(nb.Slot) {
		return nb, invalid("unknown slot %q", nb.Slot)
	}

	if _, err := time.Parse(dateLayout, nb.Date); err != nil {
		return nb, invalid("date must be YYYY-MM-DD")
	}
	return nb, nil
}

func (s *BookingService) knownSlot(slot string) bool {
	for _, known := range s.Slots {
		if known == slot {
			return true
		}
	}
	return false
}

// ListMine returns the bookings of one patient, newest first.
func (s *BookingService) ListMine(ctx context.Context, patientID string) ([]pkg.Booking, error) {
	return s.Store.ListByPatient(ctx, patientID)
}

// Queue loads every booking and ranks it for the doctor dashboard.  Scores
// are recomputed on each call.
func (s *BookingService) Queue(ctx context.Context) (*pkg.DoctorQueue, error) {
	bookings, err := s.Store.LoadBookings(ctx)
	if err != nil {
		return nil, err
	}
	return &pkg.DoctorQueue{
		Stats:    triage.Stats(bookings, s.now().Format(dateLayout)),
		Bookings: triage.Rank(bookings),
	}, nil
}

// SetStatus changes the status of a booking.
func (s *BookingService) SetStatus(ctx context.Context, id string, status pkg.BookingStatus) error {
	if !status.Valid() {
		return invalid("unknown status %q", status)
	}
	if err := s.Store.SetBookingStatus(ctx, id, status); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"booking_id": id, "status": status}).Info("Booking status changed")
	s.publish(ctx, id)
	return nil
}

// Export returns every stored booking.
func (s *BookingService) Export(ctx context.Context) ([]pkg.Booking, error) {
	return s.Store.LoadBookings(ctx)
}

// Import upserts bookings.  Only the status of an existing booking changes.
func (s *BookingService) Import(ctx context.Context, bookings []pkg.Booking) error {
	for _, b := range bookings {
		if b.ID == "" {
			return invalid("booking without id")
		}
		if _, err := uuid.Parse(b.ID); err != nil {
			return invalid("booking id %q is not a uuid", b.ID)
		}
		if !b.Status.Valid() {
			return invalid("booking %s has unknown status %q", b.ID, b.Status)
		}
		if !b.Urgency.Valid() {
			return invalid("booking %s has unknown urgency %q", b.ID, b.Urgency)
		}
	}
	if err := s.Store.SaveBookings(ctx, bookings); err != nil {
		return err
	}
	s.log.WithField("count", len(bookings)).Info("Bookings imported")
	for _, b := range bookings {
		s.publish(ctx, b.ID)
	}
	return nil
}

// publish failures never fail the write; listeners reload the queue on the
// next notification.
func (s *BookingService) publish(ctx context.Context, id string) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Notify(ctx, id); err != nil {
		s.log.WithError(err).WithField("booking_id", id).Warn("Failed to publish booking update")
	}
}
