package pkg

import "time"

// Urgency is the clinical urgency attached to diagnoses and bookings.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Severity orders urgencies from low (1) to critical (4).  Unknown values
// rank below low.
func (u Urgency) Severity() int {
	switch u {
	case UrgencyCritical:
		return 4
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 2
	case UrgencyLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether u is one of the four known urgencies.
func (u Urgency) Valid() bool { return u.Severity() > 0 }

// BookingStatus is the lifecycle state of a booking.  It is the only booking
// field that changes after creation.
type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCompleted BookingStatus = "completed"
	StatusCancelled BookingStatus = "cancelled"
)

// Valid reports whether s is a known booking status.
func (s BookingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Role identifies the kind of authenticated user.
type Role string

const (
	RolePatientUser Role = "patient"
	RoleDoctorUser  Role = "doctor"
	RoleAdminUser   Role = "admin"
)

// User is the identity of the caller as seen by the service.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Age    *int   `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`
	Role   Role   `json:"role"`
}

// MessageRole describes who authored a message.
type MessageRole string

const (
	RolePatient MessageRole = "patient"
	RoleBot     MessageRole = "bot"
)

// Message represents a chat message in a session.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// Stage is the top-level state of a symptom intake conversation.
type Stage string

const (
	StageGreeting   Stage = "greeting"
	StageCollecting Stage = "collecting"
	StageFollowUp   Stage = "followup"
	StageComplete   Stage = "complete"
)

// FollowUpStep is the cursor over the structured follow-up questions.
type FollowUpStep string

const (
	StepMedications FollowUpStep = "medications"
	StepDuration    FollowUpStep = "duration"
	StepConditions  FollowUpStep = "conditions"
	StepComplete    FollowUpStep = "complete"
)

// Next returns the step after s.  The complete step is terminal.
func (s FollowUpStep) Next() FollowUpStep {
	switch s {
	case StepMedications:
		return StepDuration
	case StepDuration:
		return StepConditions
	default:
		return StepComplete
	}
}

// SymptomEntry is one free-text symptom recorded during collection.  Entries
// are never mutated once created.
type SymptomEntry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// IntakeContext accumulates the structured follow-up answers of a session.
type IntakeContext struct {
	Medications        string   `json:"medications,omitempty"`
	Duration           string   `json:"duration,omitempty"`
	ExistingConditions string   `json:"existing_conditions,omitempty"`
	FollowUpResponses  []string `json:"follow_up_responses"`
}

// AnalysisRequest is the structured request sent to the diagnosis oracle.
// Absent optional fields are omitted from the encoded form.
type AnalysisRequest struct {
	Symptoms           []string `json:"symptoms"`
	Medications        string   `json:"medications,omitempty"`
	Duration           string   `json:"duration,omitempty"`
	ExistingConditions string   `json:"existingConditions,omitempty"`
	FollowUpResponses  []string `json:"followUpResponses,omitempty"`
}

// DiagnosisCandidate is one entry of a ranked differential diagnosis.
type DiagnosisCandidate struct {
	ID                string  `json:"id"`
	Condition         string  `json:"condition"`
	Probability       int     `json:"probability"`
	Reasoning         string  `json:"reasoning"`
	Urgency           Urgency `json:"urgency"`
	DoctorRecommended bool    `json:"doctorRecommended"`
}

// Booking is an appointment or emergency request seen by the doctor queue.
type Booking struct {
	ID              string        `json:"id"`
	PatientID       string        `json:"patient_id"`
	PatientName     string        `json:"patient_name"`
	Age             int           `json:"age"`
	Gender          string        `json:"gender"`
	HospitalName    string        `json:"hospital_name"`
	HospitalAddress string        `json:"hospital_address"`
	Slot            string        `json:"slot"`
	Date            string        `json:"date"`
	Note            string        `json:"note"`
	Status          BookingStatus `json:"status"`
	Urgency         Urgency       `json:"urgency"`
	Symptoms        []string      `json:"symptoms"`
	Diagnosis       *string       `json:"diagnosis,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// NewBooking is a booking before the store assigns its id and timestamp.
type NewBooking struct {
	PatientID       string
	PatientName     string
	Age             int
	Gender          string
	HospitalName    string
	HospitalAddress string
	Slot            string
	Date            string
	Note            string
	Status          BookingStatus
	Urgency         Urgency
	Symptoms        []string
	Diagnosis       *string
}

// Hospital is an entry of the configured hospital catalog.
type Hospital struct {
	Name    string `json:"name" mapstructure:"name"`
	Address string `json:"address" mapstructure:"address"`
	City    string `json:"city" mapstructure:"city"`
}

// ChatRequest represents a request to send a message from the patient.
type ChatRequest struct {
	Content string `json:"content"`
}

// CredentialRequest supplies the oracle API key for a session.
type CredentialRequest struct {
	APIKey string `json:"api_key"`
}

// BookingRequest is the patient-submitted part of a booking.
type BookingRequest struct {
	SessionID       string `json:"session_id,omitempty"`
	HospitalName    string `json:"hospital_name"`
	HospitalAddress string `json:"hospital_address"`
	Slot            string `json:"slot"`
	Date            string `json:"date"`
	Note            string `json:"note"`
	Age             *int   `json:"age,omitempty"`
	Gender          string `json:"gender,omitempty"`
	Emergency       bool   `json:"emergency,omitempty"`
}

// StatusRequest changes the status of a booking.
type StatusRequest struct {
	Status BookingStatus `json:"status"`
}

// RankedBooking pairs a booking with its derived priority score.
type RankedBooking struct {
	Booking
	Score int `json:"priority_score"`
}

// QueueStats summarises the doctor queue for the dashboard.
type QueueStats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Critical int `json:"critical"`
	Today    int `json:"today"`
}

// DoctorQueue is returned by the doctor queue endpoint.
type DoctorQueue struct {
	Stats    QueueStats      `json:"stats"`
	Bookings []RankedBooking `json:"bookings"`
}
