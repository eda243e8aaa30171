package core

import (
	"time"

	"github.com/google/uuid"

	"diagnosure/pkg"
)

// SymptomStore is the ordered symptom log of one session together with its
// intake context.  It is not safe for concurrent use; the owning Conversation
// serialises access.
type SymptomStore struct {
	entries []pkg.SymptomEntry
	intake  pkg.IntakeContext
	now     func() time.Time
}

// NewSymptomStore returns an empty store.
func NewSymptomStore() *SymptomStore {
	return &SymptomStore{now: time.Now}
}

// Add appends a new symptom entry and returns it.
func (s *SymptomStore) Add(text string) pkg.SymptomEntry {
	entry := pkg.SymptomEntry{
		ID:        uuid.NewString(),
		Text:      text,
		Timestamp: s.now(),
	}
	s.entries = append(s.entries, entry)
	return entry
}

// Entries returns a copy of the log in submission order.
func (s *SymptomStore) Entries() []pkg.SymptomEntry {
	out := make([]pkg.SymptomEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Texts returns the symptom texts in submission order.
func (s *SymptomStore) Texts() []string {
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Text
	}
	return out
}

func (s *SymptomStore) Len() int { return len(s.entries) }

// Intake returns a copy of the intake context.
func (s *SymptomStore) Intake() pkg.IntakeContext {
	in := s.intake
	in.FollowUpResponses = append([]string{}, s.intake.FollowUpResponses...)
	return in
}

// Answer records the reply to a follow-up step.  The reply is always kept in
// FollowUpResponses; steps with a dedicated field also set it.
func (s *SymptomStore) Answer(step pkg.FollowUpStep, text string) {
	switch step {
	case pkg.StepMedications:
		s.intake.Medications = text
	case pkg.StepDuration:
		s.intake.Duration = text
	case pkg.StepConditions:
		s.intake.ExistingConditions = text
	}
	s.intake.FollowUpResponses = append(s.intake.FollowUpResponses, text)
}

// Request assembles the oracle request from the current contents.
func (s *SymptomStore) Request() pkg.AnalysisRequest {
	in := s.Intake()
	req := pkg.AnalysisRequest{
		Symptoms:           s.Texts(),
		Medications:        in.Medications,
		Duration:           in.Duration,
		ExistingConditions: in.ExistingConditions,
	}
	if len(in.FollowUpResponses) > 0 {
		req.FollowUpResponses = in.FollowUpResponses
	}
	return req
}

// Clear drops every entry and resets the intake context.
func (s *SymptomStore) Clear() {
	s.entries = nil
	s.intake = pkg.IntakeContext{}
}
