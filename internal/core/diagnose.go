package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"diagnosure/internal/llm"
	"diagnosure/pkg"
)

// CandidateCount is the size of every diagnosis batch.
const CandidateCount = 5

const (
	minProbability     = 10
	maxProbability     = 95
	defaultProbability = 50
	unknownCondition   = "Unknown Condition"
	fallbackReasoning  = "Analysis based on reported symptoms"
)

// Diagnoser asks the LLM for a differential diagnosis and normalises its
// reply into a fixed-size ranked batch.  It never retries.
type Diagnoser struct {
	LLM     llm.Client
	Timeout time.Duration
	log     *logrus.Logger
}

// NewDiagnoser constructs a Diagnoser.  A zero timeout leaves the deadline to
// the caller's context.
func NewDiagnoser(client llm.Client, timeout time.Duration, logger *logrus.Logger) *Diagnoser {
	return &Diagnoser{LLM: client, Timeout: timeout, log: logger}
}

// Analyze returns exactly CandidateCount candidates ordered by descending
// probability.
func (d *Diagnoser) Analyze(ctx context.Context, apiKey string, req pkg.AnalysisRequest) ([]pkg.DiagnosisCandidate, error) {
	if len(req.Symptoms) == 0 {
		return nil, ErrNoSymptomsRecorded
	}
	if apiKey == "" {
		return nil, ErrCredentialMissing
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	msgs := []llm.Message{
		{Role: "system", Content: AnalysisSystemPrompt},
		{Role: "user", Content: BuildAnalysisPrompt(req, CandidateCount)},
	}
	raw, err := d.LLM.Chat(ctx, apiKey, msgs)
	if err != nil {
		switch {
		case errors.Is(err, llm.ErrMissingAPIKey), errors.Is(err, llm.ErrUnauthorized):
			return nil, ErrCredentialMissing
		case errors.Is(err, llm.ErrEmptyResponse):
			return nil, fmt.Errorf("%w: %v", ErrOracleResponseInvalid, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}

	batch, err := ParseCandidates(raw, CandidateCount)
	if err != nil {
		d.log.WithError(err).WithField("raw_length", len(raw)).Warn("Discarding oracle reply")
		return nil, err
	}
	return batch, nil
}

// BuildAnalysisPrompt renders the patient data for the oracle.  Absent
// optional fields are left out entirely.
func BuildAnalysisPrompt(req pkg.AnalysisRequest, n int) string {
	var b strings.Builder
	b.WriteString("Symptoms: ")
	b.WriteString(strings.Join(req.Symptoms, ", "))
	if req.Medications != "" {
		b.WriteString("\nCurrent Medications: " + req.Medications)
	}
	if req.Duration != "" {
		b.WriteString("\nSymptom Duration: " + req.Duration)
	}
	if req.ExistingConditions != "" {
		b.WriteString("\nExisting Medical Conditions: " + req.ExistingConditions)
	}
	if len(req.FollowUpResponses) > 0 {
		b.WriteString("\nAdditional Information: " + strings.Join(req.FollowUpResponses, "; "))
	}
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf(AnalysisInstruction, n))
	return b.String()
}

// ParseCandidates extracts the JSON array from an oracle reply and
// normalises every element.  Replies holding fewer than n objects are
// rejected; extra ones are dropped after sorting.
func ParseCandidates(raw string, n int) ([]pkg.DiagnosisCandidate, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.ReplaceAll(clean, "```json", "")
	clean = strings.ReplaceAll(clean, "```", "")

	start := strings.Index(clean, "[")
	end := strings.LastIndex(clean, "]")
	if start == -1 || end < start {
		return nil, fmt.Errorf("%w: no JSON array in reply", ErrOracleResponseInvalid)
	}

	var items []interface{}
	if err := json.Unmarshal([]byte(clean[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleResponseInvalid, err)
	}

	batch := make([]pkg.DiagnosisCandidate, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: element %d is not an object", ErrOracleResponseInvalid, i)
		}
		batch = append(batch, normalize(obj))
	}
	if len(batch) < n {
		return nil, fmt.Errorf("%w: got %d diagnoses, want %d", ErrOracleResponseInvalid, len(batch), n)
	}

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Probability > batch[j].Probability
	})
	return batch[:n], nil
}

func normalize(obj map[string]interface{}) pkg.DiagnosisCandidate {
	return pkg.DiagnosisCandidate{
		ID:                uuid.NewString(),
		Condition:         textOr(obj["condition"], unknownCondition),
		Probability:       probability(obj["probability"]),
		Reasoning:         textOr(obj["reasoning"], fallbackReasoning),
		Urgency:           urgency(obj["urgency"]),
		DoctorRecommended: truthy(obj["doctorRecommended"]),
	}
}

func textOr(v interface{}, fallback string) string {
	if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return fallback
}

// probability accepts JSON numbers and numeric strings such as "75%".
func probability(v interface{}) int {
	var f float64
	switch p := v.(type) {
	case float64:
		f = p
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(p), "%"), 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
			return defaultProbability
		}
		f = parsed
	default:
		return defaultProbability
	}
	return clamp(int(math.Round(f)), minProbability, maxProbability)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func urgency(v interface{}) pkg.Urgency {
	if s, ok := v.(string); ok {
		u := pkg.Urgency(strings.ToLower(strings.TrimSpace(s)))
		if u.Valid() {
			return u
		}
	}
	return pkg.UrgencyMedium
}

// truthy follows JavaScript's Boolean() coercion for decoded JSON values.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		// arrays and objects
		return true
	}
}

// BookingUrgency is the most severe urgency in a batch, or medium when there
// is no batch.
func BookingUrgency(batch []pkg.DiagnosisCandidate) pkg.Urgency {
	if len(batch) == 0 {
		return pkg.UrgencyMedium
	}
	worst := batch[0].Urgency
	for _, c := range batch[1:] {
		if c.Urgency.Severity() > worst.Severity() {
			worst = c.Urgency
		}
	}
	if !worst.Valid() {
		return pkg.UrgencyMedium
	}
	return worst
}

// LeadingCondition returns the most probable condition of a batch, or nil.
func LeadingCondition(batch []pkg.DiagnosisCandidate) *string {
	if len(batch) == 0 {
		return nil
	}
	condition := batch[0].Condition
	return &condition
}
