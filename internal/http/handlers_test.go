package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diagnosure/internal/auth"
	"diagnosure/internal/core"
	"diagnosure/internal/db"
	"diagnosure/internal/report"
	"diagnosure/pkg"
)

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(ctx context.Context, apiKey string, req pkg.AnalysisRequest) ([]pkg.DiagnosisCandidate, error) {
	if apiKey == "" {
		return nil, core.ErrCredentialMissing
	}
	return []pkg.DiagnosisCandidate{
		{ID: "1", Condition: "Influenza", Probability: 70, Urgency: pkg.UrgencyMedium},
		{ID: "2", Condition: "Strep Throat", Probability: 50, Urgency: pkg.UrgencyHigh},
		{ID: "3", Condition: "Common Cold", Probability: 40, Urgency: pkg.UrgencyLow},
		{ID: "4", Condition: "Mononucleosis", Probability: 20, Urgency: pkg.UrgencyMedium},
		{ID: "5", Condition: "COVID-19", Probability: 10, Urgency: pkg.UrgencyMedium},
	}, nil
}

type testEnv struct {
	server  *Server
	authn   *auth.Authenticator
	patient string
	other   string
	doctor  string
	admin   string
}

func newTestEnv(t *testing.T, defaultKey string) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	store, err := db.NewSQLiteStore(filepath.Join(t.TempDir(), "bookings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pub := db.NewLocalNotifier()
	sessions := core.NewSessionManager(stubAnalyzer{}, defaultKey, 10, time.Hour, logger)
	hospitals := []pkg.Hospital{
		{Name: "City General Hospital", Address: "123 Main St", City: "Chennai"},
		{Name: "Lakeside Clinic", Address: "9 Shore Rd", City: "Madurai"},
	}
	bookings := core.NewBookingService(store, pub, sessions, hospitals, []string{"Morning (9AM-12PM)"}, logger)
	authn := auth.New("test-secret", "diagnosure", logger)
	// no fallback fonts, so the report endpoint fails the same way everywhere
	saved := report.DefaultFontPaths
	report.DefaultFontPaths = nil
	reports := report.NewRenderer(filepath.Join(t.TempDir(), "missing.ttf"), logger)
	report.DefaultFontPaths = saved

	env := &testEnv{
		server: NewServer(sessions, bookings, pub, reports, authn, logger),
		authn:  authn,
	}
	age := 30
	env.patient = env.token(t, pkg.User{ID: "p-1", Name: "Ada", Age: &age, Role: pkg.RolePatientUser})
	env.other = env.token(t, pkg.User{ID: "p-2", Name: "Bob", Age: &age, Role: pkg.RolePatientUser})
	env.doctor = env.token(t, pkg.User{ID: "d-1", Name: "Dr. Rao", Role: pkg.RoleDoctorUser})
	env.admin = env.token(t, pkg.User{ID: "a-1", Name: "Root", Role: pkg.RoleAdminUser})
	return env
}

func (e *testEnv) token(t *testing.T, u pkg.User) string {
	t.Helper()
	tok, err := e.authn.IssueToken(u, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func (e *testEnv) say(t *testing.T, sessionID, text string) turnView {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/messages", e.patient, pkg.ChatRequest{Content: text})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var turn turnView
	decodeBody(t, rec, &turn)
	return turn
}

type turnView struct {
	Replies            []pkg.Message            `json:"replies"`
	Stage              pkg.Stage                `json:"stage"`
	FollowUp           pkg.FollowUpStep         `json:"follow_up"`
	CredentialRequired bool                     `json:"credential_required"`
	Diagnoses          []pkg.DiagnosisCandidate `json:"diagnoses"`
	Error              string                   `json:"error"`
}

func (e *testEnv) startSession(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/sessions", e.patient, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		SessionID string   `json:"session_id"`
		Turn      turnView `json:"turn"`
	}
	decodeBody(t, rec, &created)
	require.NotEmpty(t, created.SessionID)
	require.Len(t, created.Turn.Replies, 1)
	assert.Contains(t, created.Turn.Replies[0].Content, "Ada")
	assert.Equal(t, pkg.StageCollecting, created.Turn.Stage)
	return created.SessionID
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "sk")
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","sessions":0}`, rec.Body.String())
}

func TestAPIRequiresToken(t *testing.T) {
	env := newTestEnv(t, "sk")
	rec := env.do(t, http.MethodGet, "/api/hospitals", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCatalog(t *testing.T) {
	env := newTestEnv(t, "sk")

	rec := env.do(t, http.MethodGet, "/api/hospitals?city=madurai", env.patient, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hospitals []pkg.Hospital
	decodeBody(t, rec, &hospitals)
	require.Len(t, hospitals, 1)
	assert.Equal(t, "Lakeside Clinic", hospitals[0].Name)

	rec = env.do(t, http.MethodGet, "/api/hospitals?city=Delhi", env.patient, nil)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/slots", env.doctor, nil)
	assert.JSONEq(t, `["Morning (9AM-12PM)"]`, rec.Body.String())
}

func TestIntakeFlow(t *testing.T) {
	env := newTestEnv(t, "sk-default")
	id := env.startSession(t)

	env.say(t, id, "I have a fever")
	turn := env.say(t, id, "done")
	assert.Equal(t, pkg.StageFollowUp, turn.Stage)
	assert.Equal(t, pkg.StepMedications, turn.FollowUp)

	env.say(t, id, "paracetamol")
	env.say(t, id, "two days")
	turn = env.say(t, id, "none")
	assert.Equal(t, pkg.StepComplete, turn.FollowUp)

	turn = env.say(t, id, "analyze")
	assert.Equal(t, pkg.StageComplete, turn.Stage)
	require.Len(t, turn.Diagnoses, core.CandidateCount)
	assert.Empty(t, turn.Error)

	rec := env.do(t, http.MethodGet, "/api/sessions/"+id+"/diagnoses", env.patient, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var batch []pkg.DiagnosisCandidate
	decodeBody(t, rec, &batch)
	assert.Equal(t, "Influenza", batch[0].Condition)

	rec = env.do(t, http.MethodGet, "/api/sessions/"+id, env.patient, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		SessionID string            `json:"session_id"`
		Stage     pkg.Stage         `json:"stage"`
		Intake    pkg.IntakeContext `json:"intake"`
		Messages  []pkg.Message     `json:"messages"`
	}
	decodeBody(t, rec, &view)
	assert.Equal(t, id, view.SessionID)
	assert.Equal(t, "two days", view.Intake.Duration)
	assert.Equal(t, pkg.RoleBot, view.Messages[0].Role)
}

func TestIntakeCredentialRecovery(t *testing.T) {
	env := newTestEnv(t, "")
	id := env.startSession(t)
	env.say(t, id, "cough")
	env.say(t, id, "done")

	turn := env.say(t, id, "analyze")
	assert.True(t, turn.CredentialRequired)
	assert.Equal(t, pkg.StageFollowUp, turn.Stage)
	assert.NotEmpty(t, turn.Error)

	rec := env.do(t, http.MethodPut, "/api/sessions/"+id+"/credential", env.patient, pkg.CredentialRequest{APIKey: "sk-mine"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	turn = env.say(t, id, "analyze")
	assert.Equal(t, pkg.StageComplete, turn.Stage)
}

func TestSessionErrors(t *testing.T) {
	env := newTestEnv(t, "sk")
	id := env.startSession(t)

	rec := env.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", env.patient, pkg.ChatRequest{Content: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/sessions/"+id, env.other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "sessions are private to their owner")

	rec = env.do(t, http.MethodPost, "/api/sessions", env.doctor, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	turn := env.say(t, id, "done")
	assert.Equal(t, core.ErrNoSymptomsRecorded.Error(), turn.Error)
	assert.Equal(t, pkg.StageCollecting, turn.Stage)

	rec = env.do(t, http.MethodDelete, "/api/sessions/"+id, env.patient, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/sessions/"+id, env.patient, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBookingAndQueue(t *testing.T) {
	env := newTestEnv(t, "sk")
	id := env.startSession(t)
	env.say(t, id, "sore throat and fever")
	env.say(t, id, "done")
	env.say(t, id, "analyze")

	rec := env.do(t, http.MethodPost, "/api/bookings", env.patient, pkg.BookingRequest{
		SessionID:    id,
		HospitalName: "City General Hospital",
		Slot:         "Morning (9AM-12PM)",
		Date:         "2025-03-15",
		Note:         "throat check",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var booking pkg.Booking
	decodeBody(t, rec, &booking)
	assert.Equal(t, pkg.UrgencyHigh, booking.Urgency)
	require.NotNil(t, booking.Diagnosis)
	assert.Equal(t, "Influenza", *booking.Diagnosis)

	rec = env.do(t, http.MethodPost, "/api/bookings", env.patient, pkg.BookingRequest{HospitalName: "City General Hospital", Slot: "Noon", Date: "2025-03-15", Note: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/bookings", env.patient, nil)
	var mine []pkg.Booking
	decodeBody(t, rec, &mine)
	require.Len(t, mine, 1)

	rec = env.do(t, http.MethodGet, "/api/doctor/queue", env.patient, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/doctor/queue", env.doctor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var queue pkg.DoctorQueue
	decodeBody(t, rec, &queue)
	assert.Equal(t, 1, queue.Stats.Total)
	require.Len(t, queue.Bookings, 1)
	assert.Greater(t, queue.Bookings[0].Score, 0)

	rec = env.do(t, http.MethodPatch, "/api/doctor/bookings/"+booking.ID+"/status", env.doctor, pkg.StatusRequest{Status: pkg.StatusConfirmed})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodPatch, "/api/doctor/bookings/"+booking.ID+"/status", env.doctor, pkg.StatusRequest{Status: "archived"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPatch, "/api/doctor/bookings/00000000-0000-0000-0000-000000000000/status", env.doctor, pkg.StatusRequest{Status: pkg.StatusConfirmed})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/doctor/queue/report.pdf", env.doctor, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminExportImport(t *testing.T) {
	env := newTestEnv(t, "sk")
	rec := env.do(t, http.MethodPost, "/api/bookings", env.patient, pkg.BookingRequest{
		HospitalName: "Lakeside Clinic", Note: "collapsed", Emergency: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/admin/bookings", env.doctor, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/bookings", env.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []pkg.Booking
	decodeBody(t, rec, &all)
	require.Len(t, all, 1)
	assert.Equal(t, "Emergency", all[0].Slot)
	assert.True(t, strings.HasPrefix(all[0].Note, "EMERGENCY: "))

	all[0].Status = pkg.StatusCompleted
	rec = env.do(t, http.MethodPut, "/api/admin/bookings", env.admin, all)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/bookings", env.patient, nil)
	var mine []pkg.Booking
	decodeBody(t, rec, &mine)
	assert.Equal(t, pkg.StatusCompleted, mine[0].Status)
}

func TestQueueStream(t *testing.T) {
	env := newTestEnv(t, "sk")
	ts := httptest.NewServer(env.server)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/doctor/queue/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.doctor)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan pkg.DoctorQueue, 4)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var q pkg.DoctorQueue
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &q) == nil {
				events <- q
			}
		}
	}()

	next := func() pkg.DoctorQueue {
		select {
		case q := <-events:
			return q
		case <-time.After(5 * time.Second):
			t.Fatal("no queue event")
			return pkg.DoctorQueue{}
		}
	}

	assert.Equal(t, 0, next().Stats.Total)

	rec := env.do(t, http.MethodPost, "/api/bookings", env.patient, pkg.BookingRequest{
		HospitalName: "City General Hospital", Slot: "Morning (9AM-12PM)", Date: "2025-03-15", Note: "rash",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, 1, next().Stats.Total)
}
