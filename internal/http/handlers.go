package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"diagnosure/internal/auth"
	"diagnosure/internal/core"
	"diagnosure/internal/db"
	"diagnosure/internal/report"
	"diagnosure/pkg"
)

const (
	maxBodyBytes      = 1 << 20
	keepAliveInterval = 30 * time.Second
)

// Server bundles together the dependencies required by HTTP handlers.  It
// implements http.Handler so it can be passed to http.Server.
type Server struct {
	Sessions  *core.SessionManager
	Bookings  *core.BookingService
	Publisher db.Publisher
	Reports   *report.Renderer
	Auth      *auth.Authenticator

	log    *logrus.Logger
	router chi.Router
}

// NewServer constructs a Server and its routes.
func NewServer(sessions *core.SessionManager, bookings *core.BookingService, publisher db.Publisher, reports *report.Renderer, authn *auth.Authenticator, logger *logrus.Logger) *Server {
	s := &Server{
		Sessions:  sessions,
		Bookings:  bookings,
		Publisher: publisher,
		Reports:   reports,
		Auth:      authn,
		log:       logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.Auth.Middleware)

		r.Get("/hospitals", s.handleHospitals)
		r.Get("/slots", s.handleSlots)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(pkg.RolePatientUser))

			r.Post("/sessions", s.handleCreateSession)
			r.Route("/sessions/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleDeleteSession)
				r.Post("/messages", s.handlePostMessage)
				r.Put("/credential", s.handleSetCredential)
				r.Get("/diagnoses", s.handleDiagnoses)
			})

			r.Post("/bookings", s.handleCreateBooking)
			r.Get("/bookings", s.handleMyBookings)
		})

		r.Route("/doctor", func(r chi.Router) {
			r.Use(auth.RequireRole(pkg.RoleDoctorUser))

			r.Get("/queue", s.handleQueue)
			r.Get("/queue/stream", s.handleQueueStream)
			r.Get("/queue/report.pdf", s.handleQueueReport)
			r.Patch("/bookings/{id}/status", s.handleSetStatus)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireRole(pkg.RoleAdminUser))

			r.Get("/bookings", s.handleExportBookings)
			r.Put("/bookings", s.handleImportBookings)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": s.Sessions.Len(),
	})
}

// handleHospitals lists the hospital catalog, optionally filtered by city.
func (s *Server) handleHospitals(w http.ResponseWriter, r *http.Request) {
	city := strings.TrimSpace(r.URL.Query().Get("city"))
	hospitals := []pkg.Hospital{}
	for _, h := range s.Bookings.Hospitals {
		if city == "" || strings.EqualFold(h.City, city) {
			hospitals = append(hospitals, h)
		}
	}
	writeJSON(w, http.StatusOK, hospitals)
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Bookings.Slots)
}

type sessionResponse struct {
	SessionID string     `json:"session_id"`
	CreatedAt time.Time  `json:"created_at"`
	Turn      *core.Turn `json:"turn"`
}

// handleCreateSession starts an intake conversation for the caller and
// returns the greeting.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	sess, turn := s.Sessions.Create(user)
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: sess.ID, CreatedAt: sess.CreatedAt, Turn: turn})
}

type sessionView struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	core.Snapshot
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*core.Session, bool) {
	user, _ := auth.CurrentUser(r.Context())
	sess, err := s.Sessions.Get(chi.URLParam(r, "id"), user.ID)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionView{SessionID: sess.ID, CreatedAt: sess.CreatedAt, Snapshot: sess.Snapshot()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	if err := s.Sessions.Delete(chi.URLParam(r, "id"), user.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type turnResponse struct {
	*core.Turn
	Error string `json:"error,omitempty"`
}

// handlePostMessage runs one conversational turn.  Recoverable conversation
// errors are reported next to the replies with status 200.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req pkg.ChatRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	turn, err := sess.Handle(r.Context(), req.Content)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, turnResponse{Turn: turn})
	case errors.Is(err, core.ErrEmptyMessage), errors.Is(err, core.ErrSessionNotFound):
		s.fail(w, r, err)
	default:
		writeJSON(w, http.StatusOK, turnResponse{Turn: turn, Error: err.Error()})
	}
}

func (s *Server) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	var req pkg.CredentialRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Sessions.SetCredential(chi.URLParam(r, "id"), user.ID, strings.TrimSpace(req.APIKey)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDiagnoses(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Diagnoses())
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	var req pkg.BookingRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.Bookings.Create(r.Context(), user, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleMyBookings(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	bookings, err := s.Bookings.ListMine(r.Context(), user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookings)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	q, err := s.Bookings.Queue(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req pkg.StatusRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Bookings.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleQueueStream sends the ranked queue as a "queue" event on connect and
// again after every booking notification, until the client goes away.
func (s *Server) handleQueueStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	ctx := r.Context()
	updates, err := s.Publisher.Listen(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := s.sendQueueEvent(w, r); err != nil {
		s.log.WithError(err).Warn("Failed to send queue event")
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			if err := s.sendQueueEvent(w, r); err != nil {
				s.log.WithError(err).Warn("Failed to send queue event")
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

func (s *Server) sendQueueEvent(w io.Writer, r *http.Request) error {
	q, err := s.Bookings.Queue(r.Context())
	if err != nil {
		return err
	}
	data, err := json.Marshal(q)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: queue\ndata: %s\n\n", data)
	return err
}

func (s *Server) handleQueueReport(w http.ResponseWriter, r *http.Request) {
	q, err := s.Bookings.Queue(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	now := time.Now()
	out, err := s.Reports.QueuePDF(q, now)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="queue-%s.pdf"`, now.Format("20060102-1504")))
	w.Write(out)
}

func (s *Server) handleExportBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := s.Bookings.Export(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookings)
}

func (s *Server) handleImportBookings(w http.ResponseWriter, r *http.Request) {
	var bookings []pkg.Booking
	if err := decode(w, r, &bookings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Bookings.Import(r.Context(), bookings); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps a service error to a response.  Unknown errors are logged and
// hidden from the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrSessionNotFound), errors.Is(err, db.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrInvalidBooking), errors.Is(err, core.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, report.ErrFontUnavailable):
		writeError(w, http.StatusServiceUnavailable, "report rendering unavailable")
	default:
		s.log.WithError(err).WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"path":       r.URL.Path,
		}).Error("Request error")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
