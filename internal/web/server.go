// Package web provides the HTTP status page and drain controls for the bin-sensor daemon.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/sweeney/bin-sensor/internal/logic"
	"github.com/sweeney/bin-sensor/internal/status"
)

// DrainService is the confirm-then-apply drain API of a session.
type DrainService interface {
	RequestDrain(sel []logic.Category) (logic.DrainRequest, bool, error)
	RequestDrainAll() (logic.DrainRequest, bool, error)
	ConfirmDrain(ctx context.Context, id string) ([]logic.Category, error)
	CancelDrain() bool
}

// NotificationsFunc lists recent notifications, oldest first.
type NotificationsFunc func(ctx context.Context) ([]logic.Notification, error)

// Option configures a Server.
type Option func(*Server)

// WithDrain enables the drain endpoints.
func WithDrain(d DrainService) Option {
	return func(s *Server) { s.drain = d }
}

// WithNotifications enables GET /notifications.
func WithNotifications(f NotificationsFunc) Option {
	return func(s *Server) { s.notifications = f }
}

// WithMetrics serves h on GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithAccessLog writes combined-format access logs to w. Default stdout.
func WithAccessLog(w io.Writer) Option {
	return func(s *Server) { s.accessLog = w }
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer    *http.Server
	tracker       *status.Tracker
	drain         DrainService
	notifications NotificationsFunc
	metrics       http.Handler
	accessLog     io.Writer
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker, opts ...Option) *Server {
	s := &Server{tracker: tracker, accessLog: os.Stdout}
	for _, opt := range opts {
		opt(s)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handlers.LoggingHandler(s.accessLog, s.router()),
	}
	return s
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	if s.notifications != nil {
		r.HandleFunc("/notifications", s.handleNotifications).Methods(http.MethodGet)
	}
	if s.drain != nil {
		r.HandleFunc("/drain", s.handleDrainRequest).Methods(http.MethodPost)
		r.HandleFunc("/drain/confirm", s.handleDrainConfirm).Methods(http.MethodPost)
		r.HandleFunc("/drain/cancel", s.handleDrainCancel).Methods(http.MethodPost)
	}
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return r
}

// Handler returns the root handler, including access logging.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap, s.drain != nil)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// NotificationJSON is one entry of GET /notifications.
type NotificationJSON struct {
	Category  string `json:"category"`
	Level     int    `json:"level"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := s.notifications(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "notifications unavailable")
		return
	}
	out := make([]NotificationJSON, 0, len(list))
	for _, n := range list {
		out = append(out, NotificationJSON{
			Category:  string(n.Category),
			Level:     n.Level,
			Severity:  string(n.Severity),
			Message:   n.Message,
			CreatedAt: n.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

// DrainRequestBody is the body of POST /drain.
type DrainRequestBody struct {
	Categories []string `json:"categories"`
	All        bool     `json:"all"`
}

// DrainResponse is returned by the drain endpoints.
type DrainResponse struct {
	Requested bool     `json:"requested,omitempty"`
	ID        string   `json:"id,omitempty"`
	Drained   []string `json:"drained,omitempty"`
	Pending   []string `json:"pending,omitempty"`
	Cancelled bool     `json:"cancelled,omitempty"`
	Message   string   `json:"message,omitempty"`
}

func (s *Server) handleDrainRequest(w http.ResponseWriter, r *http.Request) {
	var body DrainRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		req logic.DrainRequest
		ok  bool
		err error
	)
	if body.All {
		req, ok, err = s.drain.RequestDrainAll()
	} else {
		sel := make([]logic.Category, 0, len(body.Categories))
		for _, name := range body.Categories {
			c, perr := logic.ParseCategory(name)
			if perr != nil {
				writeError(w, http.StatusBadRequest, perr.Error())
				return
			}
			sel = append(sel, c)
		}
		req, ok, err = s.drain.RequestDrain(sel)
	}

	switch {
	case errors.Is(err, logic.ErrDrainPending):
		writeError(w, http.StatusConflict, "a drain is already awaiting confirmation")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "drain request failed")
	case !ok:
		writeJSON(w, http.StatusOK, DrainResponse{Message: "nothing to drain"})
	default:
		writeJSON(w, http.StatusAccepted, DrainResponse{
			Requested: true,
			ID:        req.ID,
			Pending:   categoryNames(req.Categories),
			Message:   "confirm to drain " + strings.Join(labels(req.Categories), ", "),
		})
	}
}

func (s *Server) handleDrainConfirm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	// An empty body confirms whatever is pending.
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	drained, err := s.drain.ConfirmDrain(r.Context(), body.ID)
	switch {
	case errors.Is(err, logic.ErrNoPendingDrain):
		writeError(w, http.StatusConflict, "no drain awaiting confirmation")
	case errors.Is(err, logic.ErrDrainMismatch):
		writeError(w, http.StatusConflict, "confirmation does not match the pending drain")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "drain could not be applied")
	default:
		msg := "nothing left to drain"
		if len(drained) > 0 {
			msg = "drained " + strings.Join(labels(drained), ", ")
		}
		writeJSON(w, http.StatusOK, DrainResponse{Drained: categoryNames(drained), Message: msg})
	}
}

func (s *Server) handleDrainCancel(w http.ResponseWriter, r *http.Request) {
	cancelled := s.drain.CancelDrain()
	resp := DrainResponse{Cancelled: cancelled, Message: "drain cancelled"}
	if !cancelled {
		resp.Message = "no drain awaiting confirmation"
	}
	writeJSON(w, http.StatusOK, resp)
}

func categoryNames(cs []logic.Category) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

func labels(cs []logic.Category) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Label()
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
