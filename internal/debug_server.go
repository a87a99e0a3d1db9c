package internal

import (
	"chat-sync/domain/chat"
	"chat-sync/errors"
	"chat-sync/infrastructure/search"
	"chat-sync/observability"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

//go:embed inspect.html
var templatesFS embed.FS

// SyncView is what the debug server reads from the engine
type SyncView interface {
	Subscriptions() []chat.RoomSubscription
	Subscription(roomID chat.RoomID) (chat.RoomSubscription, bool)
	Stats() observability.SyncStats
	ExecuteCommand(ctx context.Context, cmd chat.Command) (chat.CommandResult, error)
}

type TimelineView interface {
	Events(roomID chat.RoomID) []chat.Event
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Hit, error)
}

type RoomView struct {
	RoomID      chat.RoomID `json:"roomId"`
	Cursor      string      `json:"cursor,omitempty"`
	Active      bool        `json:"active"`
	Degraded    bool        `json:"degraded"`
	Failures    int         `json:"consecutiveFailures"`
	LastError   string      `json:"lastError,omitempty"`
	ErrorKind   errors.Kind `json:"errorKind,omitempty"`
	Generation  uint64      `json:"generation"`
	LastFetchAt *time.Time  `json:"lastFetchAt,omitempty"`
	Sinks       int         `json:"sinks"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

type InspectRow struct {
	Key    string
	Size   int
	Detail string
}

type PageData struct {
	Prefix string
	Items  []InspectRow
	Stats  observability.SyncStats
}

// DebugServer exposes the engine state over HTTP. Every dependency but the
// view is optional, routes whose dependency is missing answer 404.
type DebugServer struct {
	log      *slog.Logger
	view     SyncView
	timeline TimelineView
	index    Searcher
	db       *badger.DB
	tmpl     *template.Template
}

func NewDebugServer(log *slog.Logger, view SyncView, timeline TimelineView, index Searcher, db *badger.DB) *DebugServer {
	return &DebugServer{
		log:      log,
		view:     view,
		timeline: timeline,
		index:    index,
		db:       db,
		tmpl:     template.Must(template.ParseFS(templatesFS, "inspect.html")),
	}
}

func (s *DebugServer) Mount() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/stats", s.stats)
	r.Route("/rooms", func(r chi.Router) {
		r.Get("/", s.rooms)
		r.Get("/{roomID}", s.room)
		r.Get("/{roomID}/timeline", s.roomTimeline)
		r.Post("/{roomID}/commands", s.command)
	})
	r.Get("/search", s.search)
	r.Get("/inspect", s.inspect)
	return r
}

// Run serves on addr until the context ends
func (s *DebugServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Mount(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Info("Debug server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *DebugServer) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.view.Stats())
}

func (s *DebugServer) rooms(w http.ResponseWriter, _ *http.Request) {
	subs := s.view.Subscriptions()
	views := make([]RoomView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, toRoomView(sub))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *DebugServer) room(w http.ResponseWriter, r *http.Request) {
	roomID := chat.RoomID(chi.URLParam(r, "roomID"))
	sub, ok := s.view.Subscription(roomID)
	if !ok {
		writeError(w, errors.NotFound(fmt.Errorf("%w: %s", errors.ErrRoomNotFound, roomID)))
		return
	}
	writeJSON(w, http.StatusOK, toRoomView(sub))
}

func (s *DebugServer) roomTimeline(w http.ResponseWriter, r *http.Request) {
	if s.timeline == nil {
		http.NotFound(w, r)
		return
	}
	events := s.timeline.Events(chat.RoomID(chi.URLParam(r, "roomID")))
	if events == nil {
		events = []chat.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *DebugServer) command(w http.ResponseWriter, r *http.Request) {
	var cmd chat.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, errors.Validation(err))
		return
	}
	cmd.Room = chat.RoomID(chi.URLParam(r, "roomID"))
	result, err := s.view.ExecuteCommand(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result.Event)
}

func (s *DebugServer) search(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		http.NotFound(w, r)
		return
	}
	q := search.Query{
		Text:   r.URL.Query().Get("q"),
		RoomID: chat.RoomID(r.URL.Query().Get("room")),
		Lang:   r.URL.Query().Get("lang"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, errors.Validation(err))
			return
		}
		q.Limit = limit
	}
	hits, err := s.index.Search(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	if hits == nil {
		hits = []search.Hit{}
	}
	writeJSON(w, http.StatusOK, hits)
}

// inspect renders the raw badger keys under a prefix
func (s *DebugServer) inspect(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		http.NotFound(w, r)
		return
	}
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "cursor:"
	}
	data := PageData{Prefix: prefix, Stats: s.view.Stats()}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				data.Items = append(data.Items, InspectRow{
					Key:    string(item.Key()),
					Size:   len(val),
					Detail: preview(val),
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err = s.tmpl.Execute(w, data); err != nil {
		s.log.Warn("Unable to render inspect page", "error", err)
	}
}

func preview(val []byte) string {
	const width = 120
	if len(val) > width {
		return string(val[:width]) + "..."
	}
	return string(val)
}

func toRoomView(sub chat.RoomSubscription) RoomView {
	view := RoomView{
		RoomID:     sub.RoomID,
		Active:     sub.IsActive,
		Degraded:   sub.Degraded,
		Failures:   sub.ConsecutiveFailures,
		Generation: sub.Generation,
		Sinks:      sub.Sinks,
	}
	if sub.Cursor != nil {
		view.Cursor = string(*sub.Cursor)
	}
	if sub.LastError != nil {
		view.LastError = sub.LastError.Message
		view.ErrorKind = sub.LastError.Kind
	}
	if !sub.LastFetchAt.IsZero() {
		at := sub.LastFetchAt
		view.LastFetchAt = &at
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the status code carried by the classified error
func writeError(w http.ResponseWriter, err error) {
	classified := errors.Classify(err)
	status := classified.Code
	if status == 0 {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: classified.Message,
		Kind:    string(classified.Kind),
	})
}
