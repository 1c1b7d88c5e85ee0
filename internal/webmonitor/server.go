package webmonitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/protobuf/proto"

	"github.com/cardwatch/cardwatch/internal/logger"
)

// PictureSource reads the latest-view artifact.
type PictureSource interface {
	ReadLatest() ([]byte, time.Time, error)
}

// Server serves the card monitor endpoints.
type Server struct {
	cfg         Config
	cards       CardSource
	pictures    PictureSource
	monitor     *Monitor
	broadcaster *CardBroadcaster
	metrics     http.Handler
	assets      *assetHandler
}

// NewServer returns a configured server and starts its event broadcaster.
// model and metrics may be nil.
func NewServer(cfg Config, cards CardSource, pictures PictureSource, model ModelStatus, metrics http.Handler) *Server {
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = DefaultConfig().Keepalive
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}

	monitor := NewMonitor(cards, model, cfg.LatestViewPath, cfg.HistorySize)
	broadcaster := NewCardBroadcaster(cards, monitor)
	broadcaster.Start()

	return &Server{
		cfg:         cfg,
		cards:       cards,
		pictures:    pictures,
		monitor:     monitor,
		broadcaster: broadcaster,
		metrics:     metrics,
		assets:      newAssetHandler(cfg.AssetsDir),
	}
}

// Close stops the broadcaster and ends open event streams.
func (s *Server) Close() {
	s.broadcaster.Stop()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/assets/", http.StripPrefix("/assets/", s.assets))
	mux.HandleFunc("/cards", s.handleCards)
	mux.HandleFunc("/cards/stream", s.handleCardsStream)
	mux.HandleFunc("/picture", s.handlePicture)
	mux.HandleFunc("/picture/annotated", s.handleAnnotatedPicture)
	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	return withCORS(mux)
}

// withCORS allows any origin, like flask_cors did for the Flask frontend.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		// The Flask frontend loads its files from the site root.
		s.assets.ServeHTTP(w, r)
		return
	}

	override := filepath.Join(s.cfg.AssetsDir, "index.html")
	if fileExists(override) {
		http.ServeFile(w, r, override)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

// handleCards serves the accumulated labels from the published snapshot.
// The list is wrapped as {"detected_cards": [...]} rather than sent as a
// bare array, because that is the shape the Flask frontend reads.
func (s *Server) handleCards(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}

	cards := s.cards.Latest().Cards
	if cards == nil {
		cards = []string{}
	}

	if wantsProtobuf(r) {
		st, err := cardsStruct(cards)
		if err == nil {
			var data []byte
			if data, err = proto.Marshal(st); err == nil {
				w.Header().Set("Content-Type", "application/x-protobuf")
				_, _ = w.Write(data)
				return
			}
		}
		logger.Error("HTTP", "Protobuf encode failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": "encode failed"}, http.StatusInternalServerError)
		return
	}

	writeJSON(w, CardsResponse{DetectedCards: cards})
}

func (s *Server) handleCardsStream(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}

	// Subscribe before reading the snapshot so no change falls in between.
	id, eventCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	initial, err := serializeCardEvent(newCardEvent(s.cards.Latest(), nil, false))
	if err != nil {
		logger.Error("HTTP", "Serialize snapshot failed: %v", err)
		initial = nil
	}

	streamCardEventsFromChannel(r.Context(), w, initial, eventCh, wantsProtobuf(r), s.cfg.Keepalive)
}

func (s *Server) handlePicture(w http.ResponseWriter, r *http.Request) {
	data, mod, ok := s.readPicture(w, r)
	if !ok {
		return
	}
	writePNG(w, data, mod)
}

func (s *Server) handleAnnotatedPicture(w http.ResponseWriter, r *http.Request) {
	data, mod, ok := s.readPicture(w, r)
	if !ok {
		return
	}
	out, err := annotate(data, s.cards.Latest())
	if err != nil {
		logger.Warn("HTTP", "Annotate failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	writePNG(w, out, mod)
}

func (s *Server) readPicture(w http.ResponseWriter, r *http.Request) ([]byte, time.Time, bool) {
	if !allowRead(w, r) {
		return nil, time.Time{}, false
	}
	data, mod, err := s.pictures.ReadLatest()
	switch {
	case err == nil:
		return data, mod, true
	case errors.Is(err, os.ErrNotExist):
		writeJSONWithStatus(w, map[string]any{"error": "no picture captured yet"}, http.StatusNotFound)
	default:
		logger.Warn("HTTP", "Read latest view failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
	}
	return nil, time.Time{}, false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	health, err := s.monitor.Health()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{
			"status":    "error",
			"error":     err.Error(),
			"timestamp": float64(time.Now().Unix()),
		}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, health)
}

func allowRead(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func writePNG(w http.ResponseWriter, data []byte, mod time.Time) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if !mod.IsZero() {
		w.Header().Set("Last-Modified", mod.UTC().Format(http.TimeFormat))
	}
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
