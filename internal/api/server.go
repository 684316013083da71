package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/technosupport/falcon/internal/access"
	"github.com/technosupport/falcon/internal/data"
	"github.com/technosupport/falcon/internal/live"
	"github.com/technosupport/falcon/internal/metrics"
	"github.com/technosupport/falcon/internal/protocol"
	"github.com/technosupport/falcon/internal/transform"
	"github.com/technosupport/falcon/internal/ws"
	"github.com/technosupport/falcon/internal/zones"
)

// Server is the read-only admin surface: metrics, health, event history, and
// the dashboard websocket. It never writes; all mutation goes through the
// controller TCP channel.
type Server struct {
	models      data.Models
	accessCache *access.Cache
	transformer *transform.Transformer
	zoneMgr     *zones.Manager
	liveCache   *live.Cache // nil when Redis is disabled
	wsHub       *ws.Hub
	dbTimeout   time.Duration
}

func New(models data.Models, accessCache *access.Cache, transformer *transform.Transformer,
	zoneMgr *zones.Manager, liveCache *live.Cache, wsHub *ws.Hub, dbTimeout time.Duration) *Server {
	if dbTimeout <= 0 {
		dbTimeout = 2 * time.Second
	}
	return &Server{
		models:      models,
		accessCache: accessCache,
		transformer: transformer,
		zoneMgr:     zoneMgr,
		liveCache:   liveCache,
		wsHub:       wsHub,
		dbTimeout:   dbTimeout,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/ws/events", s.wsHub.ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/history", s.handleHistory)
		r.Get("/access-conditions", s.handleAccessConditions)
		r.Get("/zones", s.handleZones)
		r.Get("/live/detections", s.handleLiveDetections)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := data.HistoryFilter{}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
		filter.To = t
	}
	if v := q.Get("event_type"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 3 {
			writeError(w, http.StatusBadRequest, "invalid event_type")
			return
		}
		filter.EventType = protocol.EventType(n)
	}
	if v := q.Get("area_id"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > protocol.ZoneCount {
			writeError(w, http.StatusBadRequest, "invalid area_id")
			return
		}
		filter.AreaID = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.dbTimeout)
	defer cancel()
	events, err := s.models.DetectEvents.History(ctx, filter)
	if err != nil {
		metrics.RepositoryErrorsTotal.WithLabelValues("history").Inc()
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}

	type historyItem struct {
		ObjectID    int64     `json:"object_id"`
		EventType   int       `json:"event_type"`
		Class       string    `json:"class"`
		MapX        int       `json:"map_x"`
		MapY        int       `json:"map_y"`
		Area        string    `json:"area"`
		RescueLevel int       `json:"rescue_level"`
		DetectedAt  time.Time `json:"detected_at"`
	}
	items := make([]historyItem, 0, len(events))
	for _, e := range events {
		items = append(items, historyItem{
			ObjectID:    e.ObjectID,
			EventType:   int(e.EventType),
			Class:       string(e.Class),
			MapX:        e.MapX,
			MapY:        e.MapY,
			Area:        e.AreaName,
			RescueLevel: e.RescueLevel,
			DetectedAt:  e.DetectedAt.UTC(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": items})
}

func (s *Server) handleAccessConditions(w http.ResponseWriter, r *http.Request) {
	levels := s.accessCache.Levels()
	type condition struct {
		AreaID    int    `json:"area_id"`
		Area      string `json:"area"`
		Authority int    `json:"authority"`
	}
	conds := make([]condition, protocol.ZoneCount)
	for i, l := range levels {
		conds[i] = condition{
			AreaID:    i + 1,
			Area:      s.transformer.AreaName(i + 1),
			Authority: int(l),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conditions": conds})
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	states := s.zoneMgr.Snapshot()
	type zone struct {
		AreaID int    `json:"area_id"`
		Area   string `json:"area"`
		State  string `json:"state"`
	}
	out := make([]zone, protocol.ZoneCount)
	for i, st := range states {
		out[i] = zone{AreaID: i + 1, Area: s.transformer.AreaName(i + 1), State: st.String()}
	}
	writeJSON(w, http.StatusOK, map[string]any{"zones": out})
}

func (s *Server) handleLiveDetections(w http.ResponseWriter, r *http.Request) {
	if s.liveCache == nil {
		writeError(w, http.StatusNotFound, "live cache disabled")
		return
	}
	snap, err := s.liveCache.Detections(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "live cache unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if snap == nil {
		w.Write([]byte(`{"detections":[]}`))
		return
	}
	w.Write(snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
