package processor

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xaenox/teams-extractor/internal/classifier"
	"github.com/xaenox/teams-extractor/internal/forwarder"
	"github.com/xaenox/teams-extractor/internal/models"
	"github.com/xaenox/teams-extractor/internal/storage"
)

// Server exposes the processing pipeline over HTTP.
type Server struct {
	pipeline   *Pipeline
	store      storage.Store
	classifier classifier.Classifier
	forwarder  forwarder.Forwarder
	logger     *zap.Logger
}

func NewServer(pipeline *Pipeline, store storage.Store, clf classifier.Classifier, fwd forwarder.Forwarder, logger *zap.Logger) *Server {
	return &Server{
		pipeline:   pipeline,
		store:      store,
		classifier: clf,
		forwarder:  fwd,
		logger:     logger,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Post("/ingest", s.handleIngest)
	r.Get("/messages", s.handleList)
	r.Route("/messages/{id}", func(r chi.Router) {
		r.Get("/", s.handleGet)
		r.Delete("/", s.handleDelete)
		r.Post("/retry", s.handleRetry)
	})
	r.Get("/stats", s.handleStats)
	r.Get("/health", s.handleHealth)

	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ingestResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var res models.Resolution
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if res.Channel == "" || res.Author == "" || res.ResolutionText == "" {
		s.writeError(w, http.StatusBadRequest, "channel, author and resolution_text are required")
		return
	}

	id, err := s.pipeline.Ingest(r.Context(), res)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			s.writeError(w, http.StatusConflict, "message_id already ingested")
			return
		}
		s.logger.Error("ingest failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	s.writeJSON(w, http.StatusAccepted, ingestResponse{ID: id, Status: "queued"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := storage.ListQuery{
		Status:  models.Status(r.URL.Query().Get("status")),
		Author:  r.URL.Query().Get("author"),
		Channel: r.URL.Query().Get("channel"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		q.Limit = limit
	}

	records, err := s.store.List(r.Context(), q)
	if err != nil {
		s.logger.Error("list failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if records == nil {
		records = []*models.Record{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "record not found")
			return
		}
		s.logger.Error("get failed", zap.Int64("record_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load record")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "record not found")
			return
		}
		s.logger.Error("delete failed", zap.Int64("record_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to delete record")
		return
	}
	s.logger.Info("record deleted", zap.Int64("record_id", id))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	if err := s.pipeline.Retry(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "record not found")
			return
		}
		s.logger.Error("retry failed", zap.Int64("record_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to retry record")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "retrying"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"model":         s.classifier.Model(),
		"n8n_connected": s.forwarder.Configured(),
	})
}

func (s *Server) recordID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		s.writeError(w, http.StatusBadRequest, "invalid record id")
		return 0, false
	}
	return id, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}
