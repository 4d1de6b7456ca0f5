package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"glicko-ladder/internal/domain"
	"glicko-ladder/internal/repository"
	"glicko-ladder/internal/service"

	"github.com/rs/zerolog"
)

// AdminServer is the administrative surface over the ladder core. It is the
// single administrative actor the core expects: a mutex serializes every
// mutating operation (recalculate, rollback, archive, activate), because the
// core itself assumes a single writer.
type AdminServer struct {
	recalc    *service.RecalcService
	rollback  *service.RollbackService
	seasons   *service.SeasonService
	standings *service.StandingsService
	players   *repository.PlayerRepository
	matches   *repository.MatchRepository
	logger    zerolog.Logger

	// opMu serializes mutating operations; progressMu guards the last
	// observed recalculation progress.
	opMu       sync.Mutex
	progressMu sync.RWMutex
	progress   domain.RecalcProgress
}

func NewAdminServer(
	recalc *service.RecalcService,
	rollback *service.RollbackService,
	seasons *service.SeasonService,
	standings *service.StandingsService,
	players *repository.PlayerRepository,
	matches *repository.MatchRepository,
	logger zerolog.Logger,
) *AdminServer {
	return &AdminServer{
		recalc:    recalc,
		rollback:  rollback,
		seasons:   seasons,
		standings: standings,
		players:   players,
		matches:   matches,
		logger:    logger,
		progress:  domain.RecalcProgress{Status: domain.RecalcIdle},
	}
}

func (s *AdminServer) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/standings", s.handleStandings)
	mux.HandleFunc("GET /api/players/{id}/history", s.handlePlayerHistory)
	mux.HandleFunc("GET /api/seasons", s.handleSeasons)
	mux.HandleFunc("GET /api/seasons/{id}/standings", s.handleSeasonStandings)
	mux.HandleFunc("GET /api/recalculation/status", s.handleRecalcStatus)

	mux.HandleFunc("POST /api/players", s.handleCreatePlayer)
	mux.HandleFunc("POST /api/matches", s.handleCreateMatch)
	mux.HandleFunc("POST /api/matches/{id}/result", s.handleMatchResult)
	mux.HandleFunc("POST /api/matches/{id}/rollback", s.handleRollback)
	mux.HandleFunc("POST /api/recalculate", s.handleRecalculate)
	mux.HandleFunc("POST /api/seasons/archive", s.handleArchive)
	mux.HandleFunc("POST /api/seasons/{id}/activate", s.handleActivate)
	mux.HandleFunc("POST /api/seasons/{id}/recalculate", s.handleSeasonRecalculate)

	return mux
}

func (s *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *AdminServer) handleStandings(w http.ResponseWriter, r *http.Request) {
	standings, err := s.standings.CurrentStandings(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	type entry struct {
		Rank          int      `json:"rank"`
		PlayerID      int64    `json:"player_id"`
		Name          string   `json:"name"`
		Rating        *float64 `json:"rating"`
		RD            *float64 `json:"rd"`
		Volatility    *float64 `json:"volatility"`
		PlayedThisSsn bool     `json:"has_played_this_season"`
	}
	out := make([]entry, len(standings))
	for i, st := range standings {
		out[i] = entry{
			Rank:          st.Rank,
			PlayerID:      st.Player.ID,
			Name:          st.Player.Name,
			Rating:        st.Player.Rating,
			RD:            st.Player.RD,
			Volatility:    st.Player.Volatility,
			PlayedThisSsn: st.Player.HasPlayedThisSeason,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"standings": out})
}

func (s *AdminServer) handlePlayerHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	events, err := s.standings.PlayerHistory(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	type entry struct {
		MatchID      *int64    `json:"match_id"`
		Type         string    `json:"type"`
		Rating       float64   `json:"rating"`
		RD           float64   `json:"rd"`
		Volatility   float64   `json:"volatility"`
		RatingChange float64   `json:"rating_change"`
		OpponentID   *int64    `json:"opponent_id"`
		Result       *float64  `json:"result"`
		Reason       string    `json:"reason"`
		CreatedAt    time.Time `json:"created_at"`
	}
	out := make([]entry, len(events))
	for i, e := range events {
		out[i] = entry{
			MatchID:      e.MatchID,
			Type:         string(e.Type),
			Rating:       e.RatingAfter,
			RD:           e.RDAfter,
			Volatility:   e.VolatilityAfter,
			RatingChange: e.RatingChange,
			OpponentID:   e.OpponentID,
			Result:       e.Result,
			Reason:       e.Reason,
			CreatedAt:    e.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"player_id": id, "history": out})
}

func (s *AdminServer) handleSeasons(w http.ResponseWriter, r *http.Request) {
	seasons, err := s.standings.Seasons(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"seasons": seasons})
}

func (s *AdminServer) handleSeasonStandings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	snapshots, err := s.standings.SeasonStandings(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"season_id": id, "standings": snapshots})
}

func (s *AdminServer) handleRecalcStatus(w http.ResponseWriter, r *http.Request) {
	s.progressMu.RLock()
	progress := s.progress
	s.progressMu.RUnlock()
	writeJSON(w, http.StatusOK, progress)
}

func (s *AdminServer) handleCreatePlayer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "name is required"})
		return
	}

	id, err := s.players.Create(r.Context(), req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *AdminServer) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerOneID int64 `json:"player_one_id"`
		PlayerTwoID int64 `json:"player_two_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PlayerOneID == req.PlayerTwoID {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "a match needs two distinct players"})
		return
	}

	id, err := s.matches.Create(r.Context(), req.PlayerOneID, req.PlayerTwoID, domain.ActiveSeasonID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// handleMatchResult records a result and applies ratings. When the match is
// at the chronological frontier the incremental update suffices; otherwise a
// full recalculation reconciles the log and cache.
func (s *AdminServer) handleMatchResult(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		WinnerID int64 `json:"winner_id"`
		ScoreOne int   `json:"score_one"`
		ScoreTwo int   `json:"score_two"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if !s.tryLock(w) {
		return
	}
	defer s.opMu.Unlock()

	m, err := s.matches.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.WinnerID != 0 && !m.Involves(req.WinnerID) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "winner is not a participant"})
		return
	}

	if err := s.matches.Complete(r.Context(), id, req.WinnerID, req.ScoreOne, req.ScoreTwo); err != nil {
		s.writeError(w, r, err)
		return
	}

	err = s.recalc.UpdateForMatch(r.Context(), id)
	if errors.Is(err, domain.ErrValidation) {
		// Historical edit: the fast path would desynchronize the cache.
		err = s.recalc.Recalculate(r.Context(), m.SeasonID, "match result edit", s.recordProgress)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"match_id": id})
}

func (s *AdminServer) handleRollback(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if !s.tryLock(w) {
		return
	}
	defer s.opMu.Unlock()

	if err := s.rollback.Rollback(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"match_id": id, "status": "upcoming"})
}

// handleRecalculate starts a full recalculation of the active season on a
// worker goroutine. Progress is observable at /api/recalculation/status;
// there is no cancellation.
func (s *AdminServer) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "administrative rebuild"
	}

	if !s.opMu.TryLock() {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "another administrative operation is in progress"})
		return
	}

	go func() {
		defer s.opMu.Unlock()
		// No deadline: a pass may only be observed, never interrupted.
		ctx := context.Background()
		if err := s.recalc.Recalculate(ctx, domain.ActiveSeasonID, req.Reason, s.recordProgress); err != nil {
			s.logger.Error().Err(err).Msg("background recalculation failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "started"})
}

func (s *AdminServer) handleArchive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if !s.tryLock(w) {
		return
	}
	defer s.opMu.Unlock()

	archivedID, err := s.seasons.Archive(r.Context(), req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archived_season_id": archivedID})
}

func (s *AdminServer) handleActivate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if !s.tryLock(w) {
		return
	}
	defer s.opMu.Unlock()

	if err := s.seasons.Activate(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activated_season_id": id})
}

func (s *AdminServer) handleSeasonRecalculate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if !s.tryLock(w) {
		return
	}
	defer s.opMu.Unlock()

	if err := s.seasons.CalculateForSeason(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"season_id": id})
}

func (s *AdminServer) recordProgress(p domain.RecalcProgress) {
	s.progressMu.Lock()
	s.progress = p
	s.progressMu.Unlock()
}

func (s *AdminServer) tryLock(w http.ResponseWriter) bool {
	if !s.opMu.TryLock() {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "another administrative operation is in progress"})
		return false
	}
	return true
}

func (s *AdminServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConsistency):
		status = http.StatusConflict
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Int("status", status).Msg("request failed")
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
