package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mboyle/zonehub/internal/api"
	"github.com/mboyle/zonehub/internal/apperrors"
	"github.com/mboyle/zonehub/internal/history"
	"github.com/mboyle/zonehub/internal/hub"
	"github.com/mboyle/zonehub/internal/player"
	"github.com/mboyle/zonehub/internal/store"
)

func (s *Server) registerRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/health", api.Handler(s.handleHealth))
	router.Handle("/events", hub.NewSSEHandler(s.events))
	router.Handle("/ws", hub.NewWSHandler(s.events))

	router.Method(http.MethodGet, "/zones", api.Handler(s.handleZones))
	router.Method(http.MethodGet, "/players", api.Handler(s.handlePlayers))
	router.Method(http.MethodGet, "/history", api.Handler(s.handleHistory))
	router.Method(http.MethodGet, "/favorites", api.Handler(s.handleFavorites))

	router.Route("/players/{player}", func(r chi.Router) {
		r.Method(http.MethodGet, "/state", api.Handler(s.handleState))
		r.Method(http.MethodGet, "/queue", api.Handler(s.handleQueue))

		r.Method(http.MethodPost, "/play", s.action(s.ctrl.Play))
		r.Method(http.MethodPost, "/pause", s.action(s.ctrl.Pause))
		r.Method(http.MethodPost, "/stop", s.action(s.ctrl.Stop))
		r.Method(http.MethodPost, "/next", s.action(s.ctrl.Next))
		r.Method(http.MethodPost, "/previous", s.action(s.ctrl.Previous))
		r.Method(http.MethodPost, "/clearqueue", s.action(s.ctrl.ClearQueue))
		r.Method(http.MethodPost, "/leave", s.action(s.ctrl.LeaveGroup))

		r.Method(http.MethodPost, "/volume/{value}", api.Handler(s.handleVolume))
		r.Method(http.MethodPost, "/groupVolume/{value}", api.Handler(s.handleGroupVolume))
		r.Method(http.MethodPost, "/mute/{state}", api.Handler(s.handleMute))
		r.Method(http.MethodPost, "/seek/track/{number}", api.Handler(s.handleSeekTrack))
		r.Method(http.MethodPost, "/seek/time/{position}", api.Handler(s.handleSeekTime))
		r.Method(http.MethodPost, "/repeat/{mode}", api.Handler(s.handleRepeat))
		r.Method(http.MethodPost, "/shuffle/{state}", api.Handler(s.handleShuffle))
		r.Method(http.MethodPost, "/crossfade/{state}", api.Handler(s.handleCrossfade))
		r.Method(http.MethodPost, "/sleep/{seconds}", api.Handler(s.handleSleep))
		r.Method(http.MethodPost, "/join/{target}", api.Handler(s.handleJoin))
		r.Method(http.MethodPost, "/playuri", api.Handler(s.handlePlayURI))
	})

	router.Method(http.MethodPost, "/preset", api.Handler(s.handlePreset))
}

// action adapts a (ctx, player) controller call into a route handler.
func (s *Server) action(fn func(ctx context.Context, idOrRoom string) error) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		if err := fn(r.Context(), chi.URLParam(r, "player")); err != nil {
			return err
		}
		return api.WriteOK(w)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) error {
	blocked, remaining := s.backoff.Blocked()
	return api.WriteJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"players":       s.registry.Len(),
		"subscriptions": len(s.sub.Active()),
		"uptimeSecs":    int(time.Since(s.startedAt).Seconds()),
		"loginBackoff": map[string]any{
			"blocked":       blocked,
			"remainingSecs": int(remaining.Seconds()),
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) error {
	return api.WriteJSON(w, http.StatusOK, s.topo.Zones())
}

func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) error {
	return api.WriteJSON(w, http.StatusOK, s.registry.All())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) error {
	state, err := s.ctrl.UpdateState(r.Context(), chi.URLParam(r, "player"))
	if err != nil {
		return err
	}
	return api.WriteJSON(w, http.StatusOK, state)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) error {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	items, err := s.ctrl.GetQueue(r.Context(), chi.URLParam(r, "player"), limit, offset)
	if err != nil {
		return err
	}
	return api.WriteJSON(w, http.StatusOK, items)
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) error {
	volume, err := strconv.Atoi(chi.URLParam(r, "value"))
	if err != nil {
		return apperrors.NewInvalidArgument("volume must be an integer")
	}
	if err := s.ctrl.SetVolume(r.Context(), chi.URLParam(r, "player"), volume); err != nil {
		return err
	}
	return api.WriteOK(w)
}

func (s *Server) handleGroupVolume(w http.ResponseWriter, r *http.Request) error {
	volume, err := strconv.Atoi(chi.URLParam(r, "value"))
	if err != nil {
		return apperrors.NewInvalidArgument("volume must be an integer")
	}
	if err := s.ctrl.SetGroupVolume(r.Context(), chi.URLParam(r, "player"), volume); err != nil {
		return err
	}
	return api.WriteOK(w)
}

func parseOnOff(value string) (bool, error) {
	switch value {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	default:
		return false, apperrors.NewInvalidArgument("want on or off, got " + value)
	}
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) error {
	mute, err := parseOnOff(chi.URLParam(r, "state"))
	if err != nil {
		return err
	}
	if err := s.ctrl.SetMute(r.Context(), chi.URLParam(r, "player"), mute); err != nil {
		return err
	}
	return api.WriteOK(w)
}

func (s *Server) handleSeekTrack(w http.ResponseWriter, r *http.Request) error {
	track, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		return apperrors.NewInvalidArgument("track number must be an integer")
	}
	if err := s.ctrl.SeekTrack(r.Context(), chi.URLParam(r, "player"), track); err != nil {
		return err
	}
	return api.WriteOK(w)
}

func (s *Server) handleSeekTime(w http.ResponseWriter, r *http.Request) error {
	if err := s.ctrl.SeekTime(r.Context(), chi.URLParam(r, "player"), chi.URLParam(r, "position")); err != nil {
		return err
	}
	return api.WriteOK(w)
}

func (s *Server) handleRepeat(w http.ResponseWriter, r *http.Request) error {
	mode := player.Repeat(chi.URLParam(r, "mode"))
	switch mode {
	case player.RepeatNone, player.RepeatAll, player.RepeatOne:
	default:
		return apperrors.NewInvalidArgument("repeat mode must be none, all, or one")
	}
	if err := s.ctrl.SetRepeat(r.Context(), chi.URLParam(r, "player"), mode); err != nil {
		return err
	}
	return api.WriteOK(w)
}

func (s *Server) handleShuffle(w http.ResponseWriter, r *http.Request) error {
	shuffle, err := parseOnOff(chi.URLParam(r, "state"))
	if err != nil {
		return err
	}
	if err := s.ctrl.SetShuffle(r.Context(), chi.URLParam(r, "player"), shuffle); err != nil {
		return err
	}
	return api.WriteOK(w)
}

func (s *Server) handleCrossfade(w http.ResponseWriter, r *http.Request) error {
	enabled, err := parseOnOff(chi.URLParam(r, "state"))
	if err != nil {
		return err
	}
	if err := s.ctrl.SetCrossfade(r.Context(), chi.URLParam(r, "player"), enabled); err != nil {
		return err
	}
	return api.WriteOK(w)
}

func (s *Server) handleSleep(w http.ResponseWriter, r *http.Request) error {
	seconds, err := strconv.Atoi(chi.URLParam(r, "seconds"))
	if err != nil {
		return apperrors.NewInvalidArgument("sleep seconds must be an integer")
	}
	if err := s.ctrl.SetSleepTimer(r.Context(), chi.URLParam(r, "player"), seconds); err != nil {
		return err
	}
	return api.WriteOK(w)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) error {
	if err := s.ctrl.JoinGroup(r.Context(), chi.URLParam(r, "player"), chi.URLParam(r, "target")); err != nil {
		return err
	}
	return api.WriteOK(w)
}

type playURIRequest struct {
	URI      string `json:"uri"`
	Metadata string `json:"metadata,omitempty"`
}

func (s *Server) handlePlayURI(w http.ResponseWriter, r *http.Request) error {
	var req playURIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.NewInvalidArgument("bad playuri body: " + err.Error())
	}
	if req.URI == "" {
		return apperrors.NewInvalidArgument("uri is required")
	}
	if err := s.ctrl.PlayURI(r.Context(), chi.URLParam(r, "player"), req.URI, req.Metadata); err != nil {
		return err
	}
	return api.WriteOK(w)
}

func (s *Server) handlePreset(w http.ResponseWriter, r *http.Request) error {
	var preset player.Preset
	if err := json.NewDecoder(r.Body).Decode(&preset); err != nil {
		return apperrors.NewInvalidArgument("bad preset body: " + err.Error())
	}
	if err := s.ctrl.PlayPreset(r.Context(), preset); err != nil {
		return err
	}
	return api.WriteOK(w)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query()
	filters := history.QueryFilters{
		Type:     query.Get("type"),
		PlayerID: query.Get("player"),
	}
	if since := query.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return apperrors.NewInvalidArgument("since must be RFC3339")
		}
		filters.Since = t
	}
	if until := query.Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return apperrors.NewInvalidArgument("until must be RFC3339")
		}
		filters.Until = t
	}
	filters.Limit, _ = strconv.Atoi(query.Get("limit"))
	filters.Offset, _ = strconv.Atoi(query.Get("offset"))

	records, total, err := s.historyDB.Query(filters)
	if err != nil {
		return err
	}
	return api.WriteJSON(w, http.StatusOK, map[string]any{
		"events": records,
		"total":  total,
	})
}

// favoritesContainerID is the ContentDirectory container holding saved
// favorites.
const favoritesContainerID = "FV:2"

// handleFavorites serves the station list, refreshing the cache from a
// player when it is stale. Refresh failures escalate the backoff hold; a
// success clears it.
func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request) error {
	if stations, ok := s.stations.Load(); ok {
		return api.WriteJSON(w, http.StatusOK, stations)
	}

	if blocked, remaining := s.backoff.Blocked(); blocked {
		return apperrors.NewUnavailable("favorites refresh held for " + remaining.Round(time.Minute).String())
	}

	players := s.registry.All()
	if len(players) == 0 {
		return apperrors.NewUnavailable("no players discovered yet")
	}

	items, err := s.ctrl.Browse(r.Context(), players[0].ID, favoritesContainerID, 0, 100)
	if err != nil {
		if recordErr := s.backoff.RecordFailure(); recordErr != nil {
			return recordErr
		}
		return err
	}
	if err := s.backoff.Clear(); err != nil {
		return err
	}

	stations := make([]store.Station, 0, len(items))
	for _, item := range items {
		stations = append(stations, store.Station{
			StationID:   item.ID,
			StationName: item.Title,
			URI:         item.URI,
			Metadata:    item.Metadata,
		})
	}
	if err := s.stations.Save(stations); err != nil {
		return err
	}
	return api.WriteJSON(w, http.StatusOK, stations)
}
