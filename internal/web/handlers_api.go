package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"tahoma-go-home/internal/classifier"
	"tahoma-go-home/internal/coordinator"
	"tahoma-go-home/internal/gateway"
	"tahoma-go-home/internal/store"
)

func (s *Server) handleAPIListAccessories(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.Registry().List())
}

func (s *Server) handleAPIGetAccessory(w http.ResponseWriter, r *http.Request) {
	acc, err := s.coord.Registry().Resolve(r.PathValue("id"))
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "accessory not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, acc)
}

type setPositionRequest struct {
	Position *int `json:"position"`
}

func (s *Server) handleAPISetPosition(w http.ResponseWriter, r *http.Request) {
	var req setPositionRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Position == nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	ref := r.PathValue("id")
	execID, err := s.coord.SetPosition(r.Context(), ref, *req.Position)
	if err != nil {
		s.logger.Warn("set position", "ref", ref, "position", *req.Position, "err", err)
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":   "ok",
		"position": *req.Position,
		"exec_id":  execID,
	})
}

func (s *Server) handleAPIGatewayDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.coord.GatewayDevices(r.Context())
	if err != nil {
		s.logger.Error("list gateway devices", "err", err)
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleAPIDiscoveryState(w http.ResponseWriter, r *http.Request) {
	state, err := s.coord.Store().GetDiscoveryState()
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no discovery has run yet"})
		return
	}
	if err != nil {
		s.logger.Error("get discovery state", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleAPIRediscover(w http.ResponseWriter, r *http.Request) {
	res, err := s.coord.Rediscover(r.Context())
	if err != nil {
		s.logger.Error("rediscover", "err", err)
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAPIGetFilters(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.Filters())
}

// handleAPISetFilters replaces the filters; they take effect on the next
// discovery.
func (s *Server) handleAPISetFilters(w http.ResponseWriter, r *http.Request) {
	var f classifier.Filters
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	s.coord.SetFilters(f)
	s.writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleAPIPoll(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.PollNow(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// writeError maps domain and gateway errors to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		cmdErr    *coordinator.CommandError
		statusErr *gateway.StatusError
		transErr  *gateway.TransportError
		parseErr  *gateway.ParseError
	)
	switch {
	case errors.Is(err, coordinator.ErrUnknownAccessory):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "accessory not found"})
	case errors.Is(err, coordinator.ErrInvalidPosition):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, gateway.ErrTimeout):
		s.writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": err.Error()})
	case errors.As(err, &cmdErr), errors.As(err, &statusErr), errors.As(err, &transErr), errors.As(err, &parseErr):
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
