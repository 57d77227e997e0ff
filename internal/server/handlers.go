package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reservemap/reservemap/internal/logger"
	"github.com/reservemap/reservemap/internal/model"
	"github.com/reservemap/reservemap/internal/query"
	"github.com/reservemap/reservemap/internal/store"
)

type reserveList struct {
	Reserves []model.Reserve `json:"reserves"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

type operatorList struct {
	Operators []model.Operator `json:"operators"`
}

type atPointResponse struct {
	Lon     float64       `json:"lon"`
	Lat     float64       `json:"lat"`
	Matches []query.Match `json:"matches"`
}

func (s *Server) listReserves(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bbox, err := parseBBox(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter, err := parseFilter(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parsePage(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reserves, err := s.store.ReservesInBBox(r.Context(), bbox, filter, limit, offset)
	if err != nil {
		s.internalError(w, r, "list reserves", err)
		return
	}
	if reserves == nil {
		reserves = []model.Reserve{}
	}
	writeJSON(w, http.StatusOK, reserveList{Reserves: reserves, Limit: limit, Offset: offset})
}

func (s *Server) getReserve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.Reserve(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "reserve not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "get reserve", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) atPoint(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := parsePoint(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter, err := parseFilter(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	matches, err := s.engine.At(r.Context(), p, filter)
	if err != nil {
		s.internalError(w, r, "point query", err)
		return
	}
	if matches == nil {
		matches = []query.Match{}
	}
	writeJSON(w, http.StatusOK, atPointResponse{Lon: p.Lon, Lat: p.Lat, Matches: matches})
}

func (s *Server) listOperators(w http.ResponseWriter, r *http.Request) {
	ops, err := s.store.Operators(r.Context())
	if err != nil {
		s.internalError(w, r, "list operators", err)
		return
	}
	if ops == nil {
		ops = []model.Operator{}
	}
	writeJSON(w, http.StatusOK, operatorList{Operators: ops})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	resp := readiness{Status: "ok", Checks: map[string]string{}}

	if err := s.store.Ping(r.Context()); err != nil {
		resp.Status = "unavailable"
		resp.Checks["store"] = err.Error()
	} else {
		resp.Checks["store"] = "ok"
	}
	if s.ready != nil {
		if ok, _ := s.ready.Readiness(); !ok {
			resp.Status = "unavailable"
			resp.Checks["events"] = "no partitions assigned"
		} else {
			resp.Checks["events"] = "ok"
		}
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logger.FromContext(r.Context(), &s.log).Error().Err(err).Msg(op + " failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}
