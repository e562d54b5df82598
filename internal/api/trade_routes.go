package api

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

func (s *Server) handleTradesByDay(w http.ResponseWriter, r *http.Request, userID string) {
	if s.trades == nil {
		writeError(w, http.StatusServiceUnavailable, "trade log requires a database")
		return
	}
	date := r.PathValue("date")
	if !validateDate(date) {
		writeError(w, http.StatusBadRequest, "invalid date format, expected YYYY-MM-DD")
		return
	}

	trades, err := s.trades.ByDay(r.Context(), userID, date)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"user": userID, "date": date}).Error("Fetch trades by day")
		writeError(w, http.StatusInternalServerError, "failed to fetch trades")
		return
	}
	if trades == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleTradeStats(w http.ResponseWriter, r *http.Request, userID string) {
	if s.trades == nil {
		writeError(w, http.StatusServiceUnavailable, "trade log requires a database")
		return
	}
	stats, err := s.trades.Stats(r.Context(), userID)
	if err != nil {
		s.log.WithError(err).WithField("user", userID).Error("Fetch trade stats")
		writeError(w, http.StatusInternalServerError, "failed to fetch trade stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
