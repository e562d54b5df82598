package api

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

type sellRequest struct {
	Percentage float64 `json:"percentage"`
}

type engagementResponse struct {
	UserID  string `json:"userId"`
	Engaged bool   `json:"engaged"`
}

func (s *Server) handleMarketStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sim.MarketStatus())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, userID string) {
	writeJSON(w, http.StatusOK, s.sim.Dashboard(userID))
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request, userID string) {
	writeJSON(w, http.StatusOK, s.sim.Positions(userID))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, userID string) {
	writeJSON(w, http.StatusOK, s.sim.History(userID, parseLimit(r, 50)))
}

func (s *Server) handleEngage(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.sim.Engage(userID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, engagementResponse{UserID: userID, Engaged: true})
}

func (s *Server) handleDisengage(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.sim.Disengage(userID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, engagementResponse{UserID: userID, Engaged: false})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, userID string) {
	stats := s.sim.Reset(userID)
	s.log.WithField("user", userID).Info("Ledger reset via API")
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request, userID string) {
	var req sellRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body, expected {\"percentage\": number}")
		return
	}

	trade, err := s.sim.Sell(userID, r.PathValue("asset"), req.Percentage)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.log.WithFields(logrus.Fields{
		"user":    userID,
		"asset":   trade.Symbol,
		"percent": req.Percentage,
	}).Info("Manual sell via API")
	writeJSON(w, http.StatusOK, trade)
}
