package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Services  healthServices `json:"services"`
}

type healthServices struct {
	Database    string `json:"database"`
	Market      string `json:"market"`
	Subscribers int    `json:"subscribers"`
	Streams     int64  `json:"streams"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disabled"
	if s.db != nil {
		dbStatus = "connected"
		if err := s.db.Ping(r.Context()); err != nil {
			dbStatus = "disconnected"
		}
	}

	market := s.sim.MarketStatus()
	marketStatus := "idle"
	if market.Running {
		marketStatus = "running"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services: healthServices{
			Database:    dbStatus,
			Market:      marketStatus,
			Subscribers: len(market.Subscribers),
			Streams:     s.streams.Load(),
		},
	})
}
