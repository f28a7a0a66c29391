package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cordonsec/vigil/pkg/detector"
	"github.com/cordonsec/vigil/pkg/health"
	"github.com/cordonsec/vigil/pkg/metrics"
	"github.com/cordonsec/vigil/pkg/recovery"
	"github.com/cordonsec/vigil/pkg/rpc"
	"github.com/cordonsec/vigil/pkg/types"
	"github.com/cordonsec/vigil/pkg/zone"
)

// HealthResponse is the liveness probe body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse is the readiness probe body.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// NodeCounts breaks cluster membership down by status.
type NodeCounts struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
	Failed   int `json:"failed"`
}

// StatusResponse is the operator-facing cluster snapshot.
type StatusResponse struct {
	NodeID            string                      `json:"nodeId"`
	Address           string                      `json:"address"`
	Role              string                      `json:"role"`
	Status            string                      `json:"status"`
	Version           string                      `json:"version,omitempty"`
	Uptime            string                      `json:"uptime"`
	Nodes             NodeCounts                  `json:"nodes"`
	Zones             int                         `json:"zones"`
	PendingRounds     int                         `json:"pendingRounds"`
	FailedNodes       []recovery.FailedNode       `json:"failedNodes"`
	InconsistentZones []recovery.InconsistentZone `json:"inconsistentZones"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   s.cfg.Version,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true
	var message string

	self := s.nodes.Self()
	if self == nil {
		checks["cluster"] = "not joined"
		ready = false
		message = "Node manager not started"
	} else {
		summary := health.Summarize(s.nodes.ListNodes())
		checks["cluster"] = fmt.Sprintf("%d/%d nodes active", summary.Active, summary.Total)
	}

	checks["consensus"] = fmt.Sprintf("%d rounds pending", s.rounds.Pending())

	if failed := s.recovery.FailedNodes(); len(failed) > 0 {
		checks["recovery"] = fmt.Sprintf("%d nodes in recovery", len(failed))
	} else {
		checks["recovery"] = "ok"
	}

	for name, comp := range metrics.Components() {
		if comp.Healthy {
			checks[name] = comp.Message
			continue
		}
		checks[name] = "unhealthy: " + comp.Message
		ready = false
		if message == "" {
			message = "Component " + name + " unhealthy"
		}
	}

	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not ready"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	self := s.nodes.Self()
	if self == nil {
		http.Error(w, "Node manager not started", http.StatusServiceUnavailable)
		return
	}

	summary := health.Summarize(s.nodes.ListNodes())
	resp := StatusResponse{
		NodeID:  self.ID,
		Address: self.Address(),
		Role:    string(self.Role),
		Status:  string(self.Status),
		Version: s.cfg.Version,
		Uptime:  time.Since(s.startedAt).Round(time.Second).String(),
		Nodes: NodeCounts{
			Total:    summary.Total,
			Active:   summary.Active,
			Inactive: summary.Inactive,
			Failed:   summary.Failed,
		},
		Zones:             len(s.zones.ListZones()),
		PendingRounds:     s.rounds.Pending(),
		FailedNodes:       s.recovery.FailedNodes(),
		InconsistentZones: s.recovery.InconsistentZones(),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.nodes.ListNodes()
	out := make([]rpc.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, rpc.ToNodeInfo(n))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	zones := s.zones.ListZones()
	out := make([]rpc.ZoneMessage, 0, len(zones))
	for _, z := range zones {
		out = append(out, rpc.ToZoneMessage(z))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetZone(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	z, err := s.zones.GetZone(id)
	if err != nil {
		if errors.Is(err, zone.ErrZoneNotFound) {
			http.Error(w, "Zone not found", http.StatusNotFound)
			return
		}
		s.logger.Error().Err(err).Str("zone_id", id).Msg("Get zone")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, rpc.ToZoneMessage(z))
}

func (s *Server) handleCreateZone(w http.ResponseWriter, r *http.Request) {
	var msg rpc.ZoneMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "Invalid zone payload", http.StatusBadRequest)
		return
	}

	z := rpc.FromZoneMessage(msg)
	if err := s.zones.CreateZone(r.Context(), z); err != nil {
		switch {
		case errors.Is(err, zone.ErrZoneExists):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, zone.ErrInvalidZone):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			s.logger.Error().Err(err).Str("zone_id", msg.ID).Msg("Create zone")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	created, err := s.zones.GetZone(z.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("zone_id", z.ID).Msg("Read back created zone")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusCreated, rpc.ToZoneMessage(created))
}

func (s *Server) handleUpdateZone(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var msg rpc.ZoneMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "Invalid zone payload", http.StatusBadRequest)
		return
	}
	if msg.ID != "" && msg.ID != id {
		http.Error(w, "Zone id in body does not match path", http.StatusBadRequest)
		return
	}
	msg.ID = id

	z := rpc.FromZoneMessage(msg)
	if err := s.zones.UpdateZone(r.Context(), z); err != nil {
		switch {
		case errors.Is(err, zone.ErrZoneNotFound):
			http.Error(w, "Zone not found", http.StatusNotFound)
		case errors.Is(err, zone.ErrInvalidZone):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			s.logger.Error().Err(err).Str("zone_id", id).Msg("Update zone")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	updated, err := s.zones.GetZone(id)
	if err != nil {
		s.logger.Error().Err(err).Str("zone_id", id).Msg("Read back updated zone")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, rpc.ToZoneMessage(updated))
}

func (s *Server) handleDeleteZone(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.zones.DeleteZone(r.Context(), id); err != nil {
		if errors.Is(err, zone.ErrZoneNotFound) {
			http.Error(w, "Zone not found", http.StatusNotFound)
			return
		}
		s.logger.Error().Err(err).Str("zone_id", id).Msg("Delete zone")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateLog(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.zones.UpdateLog())
}

// DetectRequest submits one measurement set for scoring and, if anomalous,
// a zone-wide vote.
type DetectRequest struct {
	Source string             `json:"source"`
	Values map[string]float64 `json:"values"`
	Labels map[string]string  `json:"labels,omitempty"`
}

// ConsensusView is the wire form of a consensus outcome.
type ConsensusView struct {
	Reached      bool      `json:"reached"`
	Agreement    bool      `json:"agreement"`
	Participants []string  `json:"participants"`
	Timestamp    time.Time `json:"timestamp"`
}

// DetectResponse reports the detection outcome. Alert and Consensus are
// absent when the measurements scored normal or no round ran.
type DetectResponse struct {
	Anomaly   bool              `json:"anomaly"`
	Alert     *rpc.AlertMessage `json:"alert,omitempty"`
	Consensus *ConsensusView    `json:"consensus,omitempty"`
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if s.detector == nil {
		http.Error(w, "Detection not enabled", http.StatusServiceUnavailable)
		return
	}

	var req DetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid detect payload", http.StatusBadRequest)
		return
	}
	if req.Source == "" || len(req.Values) == 0 {
		http.Error(w, "source and values are required", http.StatusBadRequest)
		return
	}

	alert, consensus, err := s.detector.Detect(r.Context(), types.Measurements{
		Source:    req.Source,
		Values:    req.Values,
		Labels:    req.Labels,
		Timestamp: time.Now(),
	})
	if err != nil {
		if errors.Is(err, detector.ErrNoMatchingZone) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		s.logger.Error().Err(err).Str("source", req.Source).Msg("Detect")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := DetectResponse{}
	if alert != nil {
		resp.Anomaly = true
		msg := rpc.ToAlertMessage(alert, alert.NodeID)
		resp.Alert = &msg
	}
	if consensus != nil {
		resp.Consensus = &ConsensusView{
			Reached:      consensus.Reached,
			Agreement:    consensus.Agreement,
			Participants: consensus.Participants,
			Timestamp:    consensus.Timestamp,
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
