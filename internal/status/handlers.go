package status

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/shardkit/gateway/internal/gateway"
)

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleStatus reports every shard's connection snapshot plus the dispatch
// types with live relay subscribers.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := struct {
		Shards []gateway.Status `json:"shards"`
		Relay  []string         `json:"relay_groups,omitempty"`
	}{
		Shards: s.cluster.Statuses(),
	}
	if s.hub != nil {
		resp.Relay = s.hub.ActiveGroups()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("encode status response", zap.Error(err))
	}
}
