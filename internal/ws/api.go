package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/roamly/travel-app/internal/auth"
	"github.com/roamly/travel-app/internal/metrics"
)

// Presence query endpoints. All of them answer directly from the
// coordinator's current snapshot — no caching layer in front. When the
// shared store is unreachable they return an empty best-effort payload with
// degraded=true instead of an error: presence is advisory and a store
// outage must not look like a server outage to clients.

// handlePresenceMe reports the caller's own aggregate presence. Requires a
// bearer token.
func (s *Server) handlePresenceMe(w http.ResponseWriter, r *http.Request) {
	metrics.PresenceQueries.WithLabelValues("me").Inc()

	token := auth.TokenFromRequest(r)
	claims, err := s.verifier.Verify(token)
	if err != nil {
		http.Error(w, "invalid bearer token", http.StatusUnauthorized)
		return
	}
	userID := claims.UserID()

	online, degraded := false, false
	if v, err := s.coordinator.IsOnline(r.Context(), userID); err != nil {
		log.Printf("ws: presence/me degraded: %v", err)
		degraded = true
	} else {
		online = v
	}

	writeJSON(w, struct {
		UserID           string `json:"user_id"`
		Online           bool   `json:"online"`
		LocalConnections int    `json:"local_connections"`
		Degraded         bool   `json:"degraded,omitempty"`
	}{userID, online, len(s.registry.ForUser(userID)), degraded})
}

// handlePresenceOnline lists every online user in the cluster.
func (s *Server) handlePresenceOnline(w http.ResponseWriter, r *http.Request) {
	metrics.PresenceQueries.WithLabelValues("online").Inc()

	users := []string{}
	degraded := false
	snapshot, err := s.coordinator.SnapshotOnline(r.Context())
	if err != nil {
		log.Printf("ws: presence/online degraded: %v", err)
		degraded = true
	} else {
		for uid := range snapshot {
			users = append(users, uid)
		}
	}

	writeJSON(w, struct {
		Online   []string `json:"online"`
		Count    int      `json:"count"`
		Degraded bool     `json:"degraded,omitempty"`
	}{users, len(users), degraded})
}

// handlePresenceStats reports connection statistics: this process's local
// registry plus the cluster-wide lease counts.
func (s *Server) handlePresenceStats(w http.ResponseWriter, r *http.Request) {
	metrics.PresenceQueries.WithLabelValues("stats").Inc()

	degraded := false
	clusterConns, err := s.coordinator.ConnectionCount(r.Context())
	if err != nil {
		log.Printf("ws: presence/stats degraded: %v", err)
		degraded = true
	}
	onlineUsers := 0
	if snapshot, err := s.coordinator.SnapshotOnline(r.Context()); err == nil {
		onlineUsers = len(snapshot)
	} else {
		degraded = true
	}

	writeJSON(w, struct {
		LocalConnections   int    `json:"local_connections"`
		LocalUsers         int    `json:"local_users"`
		ClusterConnections int    `json:"cluster_connections"`
		OnlineUsers        int    `json:"online_users"`
		Uptime             string `json:"uptime"`
		Degraded           bool   `json:"degraded,omitempty"`
	}{
		s.registry.Count(),
		s.registry.UserCount(),
		clusterConns,
		onlineUsers,
		time.Since(s.startedAt).Round(time.Second).String(),
		degraded,
	})
}

// handlePresenceQuery answers presence for one or many specified users.
func (s *Server) handlePresenceQuery(w http.ResponseWriter, r *http.Request) {
	metrics.PresenceQueries.WithLabelValues("query").Inc()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		UserIDs []string `json:"user_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.UserIDs) == 0 {
		http.Error(w, "body must be {\"user_ids\": [...]}", http.StatusBadRequest)
		return
	}

	result := make(map[string]bool, len(req.UserIDs))
	degraded := false
	for _, uid := range req.UserIDs {
		online, err := s.coordinator.IsOnline(r.Context(), uid)
		if err != nil {
			log.Printf("ws: presence/query degraded: %v", err)
			degraded = true
			break
		}
		result[uid] = online
	}
	if degraded {
		result = map[string]bool{}
	}

	writeJSON(w, struct {
		Presence map[string]bool `json:"presence"`
		Degraded bool            `json:"degraded,omitempty"`
	}{result, degraded})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
