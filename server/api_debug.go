package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type debugUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Online   bool   `json:"online"`
}

type debugOnlineUser struct {
	UserID    int64  `json:"userId"`
	SessionID string `json:"sessionId"`
}

// debugUsers lists every user row with their current presence flag attached.
func (s *ApiServer) debugUsers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT id, username, email FROM users ORDER BY id`)
	if err != nil {
		s.logger.Warn("Failed to query users for debug listing", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	users := make([]*debugUser, 0)
	for rows.Next() {
		user := &debugUser{}
		if err := rows.Scan(&user.ID, &user.Username, &user.Email); err != nil {
			s.logger.Warn("Failed to scan user row for debug listing", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		user.Online = s.presenceRegistry.IsOnline(user.ID)
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"count": len(users), "users": users})
}

// debugOnlineUsers exposes the presence registry contents directly.
func (s *ApiServer) debugOnlineUsers(w http.ResponseWriter, r *http.Request) {
	snapshot := s.presenceRegistry.Snapshot()
	online := lo.MapToSlice(snapshot, func(userID int64, sessionID uuid.UUID) *debugOnlineUser {
		return &debugOnlineUser{UserID: userID, SessionID: sessionID.String()}
	})
	sort.Slice(online, func(i, j int) bool { return online[i].UserID < online[j].UserID })

	writeJSON(w, map[string]any{"count": len(online), "online": online})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
