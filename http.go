package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"tilequest/server/internal/judge"
)

// NewHandler wires the HTTP surface for one hub: the websocket endpoint,
// the synchronous answer exchange, diagnostics, and the admin operations.
func NewHandler(hub *Hub, grader judge.Judge) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/answer", handleAnswer(hub, grader))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/diagnostics", handleDiagnostics(hub))
	mux.HandleFunc("/admin/chests", handleAdminChests(hub))
	mux.HandleFunc("/admin/chests/reset", handleAdminChestReset(hub))
	mux.HandleFunc("/admin/bosses", handleAdminBosses(hub))
	return mux
}

type answerRequest struct {
	PlayerID string `json:"playerId"`
	TargetID string `json:"targetId"`
	Answer   string `json:"answer"`
}

// handleAnswer serves the request/response half of the protocol. Grading
// happens between two hub passes, so a verdict arriving after the lock
// moved on resolves to a rejection rather than a double apply.
func handleAnswer(hub *Hub, grader judge.Judge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req answerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.PlayerID == "" || req.TargetID == "" {
			http.Error(w, "playerId and targetId are required", http.StatusBadRequest)
			return
		}
		ctx, cancel := contextWithTimeout(r)
		defer cancel()
		result := hub.SubmitAnswer(ctx, grader, req.PlayerID, req.TargetID, req.Answer)
		writeJSON(w, result)
	}
}

func handleDiagnostics(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := contextWithTimeout(r)
		defer cancel()
		diag, ok := hub.DiagnosticsSnapshot(ctx)
		if !ok {
			http.Error(w, "diagnostics unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, diag)
	}
}

type placeChestRequest struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Rarity string  `json:"rarity"`
}

func handleAdminChests(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req placeChestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		rarity, ok := ParseRarity(req.Rarity)
		if !ok {
			http.Error(w, "unknown rarity", http.StatusBadRequest)
			return
		}
		hub.PlaceChest(req.X, req.Y, rarity)
		writeJSON(w, map[string]any{"ok": true})
	}
}

type resetChestRequest struct {
	ChestID string `json:"chestId"`
}

func handleAdminChestReset(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req resetChestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChestID == "" {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		hub.ResetChest(req.ChestID)
		writeJSON(w, map[string]any{"ok": true})
	}
}

type spawnBossRequest struct {
	Name             string  `json:"name"`
	MaxHP            int     `json:"maxHp"`
	TimeLimitSeconds int     `json:"timeLimitSeconds"`
	X                float64 `json:"x"`
	Y                float64 `json:"y"`
}

func handleAdminBosses(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req spawnBossRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		hub.SpawnBoss(BossSpawn{
			Name:             req.Name,
			MaxHP:            req.MaxHP,
			TimeLimitSeconds: req.TimeLimitSeconds,
			X:                req.X,
			Y:                req.Y,
		})
		writeJSON(w, map[string]any{"ok": true})
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

func contextWithTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 10*time.Second)
}
