// Package net exposes the HTTP surface: websocket upgrades, health and
// diagnostics probes, and the raid admin endpoints used by game-logic
// triggers.
package net

import (
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"time"

	"go.uber.org/zap"

	"warzone2044/server"
	"warzone2044/server/internal/net/ws"
	"warzone2044/server/internal/raid"
	"warzone2044/server/internal/registry"
	"warzone2044/server/logging"
)

// HTTPHandlerConfig carries the handler collaborators.
type HTTPHandlerConfig struct {
	Logger    *zap.Logger
	Publisher logging.Publisher
	WS        ws.HandlerConfig
}

// NewHTTPHandler assembles the full route table over the hub.
func NewHTTPHandler(hub *server.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	wsCfg := cfg.WS
	if wsCfg.Logger == nil {
		wsCfg.Logger = logger
	}
	if wsCfg.Publisher == nil {
		wsCfg.Publisher = cfg.Publisher
	}
	wsHandler := ws.NewHandler(hub, wsCfg)

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string `json:"status"`
			ServerTime int64  `json:"serverTime"`
			Hub        any    `json:"hub"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Hub:        hub.Diagnostics(),
		}
		writeJSON(w, payload, logger)
	})

	mux.HandleFunc("/ws", wsHandler.Handle)

	mux.HandleFunc("/raids", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		switch r.Method {
		case nethttp.MethodGet:
			raids := hub.Raids()
			if raids == nil {
				httpError(w, "raids disabled", nethttp.StatusNotFound)
				return
			}
			writeJSON(w, raids.Sectors(), logger)
		case nethttp.MethodPost:
			type createRequest struct {
				Name *string  `json:"name"`
				X    *float64 `json:"x"`
				Y    *float64 `json:"y"`
			}
			var req createRequest
			if !decodeBody(w, r, &req) {
				return
			}
			if req.Name == nil || *req.Name == "" || req.X == nil || req.Y == nil {
				httpError(w, "name, x and y are required", nethttp.StatusBadRequest)
				return
			}
			view, err := hub.CreateRaid(*req.Name, *req.X, *req.Y)
			if err != nil {
				httpError(w, err.Error(), nethttp.StatusNotFound)
				return
			}
			writeJSON(w, view, logger)
		default:
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/raids/join", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		handleMembership(w, r, logger, hub.JoinRaid)
	})

	mux.HandleFunc("/raids/leave", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		handleMembership(w, r, logger, hub.LeaveRaid)
	})

	mux.HandleFunc("/raids/combat", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		type combatRequest struct {
			SectorID   *string `json:"sectorId"`
			AttackerID *string `json:"attackerId"`
			DefenderID *string `json:"defenderId"`
		}
		var req combatRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.SectorID == nil || req.AttackerID == nil || req.DefenderID == nil {
			httpError(w, "sectorId, attackerId and defenderId are required", nethttp.StatusBadRequest)
			return
		}
		result, err := hub.ResolveRaidCombat(*req.SectorID, *req.AttackerID, *req.DefenderID)
		if err != nil {
			httpError(w, err.Error(), raidStatus(err))
			return
		}
		writeJSON(w, result, logger)
	})

	mux.HandleFunc("/raids/settle", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		type settleRequest struct {
			SectorID *string `json:"sectorId"`
		}
		var req settleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.SectorID == nil {
			httpError(w, "sectorId is required", nethttp.StatusBadRequest)
			return
		}
		if err := hub.SettleRaid(*req.SectorID); err != nil {
			httpError(w, err.Error(), raidStatus(err))
			return
		}
		writeJSON(w, map[string]string{"status": "settled"}, logger)
	})

	return mux
}

type membershipRequest struct {
	SectorID *string `json:"sectorId"`
	PlayerID *string `json:"playerId"`
}

func handleMembership(w nethttp.ResponseWriter, r *nethttp.Request, logger *zap.Logger, apply func(sectorID, playerID string) error) {
	if r.Method != nethttp.MethodPost {
		httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
		return
	}
	var req membershipRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SectorID == nil || req.PlayerID == nil {
		httpError(w, "sectorId and playerId are required", nethttp.StatusBadRequest)
		return
	}
	if err := apply(*req.SectorID, *req.PlayerID); err != nil {
		httpError(w, err.Error(), raidStatus(err))
		return
	}
	writeJSON(w, map[string]string{"status": "ok"}, logger)
}

// raidStatus maps raid and registry errors onto HTTP status codes.
func raidStatus(err error) int {
	switch {
	case errors.Is(err, raid.ErrUnknownSector), errors.Is(err, registry.ErrUnknownSession):
		return nethttp.StatusNotFound
	case errors.Is(err, raid.ErrMembershipConflict), errors.Is(err, raid.ErrAlreadySettled):
		return nethttp.StatusConflict
	case errors.Is(err, raid.ErrNotParticipant):
		return nethttp.StatusBadRequest
	default:
		return nethttp.StatusInternalServerError
	}
}

func decodeBody(w nethttp.ResponseWriter, r *nethttp.Request, dst any) bool {
	if r.Body == nil {
		httpError(w, "missing body", nethttp.StatusBadRequest)
		return false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && err != io.EOF {
		httpError(w, "invalid payload", nethttp.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w nethttp.ResponseWriter, payload any, logger *zap.Logger) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("encode response", zap.Error(err))
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
