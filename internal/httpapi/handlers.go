package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/DoyleJ11/back-your-boy-backend/internal/engine"
	"github.com/DoyleJ11/back-your-boy-backend/internal/history"
	"github.com/DoyleJ11/back-your-boy-backend/internal/registry"
)

const qrSize = 320

type roomCodeResponse struct {
	RoomCode string `json:"room_code"`
}

type roomInfoResponse struct {
	RoomCode  string `json:"room_code"`
	Status    string `json:"status"`
	Players   int    `json:"players"`
	Connected int    `json:"connected"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// CreateRoom mints a room and returns its code with the given status.
func CreateRoom(reg *registry.Registry, log *zap.Logger, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, err := reg.CreateRoom(r.Context())
		switch {
		case errors.Is(err, registry.ErrCapacity):
			writeError(w, http.StatusServiceUnavailable, "no room codes available")
			return
		case err != nil:
			log.Error("create room", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to create room")
			return
		}
		writeJSON(w, status, roomCodeResponse{RoomCode: rm.Code()})
	}
}

func GetRoom(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, err := reg.Resolve(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		v, err := rm.View(r.Context())
		if err != nil {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		writeJSON(w, http.StatusOK, roomInfoResponse{
			RoomCode:  rm.Code(),
			Status:    string(v.State.Phase),
			Players:   len(v.State.Players),
			Connected: v.State.ConnectedCount(engine.TeamA) + v.State.ConnectedCount(engine.TeamB),
		})
	}
}

// RoomQR renders a PNG QR code pointing players at the room.
func RoomQR(reg *registry.Registry, joinURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, err := reg.Resolve(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}

		png, err := qrcode.Encode(JoinLink(r, joinURL, rm.Code()), qrcode.Medium, qrSize)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "qr generation failed")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(png)
	}
}

// JoinLink builds the URL a player opens to join code. Without a configured
// base it points back at the host that served the request.
func JoinLink(r *http.Request, base, code string) string {
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host + "/"
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "room=" + url.QueryEscape(code)
}

// RoomHistory lists recorded rounds. It works after the room has closed.
func RoomHistory(store history.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, http.StatusNotFound, "history is disabled")
			return
		}
		limit := 0
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "bad limit")
				return
			}
			limit = n
		}

		code := registry.NormalizeCode(chi.URLParam(r, "code"))
		rounds, err := store.ListByRoom(r.Context(), code, limit)
		if err != nil {
			log.Error("list history", zap.String("room", code), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load history")
			return
		}
		if rounds == nil {
			rounds = []history.Round{}
		}
		writeJSON(w, http.StatusOK, rounds)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
