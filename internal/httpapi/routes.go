package httpapi

import (
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/back-your-boy-backend/internal/history"
	"github.com/DoyleJ11/back-your-boy-backend/internal/registry"
	"github.com/DoyleJ11/back-your-boy-backend/internal/ws"
)

type Deps struct {
	Registry       *registry.Registry
	History        history.Store // nil disables the history route
	Logger         *zap.Logger
	WS             ws.Options
	Prefix         string
	JoinURL        string
	AllowedOrigins []string // CORS; "*" allows any
}

func SetupRoutes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.WS.Logger == nil {
		d.WS.Logger = d.Logger
	}
	log := d.Logger.Named("http")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors(d.AllowedOrigins))

	// Public routes
	r.Get("/healthz", Healthz)
	r.Route("/api", func(r chi.Router) {
		r.Get("/create-room", CreateRoom(d.Registry, log, http.StatusOK))
		r.Post("/rooms", CreateRoom(d.Registry, log, http.StatusCreated))
		r.Get("/rooms/{code}", GetRoom(d.Registry))
		r.Get("/rooms/{code}/qr", RoomQR(d.Registry, d.JoinURL))
		r.Get("/rooms/{code}/history", RoomHistory(d.History, log))
	})
	r.Get("/ws/{room_code}/{client_id}", ws.Handler(d.Registry, d.WS))

	if d.Prefix == "" || d.Prefix == "/" {
		return r
	}
	root := chi.NewRouter()
	root.Mount(d.Prefix, r)
	return root
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Debug("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("took", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// cors lets the browser client on another origin call the JSON routes.
func cors(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0 || slices.Contains(origins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || slices.Contains(origins, origin)) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
