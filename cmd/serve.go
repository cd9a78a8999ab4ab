package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mops-cli/internal/config"
	"github.com/sells-group/mops-cli/internal/engine"
	"github.com/sells-group/mops-cli/internal/model"
	"github.com/sells-group/mops-cli/internal/store"
)

var (
	servePort   int
	serveStrict bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for fetch requests and session history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate(config.ModeServe); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := newSession(ctx, cfg, runOptions{Strict: serveStrict})
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		api := newAPIServer(ctx, s.run, s.ledger)
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		api.wait()
		return nil
	},
}

// apiServer runs at most one fetch session at a time.
type apiServer struct {
	ctx    context.Context
	run    runFunc
	ledger store.Ledger
	busy   atomic.Bool
	wg     sync.WaitGroup
	log    *zap.Logger
}

func newAPIServer(ctx context.Context, run runFunc, ledger store.Ledger) *apiServer {
	return &apiServer{
		ctx:    ctx,
		run:    run,
		ledger: ledger,
		log:    zap.L().With(zap.String("component", "api")),
	}
}

func (a *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/sessions", a.listSessions)
		r.Get("/sessions/{id}", a.getSession)
		r.Post("/fetch", a.fetch)
	})
	return r
}

// wait blocks until a background session finishes.
func (a *apiServer) wait() { a.wg.Wait() }

func (a *apiServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "busy": a.busy.Load()})
}

func (a *apiServer) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.SessionFilter{CompanyID: q.Get("company")}
	for key, dst := range map[string]*int{"year": &filter.Year, "limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a non-negative integer", key))
				return
			}
			*dst = n
		}
	}

	sessions, err := a.ledger.ListSessions(r.Context(), filter)
	if err != nil {
		a.log.Error("list sessions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list sessions failed")
		return
	}
	if sessions == nil {
		sessions = []model.SessionResult{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (a *apiServer) getSession(w http.ResponseWriter, r *http.Request) {
	res, err := a.ledger.GetSession(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		a.log.Error("get session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get session failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type fetchRequest struct {
	CompanyID string `json:"company_id"`
	Year      int    `json:"year"`
	Quarters  []int  `json:"quarters"`
}

// fetch starts a session. With ?wait=true it responds with the result,
// otherwise it answers 202 and runs in the background.
func (a *apiServer) fetch(w http.ResponseWriter, r *http.Request) {
	var body fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req := engine.Request{CompanyID: body.CompanyID, Year: body.Year, Quarters: body.Quarters}
	if len(req.Quarters) == 0 {
		req.Quarters = append([]int(nil), engine.AllQuarters...)
	}
	if err := req.Validate(time.Now()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !a.busy.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "a session is already running")
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		defer a.busy.Store(false)
		res, err := a.run(r.Context(), req)
		if err != nil {
			status := http.StatusInternalServerError
			if model.IsFatal(err) {
				status = http.StatusBadRequest
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.busy.Store(false)
		res, err := a.run(a.ctx, req)
		if err != nil {
			a.log.Error("background fetch failed", zap.String("company_id", req.CompanyID), zap.Error(err))
			return
		}
		a.log.Info("background fetch complete",
			zap.String("session_id", res.SessionID),
			zap.String("company_id", res.CompanyID),
			zap.Ints("downloaded", res.DownloadedQuarters),
			zap.Ints("missing", res.MissingNumbers()),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "accepted",
		"company_id": req.CompanyID,
		"year":       req.Year,
		"quarters":   req.Quarters,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveStrict, "strict", false, "accept only primary targets")
	rootCmd.AddCommand(serveCmd)
}
