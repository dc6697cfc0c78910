// Package server exposes the bot over HTTP: the Telegram webhook, a plain
// completion endpoint and a health check.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/polzovatel/creative-insights-bot/internal/telegram"
)

const defaultPrompt = "Tell me a joke"

type Chatter interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

type Occupancy interface {
	Outstanding() int
	Capacity() int
}

type Dispatcher interface {
	Dispatch(ctx context.Context, upd telegram.Update) // queues, never blocks on handling
}

type Options struct {
	Addr string
	// WebhookToken guards POST /webhook/{token}. Empty disables the route.
	WebhookToken string
}

type Server struct {
	opts       Options
	router     *mux.Router
	dispatcher Dispatcher
	chat       Chatter
	pool       Occupancy
	log        zerolog.Logger
	started    time.Time
}

func New(opts Options, dispatcher Dispatcher, chat Chatter, pool Occupancy, logger zerolog.Logger) *Server {
	s := &Server{
		opts:       opts,
		router:     mux.NewRouter(),
		dispatcher: dispatcher,
		chat:       chat,
		pool:       pool,
		log:        logger,
		started:    time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/chat", s.handleChat).Methods("GET")
	if s.dispatcher != nil && s.opts.WebhookToken != "" {
		s.router.HandleFunc("/webhook/{token}", s.handleWebhook).Methods("POST")
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.opts.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type healthResponse struct {
	Status      string `json:"status"`
	Sessions    int    `json:"sessions"`
	MaxSessions int    `json:"max_sessions"`
	Uptime      string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Uptime: time.Since(s.started).Truncate(time.Second).String()}
	if s.pool != nil {
		resp.Sessions = s.pool.Outstanding()
		resp.MaxSessions = s.pool.Capacity()
		if resp.Sessions >= resp.MaxSessions {
			resp.Status = "busy"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	prompt := r.URL.Query().Get("prompt")
	if prompt == "" {
		prompt = defaultPrompt
	}
	reply, err := s.chat.Chat(r.Context(), prompt)
	if err != nil {
		s.log.Error().Err(err).Msg("chat completion")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to generate response."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if mux.Vars(r)["token"] != s.opts.WebhookToken {
		http.NotFound(w, r)
		return
	}
	var upd telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		s.log.Warn().Err(err).Msg("bad webhook payload")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	// Handling outlives the request; Telegram only needs the 200.
	s.dispatcher.Dispatch(context.WithoutCancel(r.Context()), upd)
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
