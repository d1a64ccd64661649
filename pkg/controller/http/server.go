package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	slack_controller "github.com/secmon-lab/vigil/pkg/controller/slack"
	"github.com/secmon-lab/vigil/pkg/domain/interfaces"
	"github.com/secmon-lab/vigil/pkg/domain/model/slackmsg"
	"github.com/secmon-lab/vigil/pkg/domain/types"
)

// Dispatcher is the slice of the dispatch loop the HTTP surface needs.
type Dispatcher interface {
	Cancel(ctx context.Context, fingerprint types.AlertFingerprint) error
	ActiveSessions() int
}

type Server struct {
	router     *chi.Mux
	repo       interfaces.Repository
	dispatcher Dispatcher
	slackCtrl  *slack_controller.Controller
	verifier   slackmsg.PayloadVerifier
}

type Options func(*Server)

// WithSlackEvents enables the Slack Events API endpoint with signature
// verification.
func WithSlackEvents(ctrl *slack_controller.Controller, verifier slackmsg.PayloadVerifier) Options {
	return func(s *Server) {
		s.slackCtrl = ctrl
		s.verifier = verifier
	}
}

func New(repo interfaces.Repository, dispatcher Dispatcher, opts ...Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router:     r,
		repo:       repo,
		dispatcher: dispatcher,
	}
	for _, opt := range opts {
		opt(s)
	}

	r.Use(loggingMiddleware)
	r.Use(panicRecoveryMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/hooks", func(r chi.Router) {
		r.Post("/alert/raw", s.handleRawAlert)

		if s.slackCtrl != nil {
			r.Route("/slack", func(r chi.Router) {
				r.Use(verifySlackRequest(s.verifier))
				r.Post("/event", s.handleSlackEvent)
			})
		}
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/alerts", s.handleQueryAlerts)
		r.Post("/alerts/{fingerprint}/cancel", s.handleCancelAlert)
		r.Get("/ignores", s.handleListIgnores)
		r.Get("/blacklist", s.handleListBlacklist)
	})

	return s
}

func (x *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	x.router.ServeHTTP(w, r)
}
