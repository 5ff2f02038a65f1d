// Package app wires the voicecard subsystems into a running server.
//
// New opens the card store, builds the enrollment machine, the session
// manager and the HTTP front end. Serve (or Run) handles requests until its
// context is cancelled, and Shutdown releases everything New opened.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicecard/internal/api"
	"github.com/MrWong99/voicecard/internal/cardstore"
	"github.com/MrWong99/voicecard/internal/config"
	"github.com/MrWong99/voicecard/internal/enroll"
	"github.com/MrWong99/voicecard/internal/health"
	"github.com/MrWong99/voicecard/internal/observe"
	"github.com/MrWong99/voicecard/internal/session"
	"github.com/MrWong99/voicecard/pkg/provider/stt"
	"github.com/MrWong99/voicecard/pkg/provider/tts"
)

// Session janitor defaults.
const (
	janitorInterval = time.Minute
	sessionIdle     = 15 * time.Minute
	shutdownGrace   = 10 * time.Second
)

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	store    cardstore.Store
	sessions *session.Manager
	metrics  *observe.Metrics
	api      *api.Server
	server   *http.Server

	metricsHandler http.Handler

	// closers run in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithStore injects a card store instead of opening one from config.
func WithStore(s cardstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at telemetry.metrics_path.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// New creates an App from cfg. providers may be nil, in which case voice
// clients must send text transcripts and no prompt audio is produced.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	machine, err := BuildMachine(cfg.Enrollment, a.store)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: build machine: %w", err)
	}
	a.sessions = session.NewManager(machine, session.WithMetrics(a.metrics))

	srv, err := api.New(api.Config{
		Store:            a.store,
		Sessions:         a.sessions,
		STT:              providers.STT,
		Stream:           stt.StreamConfig{SampleRate: providers.sampleRate()},
		TTS:              providers.TTS,
		Voice:            VoiceProfile(cfg),
		AudioContentType: api.ContentTypeFor(providers.AudioFormat),
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		Health:           health.New(a.checkers()...),
		MetricsHandler:   a.metricsHandler,
		MetricsPath:      cfg.Telemetry.MetricsPath,
		Metrics:          a.metrics,
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.api = srv
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// initStore opens the configured card store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	st := a.cfg.Storage
	switch st.Backend {
	case config.StoragePostgres:
		s, err := cardstore.OpenPostgres(ctx, st.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, func() error {
			s.Close()
			return nil
		})
	case config.StorageBadger:
		s, err := cardstore.OpenBadger(cardstore.BadgerOptions{Dir: st.BadgerDir})
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
	default:
		a.store = cardstore.NewMemStore()
	}
	slog.Info("card store ready", "backend", st.Backend)
	return nil
}

// checkers returns the readiness checks: the store, and every provider slot
// that has a fallback group.
func (a *App) checkers() []health.Checker {
	cs := []health.Checker{{Name: "store", Check: a.store.Ping}}
	if f := a.providers.STTStates; f != nil {
		cs = append(cs, health.Breakers("stt", f))
	}
	if f := a.providers.TTSStates; f != nil {
		cs = append(cs, health.Breakers("tts", f))
	}
	return cs
}

// BuildMachine builds the enrollment machine described by e. Cards are
// committed to store.
func BuildMachine(e config.EnrollmentConfig, store cardstore.Store) (*enroll.Machine, error) {
	loc, err := enroll.LookupLocale(e.Locale)
	if err != nil {
		return nil, err
	}
	return enroll.NewMachine(loc, enroll.NewAdapter(store), e.MachineOptions()...)
}

// VoiceProfile converts the voice section of cfg into a [tts.VoiceProfile].
func VoiceProfile(cfg *config.Config) tts.VoiceProfile {
	v := cfg.Voice
	p := tts.VoiceProfile{
		ID:       v.VoiceID,
		Provider: cfg.Providers.TTS.Name,
		Language: v.Language,
	}
	if v.Stability != 0 || v.SimilarityBoost != 0 || v.Style != 0 || v.UseSpeakerBoost {
		p.Settings = &tts.VoiceSettings{
			Stability:       v.Stability,
			SimilarityBoost: v.SimilarityBoost,
			Style:           v.Style,
			UseSpeakerBoost: v.UseSpeakerBoost,
		}
	}
	return p
}

// Store returns the card store.
func (a *App) Store() cardstore.Store { return a.store }

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler }

// ApplyConfig applies the hot-reloadable parts of a changed config: new
// sessions and idle sessions get the rebuilt machine, and later prompts use
// the new voice. Other changes are left for a restart.
func (a *App) ApplyConfig(cfg *config.Config, d config.ConfigDiff) error {
	if d.EnrollmentChanged {
		m, err := BuildMachine(cfg.Enrollment, a.store)
		if err != nil {
			return fmt.Errorf("app: rebuild machine: %w", err)
		}
		a.sessions.SetMachine(m)
		slog.Info("enrollment settings applied", "locale", cfg.Enrollment.Locale, "policy", cfg.Enrollment.ConfirmPolicy)
	}
	if d.VoiceChanged {
		a.api.SetVoice(VoiceProfile(cfg))
		slog.Info("prompt voice applied", "voice_id", cfg.Voice.VoiceID)
	}
	return nil
}

// Run listens on server.listen_addr and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve handles connections on ln and runs the session janitor. It returns
// ctx.Err() after a graceful stop, or the first serving error.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		a.sessions.RunJanitor(gctx, janitorInterval, sessionIdle)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
		defer cancel()
		return a.server.Shutdown(sctx)
	})

	slog.Info("server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown releases the store and other resources in reverse-init order. It
// respects the context deadline: if ctx expires first, remaining closers
// are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range slices.Backward(a.closers) {
			if err := ctx.Err(); err != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = err
				return
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers after a failed New.
func (a *App) closeAll() {
	for _, closer := range slices.Backward(a.closers) {
		_ = closer()
	}
}
