// Package app wires all voiceloop subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in reverse order.
//
// For testing, inject doubles via functional options (WithMemoryStore,
// WithAgent, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voiceloop/internal/agent"
	"github.com/MrWong99/voiceloop/internal/agent/llmagent"
	"github.com/MrWong99/voiceloop/internal/agent/tools"
	"github.com/MrWong99/voiceloop/internal/config"
	"github.com/MrWong99/voiceloop/internal/health"
	"github.com/MrWong99/voiceloop/internal/observe"
	"github.com/MrWong99/voiceloop/internal/pipeline"
	"github.com/MrWong99/voiceloop/internal/relay"
	"github.com/MrWong99/voiceloop/internal/server"
	"github.com/MrWong99/voiceloop/internal/session"
	"github.com/MrWong99/voiceloop/internal/synth"
	"github.com/MrWong99/voiceloop/internal/transcribe"
	"github.com/MrWong99/voiceloop/pkg/memory"
	"github.com/MrWong99/voiceloop/pkg/memory/postgres"
	"github.com/MrWong99/voiceloop/pkg/memory/redis"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	store    memory.Store
	memory   *session.MemoryGuard
	toolbox  *tools.Toolbox
	agent    agent.Agent
	pipeline *pipeline.Pipeline
	guard    *session.Guard
	health   *health.Handler
	handler  http.Handler

	configPath string
	logLevel   *slog.LevelVar

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMemoryStore injects a conversation store instead of creating one from
// config.
func WithMemoryStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithToolbox injects a toolbox instead of connecting the configured MCP
// servers.
func WithToolbox(tb *tools.Toolbox) Option {
	return func(a *App) { a.toolbox = tb }
}

// WithAgent injects an agent instead of building the LLM agent.
func WithAgent(ag agent.Agent) Option {
	return func(a *App) { a.agent = ag }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithConfigReload makes Run watch path and apply log level changes to lv.
func WithConfigReload(path string, lv *slog.LevelVar) Option {
	return func(a *App) {
		a.configPath = path
		a.logLevel = lv
	}
}

// New creates an App by wiring all subsystems together. The providers come
// from [BuildProviders]; a nil STT or TTS provider is an error, as is a nil
// LLM provider unless an agent is injected.
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

	if err := a.initMemory(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init memory: %w", err)
	}
	if err := a.initTools(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init tools: %w", err)
	}
	if err := a.initAgent(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init agent: %w", err)
	}
	if err := a.initPipeline(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	a.initHTTP()
	return a, nil
}

func (a *App) initMemory(ctx context.Context) error {
	if a.store == nil {
		mc := a.cfg.Memory
		switch mc.Backend {
		case config.MemoryRedis:
			st, err := redis.Dial(ctx, mc.Redis.Addr, mc.Redis.Password, mc.Redis.DB, redis.Options{
				KeyPrefix:   mc.Redis.KeyPrefix,
				MaxMessages: mc.MaxMessages,
				TTL:         mc.Redis.TTL,
			})
			if err != nil {
				return err
			}
			a.store = st
			a.closers = append(a.closers, st.Close)
		case config.MemoryPostgres:
			st, err := postgres.NewStore(ctx, mc.Postgres.DSN, mc.MaxMessages)
			if err != nil {
				return err
			}
			a.store = st
			a.closers = append(a.closers, func() error {
				st.Close()
				return nil
			})
		default:
			a.store = memory.NewLocal(mc.MaxMessages)
		}
		slog.Info("memory store ready", "backend", mc.Backend)
	}
	a.memory = session.NewMemoryGuard(a.store)
	return nil
}

func (a *App) initTools(ctx context.Context) error {
	if a.toolbox == nil {
		a.toolbox = tools.New(tools.WithMetrics(a.metrics))
		a.closers = append(a.closers, a.toolbox.Close)
		if err := a.toolbox.RegisterBuiltin(tools.CurrentTime(time.Now)); err != nil {
			return err
		}
	}

	for _, srv := range a.cfg.MCP.Servers {
		err := a.toolbox.Connect(ctx, tools.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		})
		if err != nil {
			return fmt.Errorf("connect mcp server %q: %w", srv.Name, err)
		}
		slog.Info("connected MCP server", "name", srv.Name)
	}
	slog.Info("tools ready", "count", len(a.toolbox.Definitions()))
	return nil
}

func (a *App) initAgent() error {
	if a.agent != nil {
		return nil
	}
	if a.providers.LLM == nil {
		return errors.New("an LLM provider is required")
	}
	ac := a.cfg.Agent
	ag, err := llmagent.New(a.providers.LLM, a.memory, llmagent.Config{
		SystemPrompt:  ac.SystemPrompt,
		Temperature:   ac.Temperature,
		MaxTokens:     ac.MaxTokens,
		MaxToolRounds: ac.MaxToolRounds,
		HistoryLimit:  ac.HistoryLimit,
		ProviderName:  a.cfg.Providers.LLM.Name,
	}, llmagent.WithTools(a.toolbox), llmagent.WithMetrics(a.metrics))
	if err != nil {
		return err
	}
	a.agent = ag
	return nil
}

func (a *App) initPipeline() error {
	if a.providers.STT == nil {
		return errors.New("an STT provider is required")
	}
	if a.providers.TTS == nil {
		return errors.New("a TTS provider is required")
	}

	tr := transcribe.New(a.providers.STT,
		transcribe.WithMetrics(a.metrics),
		transcribe.WithProviderName(a.cfg.Providers.STT.Name),
	)
	vc := a.cfg.Voice
	sy, err := synth.New(a.providers.TTS, synth.Config{
		ModelID:    vc.ModelID,
		VoiceID:    vc.VoiceID,
		Container:  vc.Container,
		Encoding:   vc.Encoding,
		SampleRate: vc.SampleRate,
	})
	if err != nil {
		return err
	}

	pc := a.cfg.Pipeline
	a.pipeline, err = pipeline.New(tr, a.agent, sy, pipeline.Config{
		STTTimeout: pc.STTTimeout,
		LLMTimeout: pc.LLMTimeout,
		TTSTimeout: pc.TTSTimeout,
	}, pipeline.WithMetrics(a.metrics))
	return err
}

func (a *App) initHTTP() {
	a.guard = session.NewGuard(a.metrics)
	a.health = health.New(
		health.PingCheck("memory", a.memory),
		health.Configured("agent", func() bool { return a.agent != nil }, "no agent"),
		health.Configured("stt", func() bool { return a.providers.STT != nil }, "no STT provider"),
		health.Configured("tts", func() bool { return a.providers.TTS != nil }, "no TTS provider"),
	)

	defaultSession := a.cfg.Agent.DefaultThread
	a.handler = server.Handler(server.Routes{
		Voice: server.NewVoiceHandler(a.pipeline, a.guard,
			server.WithOriginPatterns(a.cfg.Server.AllowedOrigins...),
			server.WithDefaultSession(defaultSession),
		),
		Relay: relay.NewHandler(a.agent, a.guard,
			relay.WithMetrics(a.metrics),
			relay.WithDefaultSession(defaultSession),
		),
		Health: a.health,
	}, a.metrics)
}

// Handler returns the routed HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Health returns the readiness checker.
func (a *App) Health() *health.Handler { return a.health }

// Run serves HTTP on the configured address until ctx is cancelled. When
// config reload is enabled, the config file is watched alongside.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.New(a.cfg.Server.ListenAddr, a.handler).Run(gctx)
	})

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			w.Stop()
			return nil
		})
	}

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// applyConfig is the reload callback. Only the log level is applied live.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes take effect after restart", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a config log level to its slog equivalent.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Shutdown closes subsystems in reverse creation order. It is safe to call
// more than once; only the first call does anything.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		done := make(chan error, 1)
		go func() { done <- a.closeAll() }()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = ctx.Err()
			slog.Warn("shutdown deadline exceeded")
			return
		}
		slog.Info("shutdown complete")
	})
	return err
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
