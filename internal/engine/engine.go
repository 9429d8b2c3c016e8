// Package engine is the game service. Each operation loads one user
// document through the store, applies scoring rules inside the store's
// atomic Update callback and publishes the resulting activity events.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/wolfpack/internal/auth"
	"github.com/basket/wolfpack/internal/bus"
	"github.com/basket/wolfpack/internal/config"
	otelPkg "github.com/basket/wolfpack/internal/otel"
	"github.com/basket/wolfpack/internal/persistence"
	"github.com/basket/wolfpack/internal/scoring"
	"github.com/basket/wolfpack/internal/telemetry"
)

const defaultMaxEvents = 50

type Config struct {
	Store   persistence.Store
	Catalog *config.CatalogHolder
	Tokens  *auth.Tokens
	Bus     *bus.Bus // may be nil
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *otelPkg.Metrics // may be nil

	Rules       scoring.Rules
	BcryptCost  int
	MaxEvents   int
	Matchmaking config.MatchmakingConfig

	// Now is swapped in tests.
	Now func() time.Time
}

type Service struct {
	store   persistence.Store
	catalog *config.CatalogHolder
	tokens  *auth.Tokens
	bus     *bus.Bus
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *otelPkg.Metrics

	rules       scoring.Rules
	bcryptCost  int
	maxEvents   int
	matchmaking config.MatchmakingConfig
	now         func() time.Time
}

func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otelPkg.Noop().Tracer
	}
	if cfg.Catalog == nil {
		cfg.Catalog = config.NewCatalogHolder("", config.DefaultCatalog())
	}
	if cfg.Rules == (scoring.Rules{}) {
		cfg.Rules = scoring.DefaultRules()
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = defaultMaxEvents
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:       cfg.Store,
		catalog:     cfg.Catalog,
		tokens:      cfg.Tokens,
		bus:         cfg.Bus,
		logger:      cfg.Logger,
		tracer:      cfg.Tracer,
		metrics:     cfg.Metrics,
		rules:       cfg.Rules,
		bcryptCost:  cfg.BcryptCost,
		maxEvents:   cfg.MaxEvents,
		matchmaking: cfg.Matchmaking,
		now:         cfg.Now,
	}
}

// RulesFromConfig applies scoring overrides from config.yaml to the defaults.
func RulesFromConfig(c config.ScoringConfig) scoring.Rules {
	return scoring.DefaultRules().With(scoring.Overrides{
		CompletionBase:   c.CompletionBase,
		DeadlineBonus:    c.DeadlineBonus,
		DeadlinePenalty:  c.DeadlinePenalty,
		BudgetBonus:      c.BudgetBonus,
		BudgetPenalty:    c.BudgetPenalty,
		GrindStatStep:    c.GrindStatStep,
		GrindStatCap:     c.GrindStatCap,
		KillBonusPerKill: c.KillBonusPerKill,
		KillBonusCap:     c.KillBonusCap,
		StatCap:          c.StatCap,
	})
}

// Catalog returns the active catalog.
func (s *Service) Catalog() *config.Catalog {
	return s.catalog.Get()
}

// Tokens exposes the token verifier for the gateway's auth middleware.
func (s *Service) Tokens() *auth.Tokens {
	return s.tokens
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) startSpan(ctx context.Context, op, userID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, otelPkg.AttrOperation.String(op), otelPkg.AttrUserID.String(userID))
	return otelPkg.StartSpan(ctx, s.tracer, "engine."+op, attrs...)
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return telemetry.FromContext(ctx, s.logger)
}

// feed collects events appended during one mutation so they can be
// published once the store commits.
type feed struct {
	userID string
	events []persistence.Event
}

func (f *feed) add(u *persistence.User, limit int, ev persistence.Event) {
	u.Events = append(u.Events, ev)
	if over := len(u.Events) - limit; over > 0 {
		u.Events = append([]persistence.Event(nil), u.Events[over:]...)
	}
	f.events = append(f.events, ev)
}

func (s *Service) event(typ, taskID string, delta int, format string, args ...any) persistence.Event {
	return persistence.Event{
		ID:      uuid.NewString(),
		Type:    typ,
		Message: fmt.Sprintf(format, args...),
		TaskID:  taskID,
		Delta:   delta,
		At:      s.now(),
	}
}

// mutate runs fn inside the store's atomic update and publishes the events
// fn recorded after the write succeeds.
func (s *Service) mutate(ctx context.Context, userID string, fn func(u *persistence.User, f *feed) error) (*persistence.User, error) {
	f := &feed{userID: userID}
	u, err := s.store.Update(ctx, userID, func(u *persistence.User) error {
		f.events = f.events[:0]
		return fn(u, f)
	})
	if err != nil {
		return nil, classify(err)
	}
	s.publish(f)
	return u, nil
}

func (s *Service) publish(f *feed) {
	if s.bus == nil {
		return
	}
	for _, ev := range f.events {
		s.bus.Publish(bus.TopicForEventType(ev.Type), bus.ActivityEvent{
			UserID:  f.userID,
			EventID: ev.ID,
			Type:    ev.Type,
			Message: ev.Message,
			TaskID:  ev.TaskID,
			Delta:   ev.Delta,
			At:      ev.At,
		})
	}
}

func (s *Service) get(ctx context.Context, userID string) (*persistence.User, error) {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	return u, nil
}
