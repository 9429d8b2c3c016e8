package engine

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basket/wolfpack/internal/audit"
	"github.com/basket/wolfpack/internal/auth"
	"github.com/basket/wolfpack/internal/config"
	otelPkg "github.com/basket/wolfpack/internal/otel"
	"github.com/basket/wolfpack/internal/persistence"
)

type RegisterInput struct {
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Name     string   `json:"name"`
	City     string   `json:"city"`
	Skills   []string `json:"skills"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is returned by register and login.
type Session struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expiresAt"`
	User      *persistence.User `json:"user"`
}

// Register creates a member, provisions the task board from the catalog
// templates and issues a token.
func (s *Service) Register(ctx context.Context, in RegisterInput) (_ *Session, err error) {
	ctx, span := s.startSpan(ctx, "register", "")
	defer func() { otelPkg.EndSpan(span, err) }()

	email := persistence.NormalizeEmail(in.Email)
	if addr, perr := mail.ParseAddress(email); perr != nil || addr.Address != email {
		return nil, invalidf("email is not valid")
	}
	if len(in.Password) < auth.MinPasswordLen {
		return nil, invalidf("password must be at least %d characters", auth.MinPasswordLen)
	}
	if len(in.Password) > auth.MaxPasswordBytes {
		return nil, invalidf("password must be at most %d bytes", auth.MaxPasswordBytes)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = email[:strings.Index(email, "@")]
	}
	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, classify(err)
	}

	now := s.now()
	u := &persistence.User{
		ID:           uuid.NewString(),
		Kind:         persistence.KindMember,
		Email:        email,
		Name:         name,
		City:         strings.TrimSpace(in.City),
		Skills:       cleanSkills(in.Skills),
		PasswordHash: hash,
		Tasks:        provisionTasks(s.Catalog().Tasks, now),
		Wolfpack:     []string{},
		Events:       []persistence.Event{},
	}
	f := &feed{userID: u.ID}
	f.add(u, s.maxEvents, s.event("user_registered", "", 0, "Welcome to the pack, %s.", name))

	if err := s.store.Create(ctx, u); err != nil {
		err = classify(err)
		if errors.Is(err, ErrConflict) {
			audit.Record(ctx, audit.DecisionDeny, "auth.register", "email already registered", email)
			return nil, fmt.Errorf("%w: email already registered", ErrConflict)
		}
		return nil, err
	}
	s.publish(f)
	audit.Record(ctx, audit.DecisionAllow, "auth.register", "member created", u.ID)
	s.log(ctx).Info("member registered", "user_id", u.ID)
	return s.session(u)
}

// Login verifies credentials and issues a token.
func (s *Service) Login(ctx context.Context, in LoginInput) (_ *Session, err error) {
	ctx, span := s.startSpan(ctx, "login", "")
	defer func() { otelPkg.EndSpan(span, err) }()

	email := persistence.NormalizeEmail(in.Email)
	u, err := s.store.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}
	if u == nil || auth.CheckPassword(u.PasswordHash, in.Password) != nil {
		s.metrics.RecordAuthFailure(ctx, "bad_credentials")
		audit.Record(ctx, audit.DecisionDeny, "auth.login", "invalid credentials", email)
		return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	audit.Record(ctx, audit.DecisionAllow, "auth.login", "credentials verified", u.ID)
	return s.session(u)
}

func (s *Service) session(u *persistence.User) (*Session, error) {
	if s.tokens == nil {
		return nil, errors.New("token issuer not configured")
	}
	tok, exp, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, err
	}
	return &Session{Token: tok, ExpiresAt: exp, User: u.Public()}, nil
}

// Authenticate resolves a bearer token to a member ID.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	if s.tokens == nil {
		return "", ErrUnauthorized
	}
	id, err := s.tokens.Parse(token)
	if err != nil {
		s.metrics.RecordAuthFailure(ctx, "bad_token")
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return id, nil
}

// Me returns the caller's document.
func (s *Service) Me(ctx context.Context, userID string) (*persistence.User, error) {
	u, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.Public(), nil
}

func (s *Service) Cards() []config.Card {
	return s.Catalog().Cards
}

func (s *Service) Products() []config.Product {
	return s.Catalog().Products
}

// SelectCard sets the caller's role from a role card.
func (s *Service) SelectCard(ctx context.Context, userID, cardID string) (_ *persistence.User, err error) {
	ctx, span := s.startSpan(ctx, "select_card", userID)
	defer func() { otelPkg.EndSpan(span, err) }()

	card, ok := s.Catalog().Card(strings.TrimSpace(cardID))
	if !ok {
		return nil, notFoundf("card %q", cardID)
	}
	u, err := s.mutate(ctx, userID, func(u *persistence.User, f *feed) error {
		u.SelectedCardID = card.ID
		u.Role = card.Role
		f.add(u, s.maxEvents, s.event("card_selected", "", 0, "You chose %s (%s).", card.Title, card.Role))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u.Public(), nil
}

// SelectProduct records the caller's startup pitch.
func (s *Service) SelectProduct(ctx context.Context, userID, productID string) (_ *persistence.User, err error) {
	ctx, span := s.startSpan(ctx, "select_product", userID)
	defer func() { otelPkg.EndSpan(span, err) }()

	product, ok := s.Catalog().Product(strings.TrimSpace(productID))
	if !ok {
		return nil, notFoundf("product %q", productID)
	}
	u, err := s.mutate(ctx, userID, func(u *persistence.User, f *feed) error {
		u.SelectedProductID = product.ID
		f.add(u, s.maxEvents, s.event("product_selected", "", 0, "You are pitching %s.", product.Name))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u.Public(), nil
}

func (s *Service) SetOnboardingStep(ctx context.Context, userID string, step int) (*persistence.User, error) {
	if step < 0 {
		return nil, invalidf("step must be >= 0")
	}
	u, err := s.mutate(ctx, userID, func(u *persistence.User, _ *feed) error {
		u.OnboardingStep = step
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u.Public(), nil
}

// SetSelfStats stores the caller's self assessment. Each stat is 0..100.
func (s *Service) SetSelfStats(ctx context.Context, userID string, stats persistence.Stats) (*persistence.User, error) {
	for name, v := range map[string]float64{"build": stats.Build, "fund": stats.Fund, "connect": stats.Connect} {
		if v < 0 || v > 100 {
			return nil, invalidf("%s must be between 0 and 100", name)
		}
	}
	u, err := s.mutate(ctx, userID, func(u *persistence.User, _ *feed) error {
		u.SelfStats = stats
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u.Public(), nil
}

func provisionTasks(templates []config.TaskTemplate, now time.Time) []persistence.Task {
	tasks := make([]persistence.Task, 0, len(templates))
	for _, tpl := range templates {
		t := persistence.Task{
			ID:         tpl.ID,
			Title:      tpl.Title,
			Status:     persistence.TaskStatusTodo,
			AssignedTo: tpl.Role,
			Method:     tpl.Method,
			Budget:     tpl.Budget,
		}
		if tpl.DeadlineDays > 0 {
			d := now.AddDate(0, 0, tpl.DeadlineDays)
			t.Deadline = &d
		}
		tasks = append(tasks, t)
	}
	return tasks
}

func cleanSkills(in []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[strings.ToLower(s)] {
			continue
		}
		seen[strings.ToLower(s)] = true
		out = append(out, s)
	}
	return out
}
