package engine

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"

	"github.com/basket/wolfpack/internal/config"
	"github.com/basket/wolfpack/internal/matchmaking"
	otelPkg "github.com/basket/wolfpack/internal/otel"
	"github.com/basket/wolfpack/internal/persistence"
	"github.com/basket/wolfpack/internal/scoring"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// Matches ranks potential collaborators for the caller.
func (s *Service) Matches(ctx context.Context, userID string) (_ []matchmaking.Match, err error) {
	ctx, span := s.startSpan(ctx, "matches", userID)
	defer func() { otelPkg.EndSpan(span, err) }()

	me, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	filter := persistence.ListFilter{Kind: persistence.KindCandidate}
	if s.matchmaking.IncludeMembers {
		filter = persistence.ListFilter{}
	}
	users, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	candidates := make([]matchmaking.Profile, 0, len(users))
	var mentor *matchmaking.Profile
	for _, u := range users {
		p := matchmaking.ProfileOf(u)
		if u.ID == config.MentorID {
			mentor = &p
			continue
		}
		candidates = append(candidates, p)
	}
	if mentor == nil {
		p := catalogProfile(s.Catalog().Mentor)
		mentor = &p
	}

	connected := make(map[string]bool, len(me.Wolfpack))
	for _, id := range me.Wolfpack {
		connected[id] = true
	}
	out := matchmaking.Rank(matchmaking.ProfileOf(me), candidates, mentor, matchmaking.Options{
		Limit:     s.matchmaking.Limit,
		Connected: connected,
	})
	s.metrics.RecordMatches(ctx)
	return out, nil
}

// Connect adds a wolf to the caller's pack. Connecting twice is a no-op.
func (s *Service) Connect(ctx context.Context, userID, wolfID string) (_ []matchmaking.Profile, err error) {
	ctx, span := s.startSpan(ctx, "connect", userID, otelPkg.AttrWolfID.String(wolfID))
	defer func() { otelPkg.EndSpan(span, err) }()

	wolfID = strings.TrimSpace(wolfID)
	if wolfID == "" {
		return nil, invalidf("wolfId is required")
	}
	if wolfID == userID {
		return nil, invalidf("cannot add yourself to your wolfpack")
	}
	wolf, err := s.get(ctx, wolfID)
	if err != nil {
		return nil, err
	}
	if _, err := s.mutate(ctx, userID, func(u *persistence.User, f *feed) error {
		if u.InPack(wolfID) {
			return nil
		}
		u.Wolfpack = append(u.Wolfpack, wolfID)
		f.add(u, s.maxEvents, s.event("wolf_connected", "", 0, "%s joined your wolfpack.", wolf.Name))
		return nil
	}); err != nil {
		return nil, err
	}
	return s.Pack(ctx, userID)
}

// Disconnect removes a wolf from the caller's pack.
func (s *Service) Disconnect(ctx context.Context, userID, wolfID string) (_ []matchmaking.Profile, err error) {
	ctx, span := s.startSpan(ctx, "disconnect", userID, otelPkg.AttrWolfID.String(wolfID))
	defer func() { otelPkg.EndSpan(span, err) }()

	if _, err := s.mutate(ctx, userID, func(u *persistence.User, f *feed) error {
		i := slices.Index(u.Wolfpack, wolfID)
		if i < 0 {
			return notFoundf("wolf %q is not in your wolfpack", wolfID)
		}
		u.Wolfpack = slices.Delete(u.Wolfpack, i, i+1)
		f.add(u, s.maxEvents, s.event("wolf_disconnected", "", 0, "A wolf left your pack."))
		return nil
	}); err != nil {
		return nil, err
	}
	return s.Pack(ctx, userID)
}

// Pack returns the profiles in the caller's wolfpack. Wolves that no
// longer exist are skipped.
func (s *Service) Pack(ctx context.Context, userID string) ([]matchmaking.Profile, error) {
	me, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]matchmaking.Profile, 0, len(me.Wolfpack))
	for _, id := range me.Wolfpack {
		w, err := s.store.Get(ctx, id)
		if errors.Is(err, persistence.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, matchmaking.ProfileOf(w))
	}
	return out, nil
}

// Rate folds a 1..5 peer score into the wolf's rating.
func (s *Service) Rate(ctx context.Context, userID, wolfID string, score int) (_ *matchmaking.Profile, err error) {
	ctx, span := s.startSpan(ctx, "rate", userID, otelPkg.AttrWolfID.String(wolfID))
	defer func() { otelPkg.EndSpan(span, err) }()

	if wolfID == userID {
		return nil, invalidf("cannot rate yourself")
	}
	if score < 1 || score > 5 {
		return nil, classify(scoring.ErrScoreRange)
	}
	if _, err := s.get(ctx, userID); err != nil {
		return nil, err
	}
	w, err := s.mutate(ctx, wolfID, func(w *persistence.User, f *feed) error {
		if err := scoring.ApplyRating(&w.Rating, score); err != nil {
			return err
		}
		if w.Kind == persistence.KindMember {
			f.add(w, s.maxEvents, s.event("wolf_rated", "", 0,
				"A packmate rated you %d/5. Average now %.2f.", score, w.Rating.Average))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p := matchmaking.ProfileOf(w)
	return &p, nil
}

// Events returns the caller's activity feed, newest last.
func (s *Service) Events(ctx context.Context, userID string) ([]persistence.Event, error) {
	u, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Events == nil {
		return []persistence.Event{}, nil
	}
	return u.Events, nil
}

// LeaderboardEntry is one row of the IVP leaderboard.
type LeaderboardEntry struct {
	Rank   int                `json:"rank"`
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Role   persistence.Role   `json:"role,omitempty"`
	IVP    int                `json:"ivp"`
	Rating persistence.Rating `json:"rating"`
}

// Leaderboard ranks members by IVP descending, then name.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	limit = min(limit, maxLeaderboardLimit)
	members, err := s.store.List(ctx, persistence.ListFilter{Kind: persistence.KindMember})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].IVP != members[j].IVP {
			return members[i].IVP > members[j].IVP
		}
		return strings.ToLower(members[i].Name) < strings.ToLower(members[j].Name)
	})
	if len(members) > limit {
		members = members[:limit]
	}
	out := make([]LeaderboardEntry, len(members))
	for i, m := range members {
		out[i] = LeaderboardEntry{Rank: i + 1, ID: m.ID, Name: m.Name, Role: m.Role, IVP: m.IVP, Rating: m.Rating}
	}
	return out, nil
}

func catalogProfile(c config.Candidate) matchmaking.Profile {
	return matchmaking.Profile{
		ID:     c.ID,
		Name:   c.Name,
		Role:   c.Role,
		City:   c.City,
		Skills: append([]string(nil), c.Skills...),
		Bio:    c.Bio,
	}
}
