// Package matchmaking ranks potential collaborators for a player.
package matchmaking

import (
	"sort"
	"strings"

	"github.com/basket/wolfpack/internal/persistence"
)

const (
	pointsComplementaryRole = 50
	pointsSameCity          = 30
	pointsOtherCity         = 5
	pointsHasSkills         = 10
)

// Profile is the public face of a wolf used for matching.
type Profile struct {
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Role   persistence.Role   `json:"role,omitempty"`
	City   string             `json:"city,omitempty"`
	Skills []string           `json:"skills,omitempty"`
	Bio    string             `json:"bio,omitempty"`
	IVP    int                `json:"ivp"`
	Rating persistence.Rating `json:"rating"`
}

// ProfileOf projects a stored user onto a Profile.
func ProfileOf(u *persistence.User) Profile {
	return Profile{
		ID:     u.ID,
		Name:   u.Name,
		Role:   u.Role,
		City:   u.City,
		Skills: append([]string(nil), u.Skills...),
		Bio:    u.Bio,
		IVP:    u.IVP,
		Rating: u.Rating,
	}
}

// Match is a ranked candidate.
type Match struct {
	Profile
	Score     int  `json:"score"`
	Mentor    bool `json:"mentor,omitempty"`
	Connected bool `json:"connected"`
}

// Options tunes Rank.
type Options struct {
	// Limit truncates the ranked list. The mentor is not counted. 0 means
	// no limit.
	Limit int
	// Connected holds IDs already in the requester's wolfpack.
	Connected map[string]bool
}

// Score rates candidate c for requester r: +50 for a different role, +30
// for the same city (+5 otherwise) and +10 when c lists any skills.
func Score(r, c Profile) int {
	score := 0
	if c.Role != r.Role {
		score += pointsComplementaryRole
	}
	if sameCity(r.City, c.City) {
		score += pointsSameCity
	} else {
		score += pointsOtherCity
	}
	if len(c.Skills) > 0 {
		score += pointsHasSkills
	}
	return score
}

func sameCity(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

// Rank scores candidates for the requester and sorts them by score
// descending, then name. The requester never matches itself. When the
// requester plays sales the mentor is prepended.
func Rank(requester Profile, candidates []Profile, mentor *Profile, opts Options) []Match {
	out := make([]Match, 0, len(candidates)+1)
	for _, c := range candidates {
		if c.ID == requester.ID || (mentor != nil && c.ID == mentor.ID) {
			continue
		}
		out = append(out, Match{
			Profile:   c,
			Score:     Score(requester, c),
			Connected: opts.Connected[c.ID],
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		ni, nj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if ni != nj {
			return ni < nj
		}
		return out[i].ID < out[j].ID
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}

	if mentor != nil && requester.Role == persistence.RoleSales {
		m := Match{
			Profile:   *mentor,
			Score:     Score(requester, *mentor),
			Mentor:    true,
			Connected: opts.Connected[mentor.ID],
		}
		out = append([]Match{m}, out...)
	}
	return out
}
