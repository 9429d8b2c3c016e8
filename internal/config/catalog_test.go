package config_test

import (
	"os"
	"strings"
	"testing"

	"github.com/basket/wolfpack/internal/config"
	"github.com/basket/wolfpack/internal/persistence"
)

func TestDefaultCatalog_Valid(t *testing.T) {
	cat := config.DefaultCatalog()
	if err := config.ValidateCatalog(cat); err != nil {
		t.Fatalf("default catalog invalid: %v", err)
	}
	if len(cat.Cards) != 3 {
		t.Fatalf("expected 3 role cards, got %d", len(cat.Cards))
	}
	card, ok := cat.Card("card-sales")
	if !ok || card.Role != persistence.RoleSales || card.Stat != persistence.StatConnect {
		t.Fatalf("unexpected sales card: %+v ok=%v", card, ok)
	}
	if cat.Mentor.ID != config.MentorID || cat.Mentor.Role != persistence.RoleSales {
		t.Fatalf("unexpected mentor: %+v", cat.Mentor)
	}
	if cat.Version == "" {
		t.Fatalf("expected catalog version")
	}
}

func TestLoadCatalog_MissingFileUsesDefaults(t *testing.T) {
	cat, err := config.LoadCatalog(t.TempDir())
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if cat.Version != config.DefaultCatalog().Version {
		t.Fatalf("expected default catalog version")
	}
}

func TestLoadCatalog_OverrideReplacesSections(t *testing.T) {
	home := t.TempDir()
	body := `
products:
  - id: prod-beans
    name: Whole Beans
    pitch: Beans by the bag.
    price: 15
candidates:
  - id: wolf-zed
    name: Zed
    role: finance
    city: Boston
`
	if err := os.WriteFile(config.CatalogPath(home), []byte(body), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cat, err := config.LoadCatalog(home)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if len(cat.Products) != 1 || cat.Products[0].ID != "prod-beans" {
		t.Fatalf("expected product override, got %+v", cat.Products)
	}
	if len(cat.Candidates) != 1 || cat.Candidates[0].ID != "wolf-zed" {
		t.Fatalf("expected candidate override, got %+v", cat.Candidates)
	}
	if len(cat.Cards) != 3 {
		t.Fatalf("expected default cards kept, got %d", len(cat.Cards))
	}
	if cat.Version == config.DefaultCatalog().Version {
		t.Fatalf("expected version to change with override")
	}
}

func TestLoadCatalog_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown role", "cards:\n  - id: c1\n    role: pirate\n", "unknown role"},
		{"duplicate id", "products:\n  - id: task-1\n    name: x\n", "duplicate id"},
		{"reserved mentor id", "candidates:\n  - id: mentor\n    role: sales\n", "reserved"},
		{"negative budget", "tasks:\n  - id: t1\n    title: x\n    budget: -1\n", "negative budget"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			home := t.TempDir()
			if err := os.WriteFile(config.CatalogPath(home), []byte(tc.body), 0o644); err != nil {
				t.Fatalf("write catalog: %v", err)
			}
			_, err := config.LoadCatalog(home)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCatalogHolder_ReloadKeepsCurrentOnError(t *testing.T) {
	home := t.TempDir()
	holder := config.NewCatalogHolder(home, config.DefaultCatalog())
	before := holder.Get().Version

	if err := os.WriteFile(config.CatalogPath(home), []byte("cards: [oops\n"), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if _, err := holder.Reload(); err == nil {
		t.Fatalf("expected reload error")
	}
	if holder.Get().Version != before {
		t.Fatalf("expected catalog to be kept after failed reload")
	}

	if err := os.WriteFile(config.CatalogPath(home), []byte("products:\n  - id: p9\n    name: Nine\n"), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cat, err := holder.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := holder.Get().Product("p9"); !ok || cat.Version == before {
		t.Fatalf("expected reloaded catalog to be active")
	}
}
