package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/basket/wolfpack/internal/persistence"
)

// MentorID is the fixed ID of the catalog mentor profile.
const MentorID = "mentor"

// Card is a role card a player picks during onboarding.
type Card struct {
	ID      string           `yaml:"id" json:"id"`
	Role    persistence.Role `yaml:"role" json:"role"`
	Title   string           `yaml:"title" json:"title"`
	Tagline string           `yaml:"tagline" json:"tagline"`
	Stat    persistence.Stat `yaml:"-" json:"stat"`
}

// Product is a startup pitch tied to a storefront product.
type Product struct {
	ID    string  `yaml:"id" json:"id"`
	Name  string  `yaml:"name" json:"name"`
	Pitch string  `yaml:"pitch" json:"pitch"`
	Price float64 `yaml:"price" json:"price"`
}

// TaskTemplate provisions one task on every new member's board.
type TaskTemplate struct {
	ID           string           `yaml:"id"`
	Title        string           `yaml:"title"`
	Role         persistence.Role `yaml:"role"`
	Method       string           `yaml:"method"`
	Budget       float64          `yaml:"budget"`
	DeadlineDays int              `yaml:"deadline_days"`
}

// Candidate is a seeded matchmaking profile.
type Candidate struct {
	ID     string           `yaml:"id"`
	Name   string           `yaml:"name"`
	Role   persistence.Role `yaml:"role"`
	City   string           `yaml:"city"`
	Skills []string         `yaml:"skills"`
	Bio    string           `yaml:"bio"`
}

type Catalog struct {
	Cards      []Card         `yaml:"cards"`
	Products   []Product      `yaml:"products"`
	Tasks      []TaskTemplate `yaml:"tasks"`
	Candidates []Candidate    `yaml:"candidates"`
	Mentor     Candidate      `yaml:"mentor"`

	Version string `yaml:"-"`
}

// CatalogPath returns the path to catalog.yaml within the given home directory.
func CatalogPath(homeDir string) string {
	return filepath.Join(homeDir, "catalog.yaml")
}

// Card returns the card with the given ID.
func (c *Catalog) Card(id string) (Card, bool) {
	for _, card := range c.Cards {
		if card.ID == id {
			return card, true
		}
	}
	return Card{}, false
}

// Product returns the product with the given ID.
func (c *Catalog) Product(id string) (Product, bool) {
	for _, p := range c.Products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() Catalog {
	cat := Catalog{
		Cards: []Card{
			{ID: "card-labor", Role: persistence.RoleLabor, Title: "The Builder", Tagline: "Roasts, packs and ships. Turns plans into product."},
			{ID: "card-finance", Role: persistence.RoleFinance, Title: "The Treasurer", Tagline: "Finds the money and makes every bean count."},
			{ID: "card-sales", Role: persistence.RoleSales, Title: "The Hustler", Tagline: "Opens doors, lands accounts, grows the pack."},
		},
		Products: []Product{
			{ID: "prod-cold-brew", Name: "Cold Brew Subscription", Pitch: "Weekly cold brew drops for remote teams.", Price: 29},
			{ID: "prod-espresso-cart", Name: "Espresso Cart", Pitch: "A pop-up espresso bar for farmers markets.", Price: 1200},
			{ID: "prod-roast-lab", Name: "Micro Roast Lab", Pitch: "Single-origin microlots roasted to order.", Price: 18},
		},
		Tasks: []TaskTemplate{
			{ID: "task-1", Title: "Source green beans", Role: persistence.RoleLabor, Method: "supplier calls", Budget: 300, DeadlineDays: 7},
			{ID: "task-2", Title: "Dial in the first roast", Role: persistence.RoleLabor, Method: "test batches", Budget: 120, DeadlineDays: 10},
			{ID: "task-3", Title: "Build the launch budget", Role: persistence.RoleFinance, Method: "spreadsheet", Budget: 0, DeadlineDays: 5},
			{ID: "task-4", Title: "Pitch a seed investor", Role: persistence.RoleFinance, Method: "deck", Budget: 50, DeadlineDays: 14},
			{ID: "task-5", Title: "Land three cafe accounts", Role: persistence.RoleSales, Method: "cold outreach", Budget: 80, DeadlineDays: 14},
			{ID: "task-6", Title: "Run a tasting event", Role: persistence.RoleSales, Method: "event", Budget: 200, DeadlineDays: 21},
		},
		Candidates: []Candidate{
			{ID: "wolf-ana", Name: "Ana Ruiz", Role: persistence.RoleLabor, City: "Austin", Skills: []string{"roasting", "logistics"}, Bio: "Ex-barista turned roaster."},
			{ID: "wolf-ben", Name: "Ben Okafor", Role: persistence.RoleFinance, City: "Chicago", Skills: []string{"modeling", "fundraising"}, Bio: "Spreadsheets are a love language."},
			{ID: "wolf-cleo", Name: "Cleo Park", Role: persistence.RoleSales, City: "Austin", Skills: []string{"wholesale"}, Bio: "Has sold coffee to every cafe on 6th Street."},
			{ID: "wolf-dev", Name: "Dev Patel", Role: persistence.RoleLabor, City: "Seattle", Bio: "Builds espresso carts from scratch."},
			{ID: "wolf-eli", Name: "Eli Novak", Role: persistence.RoleFinance, City: "Austin", Bio: "Bookkeeper for three food trucks."},
			{ID: "wolf-fay", Name: "Fay Chen", Role: persistence.RoleSales, City: "Portland", Skills: []string{"events", "social"}, Bio: "Runs the city's biggest latte art throwdown."},
		},
		Mentor: Candidate{
			ID:     MentorID,
			Name:   "Alpha Mentor",
			Role:   persistence.RoleSales,
			City:   "Remote",
			Skills: []string{"coaching", "enterprise sales"},
			Bio:    "Twenty years of closing deals. Here to help you land your first.",
		},
	}
	finishCatalog(&cat)
	return cat
}

// LoadCatalog returns the built-in catalog overlaid with catalog.yaml from
// homeDir. Each non-empty section in the file replaces the built-in one.
func LoadCatalog(homeDir string) (Catalog, error) {
	cat := DefaultCatalog()
	data, err := os.ReadFile(CatalogPath(homeDir))
	if err != nil {
		if os.IsNotExist(err) {
			return cat, nil
		}
		return cat, fmt.Errorf("read catalog.yaml: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return cat, nil
	}

	var override Catalog
	if err := yaml.Unmarshal(data, &override); err != nil {
		return cat, fmt.Errorf("parse catalog.yaml: %w", err)
	}
	if len(override.Cards) > 0 {
		cat.Cards = override.Cards
	}
	if len(override.Products) > 0 {
		cat.Products = override.Products
	}
	if len(override.Tasks) > 0 {
		cat.Tasks = override.Tasks
	}
	if len(override.Candidates) > 0 {
		cat.Candidates = override.Candidates
	}
	if override.Mentor.Name != "" {
		cat.Mentor = override.Mentor
	}
	finishCatalog(&cat)
	if err := ValidateCatalog(cat); err != nil {
		return DefaultCatalog(), err
	}
	return cat, nil
}

// ValidateCatalog checks IDs are present and unique and roles are known.
func ValidateCatalog(cat Catalog) error {
	if len(cat.Cards) == 0 {
		return fmt.Errorf("catalog: no cards")
	}
	if len(cat.Tasks) == 0 {
		return fmt.Errorf("catalog: no task templates")
	}
	seen := make(map[string]string)
	check := func(kind, id string, role persistence.Role, needRole bool) error {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("catalog: %s with empty id", kind)
		}
		if prev, ok := seen[id]; ok {
			return fmt.Errorf("catalog: duplicate id %q (%s and %s)", id, prev, kind)
		}
		seen[id] = kind
		if needRole && !role.IsValid() {
			return fmt.Errorf("catalog: %s %q has unknown role %q", kind, id, role)
		}
		return nil
	}
	for _, c := range cat.Cards {
		if err := check("card", c.ID, c.Role, true); err != nil {
			return err
		}
	}
	for _, p := range cat.Products {
		if err := check("product", p.ID, "", false); err != nil {
			return err
		}
	}
	for _, t := range cat.Tasks {
		if err := check("task", t.ID, t.Role, t.Role != ""); err != nil {
			return err
		}
		if t.Budget < 0 {
			return fmt.Errorf("catalog: task %q has negative budget", t.ID)
		}
	}
	for _, c := range cat.Candidates {
		if c.ID == MentorID {
			return fmt.Errorf("catalog: candidate id %q is reserved", MentorID)
		}
		if err := check("candidate", c.ID, c.Role, true); err != nil {
			return err
		}
	}
	if cat.Mentor.ID != MentorID {
		return fmt.Errorf("catalog: mentor id must be %q", MentorID)
	}
	return nil
}

func finishCatalog(cat *Catalog) {
	for i := range cat.Cards {
		cat.Cards[i].Stat = persistence.StatForRole(cat.Cards[i].Role)
	}
	if cat.Mentor.ID == "" {
		cat.Mentor.ID = MentorID
	}
	if cat.Mentor.Role == "" {
		cat.Mentor.Role = persistence.RoleSales
	}
	h := fnv.New64a()
	out, _ := yaml.Marshal(cat)
	_, _ = h.Write(out)
	cat.Version = fmt.Sprintf("cat-%x", h.Sum64())
}

// CatalogHolder serves the active catalog and swaps it on reload.
type CatalogHolder struct {
	homeDir string
	current atomic.Pointer[Catalog]
}

func NewCatalogHolder(homeDir string, initial Catalog) *CatalogHolder {
	h := &CatalogHolder{homeDir: homeDir}
	h.current.Store(&initial)
	return h
}

// Get returns the active catalog. Callers must not mutate it.
func (h *CatalogHolder) Get() *Catalog {
	return h.current.Load()
}

// Reload re-reads catalog.yaml. On error the active catalog is kept.
func (h *CatalogHolder) Reload() (*Catalog, error) {
	cat, err := LoadCatalog(h.homeDir)
	if err != nil {
		return h.Get(), err
	}
	h.current.Store(&cat)
	return &cat, nil
}
