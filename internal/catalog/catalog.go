// Package catalog holds the immutable status registry and its transition
// graph. A Catalog is built once at startup from config and injected into
// the engine; it is never mutated at request time.
package catalog

import (
	"fmt"
	"sort"

	"clientline/internal/config"
	"clientline/internal/domain"
)

// CompletedStatus is the completion target every non-terminal status must
// be able to reach.
const CompletedStatus = "COMPLETED"

// UnknownStatusCodeError indicates a code that is not registered in the
// catalog.
type UnknownStatusCodeError struct {
	Code string
}

func (e UnknownStatusCodeError) Error() string {
	return fmt.Sprintf("unknown status code %s", e.Code)
}

type Catalog struct {
	statuses      map[string]domain.StatusType
	ordered       []domain.StatusType
	edges         map[string][]string
	legacy        map[string]string
	initialStatus string
}

// New builds and validates a catalog. Beyond what config.Validate checks,
// this enforces the graph invariant: every status with outgoing edges must
// reach CompletedStatus.
func New(statuses []domain.StatusType, edges map[string][]string, legacy map[string]string, initialStatus string) (*Catalog, error) {
	c := &Catalog{
		statuses:      make(map[string]domain.StatusType, len(statuses)),
		edges:         make(map[string][]string, len(edges)),
		legacy:        make(map[string]string, len(legacy)),
		initialStatus: initialStatus,
	}
	for _, s := range statuses {
		if s.Code == "" {
			return nil, fmt.Errorf("catalog: empty status code")
		}
		if _, ok := c.statuses[s.Code]; ok {
			return nil, fmt.Errorf("catalog: duplicate status code %s", s.Code)
		}
		c.statuses[s.Code] = s
		c.ordered = append(c.ordered, s)
	}
	sort.Slice(c.ordered, func(i, j int) bool { return c.ordered[i].Order < c.ordered[j].Order })
	for from, tos := range edges {
		if _, ok := c.statuses[from]; !ok {
			return nil, fmt.Errorf("catalog: transition from unknown status %s", from)
		}
		for _, to := range tos {
			if _, ok := c.statuses[to]; !ok {
				return nil, fmt.Errorf("catalog: transition %s -> %s targets unknown status", from, to)
			}
			if to == from {
				return nil, fmt.Errorf("catalog: self-loop on %s", from)
			}
		}
		c.edges[from] = append([]string(nil), tos...)
	}
	for code := range c.statuses {
		mapped, ok := legacy[code]
		if !ok {
			return nil, fmt.Errorf("catalog: status %s has no legacy mapping", code)
		}
		c.legacy[code] = mapped
	}
	if initialStatus != "" {
		if _, ok := c.statuses[initialStatus]; !ok {
			return nil, fmt.Errorf("catalog: initial status %s not registered", initialStatus)
		}
	}
	if err := c.validateReachability(); err != nil {
		return nil, err
	}
	return c, nil
}

// FromConfig builds a catalog from the loaded configuration.
func FromConfig(cfg *config.Config) (*Catalog, error) {
	statuses := make([]domain.StatusType, 0, len(cfg.Catalog.Statuses))
	for _, s := range cfg.Catalog.Statuses {
		statuses = append(statuses, domain.StatusType{
			Code:                 s.Code,
			Name:                 s.Name,
			Description:          s.Description,
			Order:                s.Order,
			Category:             s.Category,
			ClientVisible:        s.ClientVisible,
			RequiresClientAction: s.RequiresClientAction,
			Color:                s.Color,
			Icon:                 s.Icon,
		})
	}
	edges := make(map[string][]string, len(cfg.Catalog.Transitions))
	for _, t := range cfg.Catalog.Transitions {
		edges[t.From] = append(edges[t.From], t.To...)
	}
	return New(statuses, edges, cfg.Catalog.LegacyStatus, cfg.Catalog.InitialStatus)
}

// validateReachability checks that every non-terminal status has a path to
// CompletedStatus. Statuses with no outgoing edges are terminal and exempt.
func (c *Catalog) validateReachability() error {
	for code := range c.statuses {
		if len(c.edges[code]) == 0 {
			continue
		}
		if code == CompletedStatus {
			continue
		}
		if !c.reaches(code, CompletedStatus) {
			return fmt.Errorf("catalog: no path from %s to %s", code, CompletedStatus)
		}
	}
	return nil
}

func (c *Catalog) reaches(from, target string) bool {
	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range c.edges[cur] {
			if next == target {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// Get returns the status definition for a code.
func (c *Catalog) Get(code string) (domain.StatusType, error) {
	s, ok := c.statuses[code]
	if !ok {
		return domain.StatusType{}, UnknownStatusCodeError{Code: code}
	}
	return s, nil
}

// ValidNext returns every status reachable by exactly one transition edge
// from the given code, in catalog order.
func (c *Catalog) ValidNext(code string) ([]domain.StatusType, error) {
	if _, ok := c.statuses[code]; !ok {
		return nil, UnknownStatusCodeError{Code: code}
	}
	next := make([]domain.StatusType, 0, len(c.edges[code]))
	for _, to := range c.edges[code] {
		next = append(next, c.statuses[to])
	}
	sort.Slice(next, func(i, j int) bool { return next[i].Order < next[j].Order })
	return next, nil
}

// CanTransition reports whether from -> to is a registered edge.
func (c *Catalog) CanTransition(from, to string) bool {
	for _, next := range c.edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// LegacyStatus returns the coarse status a catalog code collapses to. The
// mapping is total over registered codes; New rejects catalogs with gaps.
func (c *Catalog) LegacyStatus(code string) (string, error) {
	mapped, ok := c.legacy[code]
	if !ok {
		return "", UnknownStatusCodeError{Code: code}
	}
	return mapped, nil
}

// Statuses returns all status definitions sorted by display order.
func (c *Catalog) Statuses() []domain.StatusType {
	return append([]domain.StatusType(nil), c.ordered...)
}

// Edges returns the transition list for seeding, sorted for determinism.
func (c *Catalog) Edges() [][2]string {
	var out [][2]string
	for from, tos := range c.edges {
		for _, to := range tos {
			out = append(out, [2]string{from, to})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

// InitialStatus returns the configured default initial status.
func (c *Catalog) InitialStatus() string {
	if c.initialStatus == "" {
		return "SCOPING"
	}
	return c.initialStatus
}
