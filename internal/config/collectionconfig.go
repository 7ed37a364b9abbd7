package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/oakbridge/recordsync/internal/source"
)

// CollectionConfig describes one collection the service collects: its
// identity, an optional fetch predicate, and the delivery trigger setting.
type CollectionConfig struct {
	ID        string                 `json:"id"`
	Predicate string                 `json:"predicate,omitempty"`
	PageSize  int                    `json:"page_size,omitempty"`
	Delivery  source.DeliverySetting `json:"delivery"`
}

// Catalog is the set of collections this deployment serves.
type Catalog struct {
	Collections []CollectionConfig `json:"collections"`
}

type catalogAuthorizer map[string]bool

func (a catalogAuthorizer) Authorized(collection string) bool { return a[collection] }

// Authorizer grants read access to exactly the cataloged collections.
func (c *Catalog) Authorizer() source.Authorizer {
	ids := make(catalogAuthorizer, len(c.Collections))
	for _, cc := range c.Collections {
		ids[cc.ID] = true
	}
	return ids
}

// LoadCatalog reads and validates a JSON collection catalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read collection config: %w", err)
	}

	var cat Catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse collection config: %w", err)
	}

	if len(cat.Collections) == 0 {
		return nil, fmt.Errorf("collection config: no collections defined")
	}

	seen := make(map[string]bool, len(cat.Collections))
	for i, c := range cat.Collections {
		if c.ID == "" {
			return nil, fmt.Errorf("collection config: entry #%d has empty id", i)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("collection config: duplicate collection %q", c.ID)
		}
		seen[c.ID] = true
		if c.PageSize < 0 {
			return nil, fmt.Errorf("collection config: %q has negative page_size", c.ID)
		}
		if c.Predicate != "" && !json.Valid([]byte(c.Predicate)) {
			return nil, fmt.Errorf("collection config: %q predicate is not valid JSON", c.ID)
		}
		if err := c.Delivery.Validate(); err != nil {
			return nil, fmt.Errorf("collection config: %q: %w", c.ID, err)
		}
	}

	return &cat, nil
}
