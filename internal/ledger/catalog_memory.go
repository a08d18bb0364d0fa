package ledger

import "context"

// InMemoryCatalog is a fixed-map CategoryCatalog, used in tests and local
// dry runs where no Postgres categories table is available.
type InMemoryCatalog struct {
	entries map[string]CategoryEntry
}

// NewInMemoryCatalog builds a catalog from a fixed entry list.
func NewInMemoryCatalog(entries []CategoryEntry) *InMemoryCatalog {
	byName := make(map[string]CategoryEntry, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
	}
	return &InMemoryCatalog{entries: byName}
}

func (c *InMemoryCatalog) Lookup(_ context.Context, name string) (CategoryEntry, bool, error) {
	e, ok := c.entries[name]
	return e, ok, nil
}
