package tenantdb

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

// Catalog is the set of known tenant-schema migration definitions. Names
// are the embedded file names without the .sql suffix, in sorted order;
// sorted order is execution order.
type Catalog struct {
	names  []string
	bodies map[string]string
}

// LoadCatalog reads the embedded tenant migration definitions.
func LoadCatalog() (*Catalog, error) {
	entries, err := fs.ReadDir(schemaFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migration catalog: %w", err)
	}

	c := &Catalog{bodies: make(map[string]string, len(entries))}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		body, err := fs.ReadFile(schemaFS, "migrations/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), ".sql")
		c.names = append(c.names, name)
		c.bodies[name] = string(body)
	}
	sort.Strings(c.names)
	return c, nil
}

// Names returns the known migration names in execution order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Apply executes one migration definition against the given handle. It does
// not touch the ledger; callers record separately.
func (c *Catalog) Apply(ctx context.Context, q Querier, name string) error {
	body, ok := c.bodies[name]
	if !ok {
		return fmt.Errorf("unknown migration %s", name)
	}
	if _, err := q.Exec(ctx, body); err != nil {
		return fmt.Errorf("apply migration %s: %w", name, err)
	}
	return nil
}
