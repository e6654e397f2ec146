package agent

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/logging"
)

// Catalog persists descriptors so scripted capabilities survive restarts.
// A nil *Catalog is valid and means memory-only operation: every method
// degrades to a no-op or ErrNoCatalog instead of panicking.
type Catalog struct {
	db *sql.DB
}

const catalogSchema = `
CREATE TABLE IF NOT EXISTS agents (
	name             TEXT PRIMARY KEY,
	description      TEXT,
	dependencies     TEXT,
	execution_target TEXT,
	requires_store   INTEGER DEFAULT 0,
	store_kind       TEXT,
	source           TEXT,
	bootstrap_source TEXT,
	schema           TEXT,
	config           TEXT,
	secrets          TEXT,
	metadata         TEXT,
	version          TEXT,
	created_at       DATETIME,
	updated_at       DATETIME
);
`

// OpenCatalog opens (creating if needed) the descriptor database at path.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := sql.Open(catalogDriver, path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open agent catalog: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(catalogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize agent catalog schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Upsert writes or replaces the descriptor row keyed by name.
func (c *Catalog) Upsert(d *Descriptor) error {
	if c == nil {
		return nil
	}
	deps, _ := json.Marshal(d.Dependencies)
	schema, _ := json.Marshal(d.Schema)
	cfg, _ := json.Marshal(d.Config)
	secrets, _ := json.Marshal(d.Secrets)
	meta, _ := json.Marshal(d.Metadata)

	now := time.Now().UTC()
	created := d.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := c.db.Exec(`
		INSERT INTO agents
			(name, description, dependencies, execution_target, requires_store,
			 store_kind, source, bootstrap_source, schema, config, secrets,
			 metadata, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description      = excluded.description,
			dependencies     = excluded.dependencies,
			execution_target = excluded.execution_target,
			requires_store   = excluded.requires_store,
			store_kind       = excluded.store_kind,
			source           = excluded.source,
			bootstrap_source = excluded.bootstrap_source,
			schema           = excluded.schema,
			config           = excluded.config,
			secrets          = excluded.secrets,
			metadata         = excluded.metadata,
			version          = excluded.version,
			updated_at       = excluded.updated_at`,
		d.Name, d.Description, string(deps), d.ExecutionTarget, boolToInt(d.RequiresStore),
		d.StoreKind, d.Source, d.BootstrapSource, string(schema), string(cfg), string(secrets),
		string(meta), d.Version, created, now)
	if err != nil {
		return fmt.Errorf("failed to upsert agent %s: %w", d.Name, err)
	}
	return nil
}

// Get loads one descriptor by name. Returns ErrNotFound when absent and
// ErrNoCatalog in memory-only mode.
func (c *Catalog) Get(name string) (*Descriptor, error) {
	if c == nil {
		return nil, ErrNoCatalog
	}
	row := c.db.QueryRow(`
		SELECT name, description, dependencies, execution_target, requires_store,
		       store_kind, source, bootstrap_source, schema, config, secrets,
		       metadata, version, created_at, updated_at
		FROM agents WHERE name = ?`, name)
	d, err := scanDescriptor(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent %s: %w", name, err)
	}
	return d, nil
}

// List returns every persisted descriptor, ordered by name.
func (c *Catalog) List() ([]*Descriptor, error) {
	if c == nil {
		return nil, nil
	}
	rows, err := c.db.Query(`
		SELECT name, description, dependencies, execution_target, requires_store,
		       store_kind, source, bootstrap_source, schema, config, secrets,
		       metadata, version, created_at, updated_at
		FROM agents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var out []*Descriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			logging.Get(logging.CategoryAgents).Warnw("skipping unreadable catalog row", "error", err)
			continue
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Delete removes the descriptor row for name, if present.
func (c *Catalog) Delete(name string) error {
	if c == nil {
		return nil
	}
	if _, err := c.db.Exec(`DELETE FROM agents WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete agent %s: %w", name, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDescriptor(row rowScanner) (*Descriptor, error) {
	var (
		d                        Descriptor
		deps, cfg, secrets, meta sql.NullString
		desc, target, kind       sql.NullString
		source, bootSource, vers sql.NullString
		schema                   sql.NullString
		requiresStore            int
		createdAt, updatedAt     sql.NullTime
	)
	err := row.Scan(&d.Name, &desc, &deps, &target, &requiresStore,
		&kind, &source, &bootSource, &schema, &cfg, &secrets, &meta,
		&vers, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	d.Description = desc.String
	d.Dependencies = NormalizeDependencies(deps.String)
	d.ExecutionTarget = target.String
	d.RequiresStore = requiresStore != 0
	d.StoreKind = kind.String
	d.Source = source.String
	d.BootstrapSource = bootSource.String
	d.Version = vers.String
	if createdAt.Valid {
		d.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		d.UpdatedAt = updatedAt.Time
	}
	d.Schema = unmarshalMap(schema.String)
	d.Config = unmarshalMap(cfg.String)
	d.Secrets = unmarshalMap(secrets.String)
	d.Metadata = unmarshalMap(meta.String)
	return &d, nil
}

func unmarshalMap(s string) map[string]interface{} {
	if s == "" || s == "null" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
