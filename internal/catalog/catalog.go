package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vk/treepump/internal/config"
	"github.com/vk/treepump/internal/endpoint"
	"github.com/vk/treepump/internal/model"
)

//go:embed schema.sql
var schemaSQL string

const settingZone = "zone"

// Catalog is one endpoint. It hands out sessions that share its pool.
type Catalog struct {
	db      *sql.DB
	driver  string
	dataDir string
}

var _ endpoint.Dialer = (*Catalog)(nil)

// Open connects to the catalog described by e, creating the schema and
// the data directory when missing.
func Open(ctx context.Context, e config.Endpoint) (*Catalog, error) {
	if err := os.MkdirAll(e.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open(e.Driver, e.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if e.Driver == config.DriverSQLite {
		// SQLite only supports one writer at a time.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Catalog{db: db, driver: e.Driver, dataDir: e.DataDir}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema: %w", err)
		}
	}
	return nil
}

// Close closes the pool. Sessions still open become unusable.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Dial opens a new unauthenticated session.
func (c *Catalog) Dial(ctx context.Context) (endpoint.Session, error) {
	if err := c.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("dial catalog: %w", err)
	}
	return &conn{cat: c}, nil
}

// SetZone records the local zone of the catalog.
func (c *Catalog) SetZone(ctx context.Context, zone string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO settings (name, value) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET value = excluded.value`,
		settingZone, zone)
	return err
}

// AddUser registers a user. An existing user gets the new password and role.
func (c *Catalog) AddUser(ctx context.Context, id model.Identity, password string, admin bool) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO users (name, zone, password, admin) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name, zone) DO UPDATE SET password = excluded.password, admin = excluded.admin`,
		id.Name, id.Zone, password, boolInt(admin))
	return err
}

// MkColl creates a collection and any missing ancestors, all owned by owner.
func (c *Catalog) MkColl(ctx context.Context, path string, owner model.Identity) error {
	path = model.Clean(path)
	if path == "/" {
		return c.insertObject(ctx, c.db, path, model.KindCollection, model.Identity{}, "")
	}
	if err := c.MkColl(ctx, model.Parent(path), owner); err != nil {
		return err
	}
	return c.insertObject(ctx, c.db, path, model.KindCollection, owner, "")
}

// Put stores a data item with the given content, creating its parents.
func (c *Catalog) Put(ctx context.Context, path string, owner model.Identity, data []byte) error {
	path = model.Clean(path)
	if err := c.MkColl(ctx, model.Parent(path), owner); err != nil {
		return err
	}
	file := newDataFile()
	if err := os.WriteFile(c.dataPath(file), data, 0o640); err != nil {
		return fmt.Errorf("write content of %s: %w", path, err)
	}
	if err := c.insertObject(ctx, c.db, path, model.KindItem, owner, file); err != nil {
		return err
	}
	_, err := c.db.ExecContext(ctx, `UPDATE objects SET size = $1 WHERE path = $2`, len(data), path)
	return err
}

// Grant sets the access level of id on path.
func (c *Catalog) Grant(ctx context.Context, path string, id model.Identity, level model.AccessLevel) error {
	return setACL(ctx, c.db, model.Clean(path), id, level)
}

// AddAVU attaches metadata to path. Duplicates are ignored.
func (c *Catalog) AddAVU(ctx context.Context, path string, avus ...model.AVU) error {
	for _, avu := range avus {
		if _, err := insertAVU(ctx, c.db, model.Clean(path), avu); err != nil {
			return err
		}
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertObject adds an object row and the owner's own entry. An existing
// path is left untouched.
func (c *Catalog) insertObject(ctx context.Context, db execer, path string, kind model.Kind, owner model.Identity, file string) error {
	res, err := db.ExecContext(ctx,
		`INSERT INTO objects (path, kind, owner_name, owner_zone, data_file) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (path) DO NOTHING`,
		path, kind.String(), owner.Name, owner.Zone, file)
	if err != nil {
		return fmt.Errorf("insert %s: %w", path, err)
	}
	if n, _ := res.RowsAffected(); n == 0 || owner.IsZero() {
		return nil
	}
	return setACL(ctx, db, path, owner, model.AccessOwn)
}

func setACL(ctx context.Context, db execer, path string, id model.Identity, level model.AccessLevel) error {
	var err error
	if level == model.AccessNone {
		_, err = db.ExecContext(ctx,
			`DELETE FROM acls WHERE path = $1 AND user_name = $2 AND user_zone = $3`,
			path, id.Name, id.Zone)
	} else {
		_, err = db.ExecContext(ctx,
			`INSERT INTO acls (path, user_name, user_zone, level) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (path, user_name, user_zone) DO UPDATE SET level = excluded.level`,
			path, id.Name, id.Zone, int(level))
	}
	if err != nil {
		return fmt.Errorf("set access %s on %s: %w", level, path, err)
	}
	return nil
}

// insertAVU reports whether the triple was new.
func insertAVU(ctx context.Context, db execer, path string, avu model.AVU) (bool, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO avus (path, attribute, value, unit) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (path, attribute, value, unit) DO NOTHING`,
		path, avu.Attribute, avu.Value, avu.Unit)
	if err != nil {
		return false, fmt.Errorf("add metadata %s on %s: %w", avu.Attribute, path, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// subtreeFilter matches root and everything below it. The LIKE pattern may
// over-match on case-insensitive backends, so callers also check model.Within.
func subtreeFilter(root string) (string, string) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(root)
	if root == "/" {
		return root, "/%"
	}
	return root, escaped + "/%"
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func notFound(op, path string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", op, path, endpoint.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}
