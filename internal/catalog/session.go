package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/vk/treepump/internal/endpoint"
	"github.com/vk/treepump/internal/model"
)

// conn is one session onto a Catalog. Rows are always drained before the
// next query: a sqlite catalog has a single connection.
type conn struct {
	cat    *Catalog
	authed bool
	closed bool
	acting model.Identity
}

var _ endpoint.Session = (*conn)(nil)

func (c *conn) ready() error {
	if c.closed {
		return endpoint.ErrClosed
	}
	if !c.authed {
		return fmt.Errorf("%w: session not authenticated", endpoint.ErrAuthentication)
	}
	return nil
}

func (c *conn) Authenticate(ctx context.Context, creds endpoint.Credentials, client model.Identity) error {
	if c.closed {
		return endpoint.ErrClosed
	}
	switch creds.AuthScheme {
	case "", "native", "pam":
	default:
		return fmt.Errorf("%w: unsupported auth scheme %q", endpoint.ErrAuthentication, creds.AuthScheme)
	}

	proxy := creds.Identity()
	var password string
	var admin int
	err := c.cat.db.QueryRowContext(ctx,
		`SELECT password, admin FROM users WHERE name = $1 AND zone = $2`,
		proxy.Name, proxy.Zone).Scan(&password, &admin)
	switch {
	case errors.Is(err, sql.ErrNoRows), err == nil && password != creds.Password:
		return fmt.Errorf("%w: bad credentials for %s", endpoint.ErrAuthentication, proxy)
	case err != nil:
		return fmt.Errorf("authenticate %s: %w", proxy, err)
	}

	acting := proxy
	if !client.IsZero() && client != proxy {
		if admin == 0 {
			return fmt.Errorf("%w: %s may not act as proxy", endpoint.ErrAuthentication, proxy)
		}
		ok, err := c.userExists(ctx, client)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: unknown client user %s", endpoint.ErrAuthentication, client)
		}
		acting = client
	}

	c.authed = true
	c.acting = acting
	return nil
}

func (c *conn) Acting() model.Identity { return c.acting }

func (c *conn) LocalZone(ctx context.Context) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	var zone string
	err := c.cat.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = $1`, settingZone).Scan(&zone)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.New("local zone is not configured in the catalog")
	}
	return zone, err
}

func (c *conn) userExists(ctx context.Context, id model.Identity) (bool, error) {
	var one int
	err := c.cat.db.QueryRowContext(ctx,
		`SELECT 1 FROM users WHERE name = $1 AND zone = $2`, id.Name, id.Zone).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (c *conn) UserExists(ctx context.Context, id model.Identity) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	return c.userExists(ctx, id)
}

func (c *conn) IsAdmin(ctx context.Context, id model.Identity) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	return c.isAdmin(ctx, id)
}

func (c *conn) isAdmin(ctx context.Context, id model.Identity) (bool, error) {
	var admin int
	err := c.cat.db.QueryRowContext(ctx,
		`SELECT admin FROM users WHERE name = $1 AND zone = $2`, id.Name, id.Zone).Scan(&admin)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return admin != 0, err
}

// allowed reports whether id may act on path at level. Administrators pass
// every check.
func (c *conn) allowed(ctx context.Context, id model.Identity, path string, level model.AccessLevel) (bool, error) {
	if admin, err := c.isAdmin(ctx, id); err != nil || admin {
		return admin, err
	}
	var have int
	err := c.cat.db.QueryRowContext(ctx,
		`SELECT level FROM acls WHERE path = $1 AND user_name = $2 AND user_zone = $3`,
		path, id.Name, id.Zone).Scan(&have)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return model.AccessLevel(have).Allows(level), err
}

// require fails with ErrPermission unless the acting identity passes the check.
func (c *conn) require(ctx context.Context, op, path string, level model.AccessLevel) error {
	ok, err := c.allowed(ctx, c.acting, path, level)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
	if !ok {
		return fmt.Errorf("%s %s: %w", op, path, endpoint.ErrPermission)
	}
	return nil
}

type row struct {
	kind  model.Kind
	owner model.Identity
	size  int64
	file  string
}

func (c *conn) lookup(ctx context.Context, op, path string) (row, error) {
	var r row
	var kind string
	err := c.cat.db.QueryRowContext(ctx,
		`SELECT kind, owner_name, owner_zone, size, data_file FROM objects WHERE path = $1`, path).
		Scan(&kind, &r.owner.Name, &r.owner.Zone, &r.size, &r.file)
	if err != nil {
		return row{}, notFound(op, path, err)
	}
	r.kind, err = model.ParseKind(kind)
	return r, err
}

func (c *conn) CheckAccess(ctx context.Context, id model.Identity, path string, level model.AccessLevel) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	if _, err := c.lookup(ctx, "check access", path); err != nil {
		return false, err
	}
	return c.allowed(ctx, id, path, level)
}

func (c *conn) SetAccess(ctx context.Context, path string, id model.Identity, level model.AccessLevel, recursive bool) error {
	if err := c.ready(); err != nil {
		return err
	}
	if _, err := c.lookup(ctx, "set access", path); err != nil {
		return err
	}
	if err := c.require(ctx, "set access", path, model.AccessOwn); err != nil {
		return err
	}

	targets := []string{path}
	if recursive {
		objs, err := c.subtree(ctx, path)
		if err != nil {
			return err
		}
		targets = targets[:0]
		for _, o := range objs {
			targets = append(targets, o.Path)
		}
	}

	tx, err := c.cat.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set access %s: %w", path, err)
	}
	defer tx.Rollback()
	for _, p := range targets {
		if err := setACL(ctx, tx, p, id, level); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c *conn) Stat(ctx context.Context, path string) (model.Stat, error) {
	if err := c.ready(); err != nil {
		return model.Stat{}, err
	}
	r, err := c.lookup(ctx, "stat", path)
	if err != nil {
		return model.Stat{}, err
	}
	return model.Stat{Kind: r.kind, Size: r.size, Owner: r.owner}, nil
}

// checkCreate verifies that path is free and its parent is a collection the
// acting identity may write to.
func (c *conn) checkCreate(ctx context.Context, path string) error {
	if _, err := c.lookup(ctx, "create", path); err == nil {
		return fmt.Errorf("create %s: %w", path, endpoint.ErrAlreadyExists)
	} else if !errors.Is(err, endpoint.ErrNotFound) {
		return err
	}
	parent, err := c.lookup(ctx, "create", model.Parent(path))
	if err != nil {
		return fmt.Errorf("create %s: parent: %w", path, err)
	}
	if parent.kind != model.KindCollection {
		return fmt.Errorf("create %s: parent: %w", path, endpoint.ErrNotCollection)
	}
	return c.require(ctx, "create", model.Parent(path), model.AccessWrite)
}

func (c *conn) CreateCollection(ctx context.Context, path string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := c.checkCreate(ctx, path); err != nil {
		return err
	}
	return c.cat.insertObject(ctx, c.cat.db, path, model.KindCollection, c.acting, "")
}

func (c *conn) Unlink(ctx context.Context, path string) error {
	if err := c.ready(); err != nil {
		return err
	}
	r, err := c.lookup(ctx, "unlink", path)
	if err != nil {
		return err
	}
	if r.kind != model.KindItem {
		return fmt.Errorf("unlink %s: not a data item", path)
	}
	if err := c.require(ctx, "unlink", path, model.AccessOwn); err != nil {
		if perr := c.require(ctx, "unlink", model.Parent(path), model.AccessWrite); perr != nil {
			return err
		}
	}

	tx, err := c.cat.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unlink %s: %w", path, err)
	}
	defer tx.Rollback()
	for _, stmt := range []string{
		`DELETE FROM avus WHERE path = $1`,
		`DELETE FROM acls WHERE path = $1`,
		`DELETE FROM objects WHERE path = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, path); err != nil {
			return fmt.Errorf("unlink %s: %w", path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("unlink %s: %w", path, err)
	}
	if r.file != "" {
		if err := os.Remove(c.cat.dataPath(r.file)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("unlink %s: remove content: %w", path, err)
		}
	}
	return nil
}

func (c *conn) Metadata(ctx context.Context, path string) ([]model.AVU, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if _, err := c.lookup(ctx, "metadata", path); err != nil {
		return nil, err
	}
	if err := c.require(ctx, "metadata", path, model.AccessRead); err != nil {
		return nil, err
	}

	rows, err := c.cat.db.QueryContext(ctx,
		`SELECT attribute, value, unit FROM avus WHERE path = $1 ORDER BY attribute, value, unit`, path)
	if err != nil {
		return nil, fmt.Errorf("metadata %s: %w", path, err)
	}
	defer rows.Close()
	var avus []model.AVU
	for rows.Next() {
		var avu model.AVU
		if err := rows.Scan(&avu.Attribute, &avu.Value, &avu.Unit); err != nil {
			return nil, fmt.Errorf("metadata %s: %w", path, err)
		}
		avus = append(avus, avu)
	}
	return avus, rows.Err()
}

func (c *conn) writable(ctx context.Context, op, path string) error {
	if _, err := c.lookup(ctx, op, path); err != nil {
		return err
	}
	return c.require(ctx, op, path, model.AccessWrite)
}

func (c *conn) AddMetadata(ctx context.Context, path string, avu model.AVU) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := c.writable(ctx, "add metadata", path); err != nil {
		return err
	}
	added, err := insertAVU(ctx, c.cat.db, path, avu)
	if err != nil {
		return err
	}
	if !added {
		return &endpoint.ProtocolError{Op: "add metadata", Path: path, Code: endpoint.CodeAlreadyPresent}
	}
	return nil
}

func (c *conn) SetMetadata(ctx context.Context, path string, avu model.AVU) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := c.writable(ctx, "set metadata", path); err != nil {
		return err
	}

	tx, err := c.cat.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", path, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM avus WHERE path = $1 AND attribute = $2`, path, avu.Attribute); err != nil {
		return fmt.Errorf("set metadata %s: %w", path, err)
	}
	if _, err := insertAVU(ctx, tx, path, avu); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *conn) SearchMetadata(ctx context.Context, root, attribute string) ([]endpoint.MetadataHit, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	exact, pattern := subtreeFilter(root)
	rows, err := c.cat.db.QueryContext(ctx,
		`SELECT path, value FROM avus
		 WHERE attribute = $1 AND (path = $2 OR path LIKE $3 ESCAPE '\')
		 ORDER BY path, value`,
		attribute, exact, pattern)
	if err != nil {
		return nil, fmt.Errorf("search metadata %s: %w", root, err)
	}
	defer rows.Close()
	var hits []endpoint.MetadataHit
	for rows.Next() {
		var hit endpoint.MetadataHit
		if err := rows.Scan(&hit.Path, &hit.Value); err != nil {
			return nil, fmt.Errorf("search metadata %s: %w", root, err)
		}
		if model.Within(hit.Path, root) {
			hits = append(hits, hit)
		}
	}
	return hits, rows.Err()
}

// subtree lists root and every object below it, ordered by path.
func (c *conn) subtree(ctx context.Context, root string) ([]model.Object, error) {
	exact, pattern := subtreeFilter(root)
	rows, err := c.cat.db.QueryContext(ctx,
		`SELECT path, kind, owner_name, owner_zone, size FROM objects
		 WHERE path = $1 OR path LIKE $2 ESCAPE '\'
		 ORDER BY path`,
		exact, pattern)
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", root, err)
	}
	defer rows.Close()
	var objs []model.Object
	for rows.Next() {
		var o model.Object
		var kind string
		if err := rows.Scan(&o.Path, &kind, &o.Owner.Name, &o.Owner.Zone, &o.Size); err != nil {
			return nil, fmt.Errorf("enumerate %s: %w", root, err)
		}
		if o.Kind, err = model.ParseKind(kind); err != nil {
			return nil, fmt.Errorf("enumerate %s: %w", root, err)
		}
		if model.Within(o.Path, root) {
			objs = append(objs, o)
		}
	}
	return objs, rows.Err()
}

func (c *conn) Enumerate(ctx context.Context, root string) ([]model.Object, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if _, err := c.lookup(ctx, "enumerate", root); err != nil {
		return nil, err
	}
	objs, err := c.subtree(ctx, root)
	if err != nil {
		return nil, err
	}
	var colls, items []model.Object
	for _, o := range objs {
		switch {
		case o.Path == root:
		case o.IsCollection():
			colls = append(colls, o)
		default:
			items = append(items, o)
		}
	}
	return append(colls, items...), nil
}

func (c *conn) Open(ctx context.Context, path string) (endpoint.Reader, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	r, err := c.lookup(ctx, "open", path)
	if err != nil {
		return nil, err
	}
	if r.kind != model.KindItem {
		return nil, fmt.Errorf("open %s: not a data item", path)
	}
	if err := c.require(ctx, "open", path, model.AccessRead); err != nil {
		return nil, err
	}
	return c.cat.openContent(path, r.file)
}

func (c *conn) Create(ctx context.Context, path string) (endpoint.Writer, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if err := c.checkCreate(ctx, path); err != nil {
		return nil, err
	}
	file := newDataFile()
	w, err := c.cat.createContent(ctx, path, file)
	if err != nil {
		return nil, err
	}
	if err := c.cat.insertObject(ctx, c.cat.db, path, model.KindItem, c.acting, file); err != nil {
		w.discard()
		return nil, err
	}
	return w, nil
}

func (c *conn) Close() error {
	c.closed = true
	c.authed = false
	return nil
}
