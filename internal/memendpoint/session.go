package memendpoint

import (
	"bytes"
	"context"
	"fmt"

	"github.com/vk/treepump/internal/endpoint"
	"github.com/vk/treepump/internal/model"
)

// conn is one session onto a Server.
type conn struct {
	srv    *Server
	authed bool
	closed bool
	user   model.Identity
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
	s := c.srv
	s.mu.RLock()
	defer s.mu.RUnlock()

	proxy := creds.Identity()
	u, ok := s.users[proxy]
	if !ok || u.password != creds.Password {
		return fmt.Errorf("%w: bad credentials for %s", endpoint.ErrAuthentication, proxy)
	}
	switch creds.AuthScheme {
	case "", "native", "pam":
	default:
		return fmt.Errorf("%w: unsupported auth scheme %q", endpoint.ErrAuthentication, creds.AuthScheme)
	}

	acting := proxy
	if !client.IsZero() && client != proxy {
		if !u.admin {
			return fmt.Errorf("%w: %s may not act as proxy", endpoint.ErrAuthentication, proxy)
		}
		if _, ok := s.users[client]; !ok {
			return fmt.Errorf("%w: unknown client user %s", endpoint.ErrAuthentication, client)
		}
		acting = client
	}
	if err, ok := s.failLogins[acting]; ok {
		return err
	}

	c.authed = true
	c.user = proxy
	c.acting = acting
	s.logins.Add(1)
	return nil
}

func (c *conn) Acting() model.Identity { return c.acting }

func (c *conn) LocalZone(ctx context.Context) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	return c.srv.zone, nil
}

func (c *conn) UserExists(ctx context.Context, id model.Identity) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	c.srv.mu.RLock()
	defer c.srv.mu.RUnlock()
	_, ok := c.srv.users[id]
	return ok, nil
}

func (c *conn) IsAdmin(ctx context.Context, id model.Identity) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	c.srv.mu.RLock()
	defer c.srv.mu.RUnlock()
	u, ok := c.srv.users[id]
	return ok && u.admin, nil
}

func (c *conn) CheckAccess(ctx context.Context, id model.Identity, path string, level model.AccessLevel) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	c.srv.mu.RLock()
	defer c.srv.mu.RUnlock()
	if _, ok := c.srv.objects[path]; !ok {
		return false, fmt.Errorf("check access %s: %w", path, endpoint.ErrNotFound)
	}
	return c.srv.allowedLocked(id, path, level), nil
}

func (c *conn) SetAccess(ctx context.Context, path string, id model.Identity, level model.AccessLevel, recursive bool) error {
	if err := c.ready(); err != nil {
		return err
	}
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[path]; !ok {
		return fmt.Errorf("set access %s: %w", path, endpoint.ErrNotFound)
	}
	if !s.allowedLocked(c.acting, path, model.AccessOwn) {
		return fmt.Errorf("set access %s: %w", path, endpoint.ErrPermission)
	}
	targets := []string{path}
	if recursive {
		targets = s.subtreeLocked(path)
	}
	for _, p := range targets {
		if level == model.AccessNone {
			delete(s.objects[p].acl, id)
			continue
		}
		s.objects[p].acl[id] = level
	}
	return nil
}

func (c *conn) Stat(ctx context.Context, path string) (model.Stat, error) {
	if err := c.ready(); err != nil {
		return model.Stat{}, err
	}
	c.srv.mu.RLock()
	defer c.srv.mu.RUnlock()
	obj, ok := c.srv.objects[path]
	if !ok {
		return model.Stat{}, fmt.Errorf("stat %s: %w", path, endpoint.ErrNotFound)
	}
	return model.Stat{Kind: obj.kind, Size: int64(len(obj.data)), Owner: obj.owner}, nil
}

// createLocked adds a new object below an existing collection the acting
// identity may write to.
func (c *conn) createLocked(path string, kind model.Kind) (*object, error) {
	s := c.srv
	if _, ok := s.objects[path]; ok {
		return nil, fmt.Errorf("create %s: %w", path, endpoint.ErrAlreadyExists)
	}
	parent, ok := s.objects[model.Parent(path)]
	if !ok {
		return nil, fmt.Errorf("create %s: parent: %w", path, endpoint.ErrNotFound)
	}
	if parent.kind != model.KindCollection {
		return nil, fmt.Errorf("create %s: parent: %w", path, endpoint.ErrNotCollection)
	}
	if !s.allowedLocked(c.acting, model.Parent(path), model.AccessWrite) {
		return nil, fmt.Errorf("create %s: %w", path, endpoint.ErrPermission)
	}
	obj := newObject(kind, c.acting)
	s.objects[path] = obj
	return obj, nil
}

func (c *conn) CreateCollection(ctx context.Context, path string) error {
	if err := c.ready(); err != nil {
		return err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	_, err := c.createLocked(path, model.KindCollection)
	return err
}

func (c *conn) Unlink(ctx context.Context, path string) error {
	if err := c.ready(); err != nil {
		return err
	}
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[path]
	if !ok {
		return fmt.Errorf("unlink %s: %w", path, endpoint.ErrNotFound)
	}
	if obj.kind != model.KindItem {
		return fmt.Errorf("unlink %s: not a data item", path)
	}
	if !s.allowedLocked(c.acting, path, model.AccessOwn) && !s.allowedLocked(c.acting, model.Parent(path), model.AccessWrite) {
		return fmt.Errorf("unlink %s: %w", path, endpoint.ErrPermission)
	}
	delete(s.objects, path)
	return nil
}

func (c *conn) Metadata(ctx context.Context, path string) ([]model.AVU, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	c.srv.mu.RLock()
	defer c.srv.mu.RUnlock()
	obj, ok := c.srv.objects[path]
	if !ok {
		return nil, fmt.Errorf("metadata %s: %w", path, endpoint.ErrNotFound)
	}
	if !c.srv.allowedLocked(c.acting, path, model.AccessRead) {
		return nil, fmt.Errorf("metadata %s: %w", path, endpoint.ErrPermission)
	}
	return append([]model.AVU(nil), obj.avus...), nil
}

func (c *conn) writableLocked(op, path string) (*object, error) {
	obj, ok := c.srv.objects[path]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", op, path, endpoint.ErrNotFound)
	}
	if !c.srv.allowedLocked(c.acting, path, model.AccessWrite) {
		return nil, fmt.Errorf("%s %s: %w", op, path, endpoint.ErrPermission)
	}
	return obj, nil
}

func (c *conn) AddMetadata(ctx context.Context, path string, avu model.AVU) error {
	if err := c.ready(); err != nil {
		return err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	obj, err := c.writableLocked("add metadata", path)
	if err != nil {
		return err
	}
	for _, have := range obj.avus {
		if have == avu {
			return &endpoint.ProtocolError{Op: "add metadata", Path: path, Code: endpoint.CodeAlreadyPresent}
		}
	}
	obj.avus = append(obj.avus, avu)
	return nil
}

func (c *conn) SetMetadata(ctx context.Context, path string, avu model.AVU) error {
	if err := c.ready(); err != nil {
		return err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	obj, err := c.writableLocked("set metadata", path)
	if err != nil {
		return err
	}
	kept := obj.avus[:0]
	for _, have := range obj.avus {
		if have.Attribute != avu.Attribute {
			kept = append(kept, have)
		}
	}
	obj.avus = append(kept, avu)
	return nil
}

func (c *conn) SearchMetadata(ctx context.Context, root, attribute string) ([]endpoint.MetadataHit, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	c.srv.mu.RLock()
	defer c.srv.mu.RUnlock()
	var hits []endpoint.MetadataHit
	for _, p := range c.srv.subtreeLocked(root) {
		for _, avu := range c.srv.objects[p].avus {
			if avu.Attribute == attribute {
				hits = append(hits, endpoint.MetadataHit{Path: p, Value: avu.Value})
			}
		}
	}
	return hits, nil
}

func (c *conn) Enumerate(ctx context.Context, root string) ([]model.Object, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	c.srv.mu.RLock()
	defer c.srv.mu.RUnlock()
	if _, ok := c.srv.objects[root]; !ok {
		return nil, fmt.Errorf("enumerate %s: %w", root, endpoint.ErrNotFound)
	}
	var colls, items []model.Object
	for _, p := range c.srv.subtreeLocked(root) {
		if p == root {
			continue
		}
		obj := c.srv.objects[p]
		entry := model.Object{Path: p, Kind: obj.kind, Owner: obj.owner, Size: int64(len(obj.data))}
		if obj.kind == model.KindCollection {
			colls = append(colls, entry)
		} else {
			items = append(items, entry)
		}
	}
	return append(colls, items...), nil
}

func (c *conn) Open(ctx context.Context, path string) (endpoint.Reader, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	c.srv.mu.RLock()
	defer c.srv.mu.RUnlock()
	obj, ok := c.srv.objects[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, endpoint.ErrNotFound)
	}
	if obj.kind != model.KindItem {
		return nil, fmt.Errorf("open %s: not a data item", path)
	}
	if !c.srv.allowedLocked(c.acting, path, model.AccessRead) {
		return nil, fmt.Errorf("open %s: %w", path, endpoint.ErrPermission)
	}
	return &reader{Reader: bytes.NewReader(append([]byte(nil), obj.data...))}, nil
}

func (c *conn) Create(ctx context.Context, path string) (endpoint.Writer, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if _, err := c.createLocked(path, model.KindItem); err != nil {
		return nil, err
	}
	limit, faulty := c.srv.failWrites[path]
	if faulty {
		delete(c.srv.failWrites, path)
	} else {
		limit = -1
	}
	return &writer{srv: c.srv, path: path, limit: limit}, nil
}

func (c *conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.authed = false
	c.srv.open.Add(-1)
	return nil
}

type reader struct {
	*bytes.Reader
}

func (r *reader) Close() error { return nil }

type writer struct {
	srv   *Server
	path  string
	limit int64
}

func (w *writer) WriteAt(p []byte, off int64) (int, error) {
	w.srv.mu.Lock()
	defer w.srv.mu.Unlock()
	obj, ok := w.srv.objects[w.path]
	if !ok {
		return 0, fmt.Errorf("write %s: %w", w.path, endpoint.ErrNotFound)
	}
	n := int64(len(p))
	var err error
	if w.limit >= 0 && off+n > w.limit {
		n = max(w.limit-off, 0)
		err = fmt.Errorf("write %s at %d: %w", w.path, off+n, ErrConnectionReset)
	}
	if end := off + n; end > int64(len(obj.data)) {
		obj.data = append(obj.data, make([]byte, end-int64(len(obj.data)))...)
	}
	copy(obj.data[off:off+n], p[:n])
	return int(n), err
}

func (w *writer) Close() error { return nil }
