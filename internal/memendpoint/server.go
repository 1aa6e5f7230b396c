package memendpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/vk/treepump/internal/endpoint"
	"github.com/vk/treepump/internal/model"
)

// ErrConnectionReset is returned by injected dial and write faults.
var ErrConnectionReset = errors.New("connection reset by peer")

type user struct {
	password string
	admin    bool
}

type object struct {
	kind  model.Kind
	owner model.Identity
	data  []byte
	acl   map[model.Identity]model.AccessLevel
	avus  []model.AVU
}

// Server is an in-memory endpoint.
type Server struct {
	mu      sync.RWMutex
	zone    string
	users   map[model.Identity]*user
	objects map[string]*object

	failDials  int
	failLogins map[model.Identity]error
	failWrites map[string]int64

	dials  atomic.Int64
	open   atomic.Int64
	logins atomic.Int64
}

// New creates an empty endpoint whose local zone is zone. The zone
// collection `/zone` exists from the start.
func New(zone string) *Server {
	s := &Server{
		zone:       zone,
		users:      make(map[model.Identity]*user),
		objects:    make(map[string]*object),
		failLogins: make(map[model.Identity]error),
		failWrites: make(map[string]int64),
	}
	s.objects["/"] = &object{kind: model.KindCollection, acl: map[model.Identity]model.AccessLevel{}}
	s.objects["/"+zone] = &object{kind: model.KindCollection, acl: map[model.Identity]model.AccessLevel{}}
	return s
}

// Zone returns the endpoint's local zone.
func (s *Server) Zone() string { return s.zone }

// AddUser registers a user of the local zone.
func (s *Server) AddUser(name, password string, admin bool) model.Identity {
	return s.AddZoneUser(name, s.zone, password, admin)
}

// AddZoneUser registers a user of an arbitrary zone.
func (s *Server) AddZoneUser(name, zone, password string, admin bool) model.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := model.NewIdentity(name, zone)
	s.users[id] = &user{password: password, admin: admin}
	return id
}

// MkColl creates a collection and any missing ancestors, all owned by owner.
func (s *Server) MkColl(path string, owner model.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mkcollLocked(model.Clean(path), owner)
}

func (s *Server) mkcollLocked(path string, owner model.Identity) {
	if _, ok := s.objects[path]; ok || path == "/" {
		return
	}
	s.mkcollLocked(model.Parent(path), owner)
	s.objects[path] = newObject(model.KindCollection, owner)
}

// Put stores a data item (creating its parents) owned by owner.
func (s *Server) Put(path string, owner model.Identity, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path = model.Clean(path)
	s.mkcollLocked(model.Parent(path), owner)
	obj := newObject(model.KindItem, owner)
	obj.data = append([]byte(nil), data...)
	s.objects[path] = obj
}

// Grant sets the access level of id on path.
func (s *Server) Grant(path string, id model.Identity, level model.AccessLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.objects[model.Clean(path)]; ok {
		obj.acl[id] = level
	}
}

// AddAVU attaches metadata to path.
func (s *Server) AddAVU(path string, avus ...model.AVU) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.objects[model.Clean(path)]; ok {
		obj.avus = append(obj.avus, avus...)
	}
}

// FailDials makes the next n calls to Dial fail.
func (s *Server) FailDials(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDials = n
}

// FailLogin makes every authentication acting as id fail.
func (s *Server) FailLogin(id model.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLogins[id] = fmt.Errorf("%w: injected failure for %s", endpoint.ErrAuthentication, id)
}

// FailWriteAfter makes writes to path beyond offset n fail once.
func (s *Server) FailWriteAfter(path string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites[model.Clean(path)] = n
}

// Exists reports whether path is present.
func (s *Server) Exists(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[model.Clean(path)]
	return ok
}

// Content returns a copy of a data item's bytes.
func (s *Server) Content(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[model.Clean(path)]
	if !ok || obj.kind != model.KindItem {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// AVUs returns a copy of the metadata attached to path.
func (s *Server) AVUs(path string) []model.AVU {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[model.Clean(path)]
	if !ok {
		return nil
	}
	return append([]model.AVU(nil), obj.avus...)
}

// AccessOf returns the access level id holds on path.
func (s *Server) AccessOf(path string, id model.Identity) model.AccessLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[model.Clean(path)]
	if !ok {
		return model.AccessNone
	}
	return obj.acl[id]
}

// OwnerOf returns the owner of path.
func (s *Server) OwnerOf(path string) model.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if obj, ok := s.objects[model.Clean(path)]; ok {
		return obj.owner
	}
	return model.Identity{}
}

// Paths lists every object path below root, sorted.
func (s *Server) Paths(root string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for p := range s.objects {
		if p != root && model.Within(p, root) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Dials returns how many sessions were opened successfully.
func (s *Server) Dials() int64 { return s.dials.Load() }

// OpenSessions returns how many sessions are currently open.
func (s *Server) OpenSessions() int64 { return s.open.Load() }

// Logins returns how many authentications succeeded.
func (s *Server) Logins() int64 { return s.logins.Load() }

// Dial opens a new unauthenticated session.
func (s *Server) Dial(ctx context.Context) (endpoint.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.failDials > 0 {
		s.failDials--
		s.mu.Unlock()
		return nil, fmt.Errorf("dial %s: %w", s.zone, ErrConnectionReset)
	}
	s.mu.Unlock()

	s.dials.Add(1)
	s.open.Add(1)
	return &conn{srv: s}, nil
}

func newObject(kind model.Kind, owner model.Identity) *object {
	obj := &object{kind: kind, owner: owner, acl: make(map[model.Identity]model.AccessLevel)}
	if !owner.IsZero() {
		obj.acl[owner] = model.AccessOwn
	}
	return obj
}

// allowedLocked reports whether id may act on path at level.
func (s *Server) allowedLocked(id model.Identity, path string, level model.AccessLevel) bool {
	if u, ok := s.users[id]; ok && u.admin {
		return true
	}
	obj, ok := s.objects[path]
	if !ok {
		return false
	}
	return obj.acl[id].Allows(level)
}

func (s *Server) subtreeLocked(root string) []string {
	var out []string
	for p := range s.objects {
		if model.Within(p, root) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
