package endpoint

import (
	"context"
	"io"

	"github.com/vk/treepump/internal/model"
)

// Credentials authenticate a principal against one endpoint.
type Credentials struct {
	Username   string
	Zone       string
	Password   string
	AuthScheme string
}

// Identity returns the principal the credentials belong to.
func (c Credentials) Identity() model.Identity {
	return model.NewIdentity(c.Username, c.Zone)
}

// Dialer opens unauthenticated sessions against one endpoint.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// Reader reads the content of one data item.
type Reader interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Writer receives the content of one data item. Offsets may be written
// concurrently by different goroutines.
type Writer interface {
	io.WriterAt
	io.Closer
}

// MetadataHit is one match of a metadata search.
type MetadataHit struct {
	Path  string
	Value string
}

// Session is one authenticated connection. A Session is used by a single
// goroutine at a time.
type Session interface {
	// Authenticate binds the session to creds. When client is non-zero the
	// session acts on behalf of client, using creds as proxy.
	Authenticate(ctx context.Context, creds Credentials, client model.Identity) error
	// Acting returns the identity mutations are attributed to.
	Acting() model.Identity

	LocalZone(ctx context.Context) (string, error)
	UserExists(ctx context.Context, id model.Identity) (bool, error)
	IsAdmin(ctx context.Context, id model.Identity) (bool, error)

	CheckAccess(ctx context.Context, id model.Identity, path string, level model.AccessLevel) (bool, error)
	SetAccess(ctx context.Context, path string, id model.Identity, level model.AccessLevel, recursive bool) error

	Stat(ctx context.Context, path string) (model.Stat, error)
	CreateCollection(ctx context.Context, path string) error
	Unlink(ctx context.Context, path string) error

	Metadata(ctx context.Context, path string) ([]model.AVU, error)
	AddMetadata(ctx context.Context, path string, avu model.AVU) error
	SetMetadata(ctx context.Context, path string, avu model.AVU) error
	SearchMetadata(ctx context.Context, root, attribute string) ([]MetadataHit, error)

	// Enumerate lists every collection and item strictly below root,
	// collections first, each group ordered by path.
	Enumerate(ctx context.Context, root string) ([]model.Object, error)

	Open(ctx context.Context, path string) (Reader, error)
	// Create makes a new, empty data item owned by the acting identity.
	Create(ctx context.Context, path string) (Writer, error)

	Close() error
}
