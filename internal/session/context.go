package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vk/treepump/internal/ctxlog"
	"github.com/vk/treepump/internal/endpoint"
	"github.com/vk/treepump/internal/metrics"
	"github.com/vk/treepump/internal/model"
)

// Side names one of the two endpoints.
type Side string

const (
	Source      Side = "source"
	Destination Side = "destination"
)

// Mode is the identity a Context is currently logged in as.
type Mode int

const (
	Disconnected Mode = iota
	Elevated
	Impersonated
)

func (m Mode) String() string {
	switch m {
	case Elevated:
		return "elevated"
	case Impersonated:
		return "impersonated"
	default:
		return "disconnected"
	}
}

// LoginError reports which endpoint refused a login.
type LoginError struct {
	Side Side
	Err  error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("%s login failed: %v", e.Side, e.Err)
}

func (e *LoginError) Unwrap() error { return e.Err }

// Endpoint is everything needed to reach and log into one side.
type Endpoint struct {
	Dialer      endpoint.Dialer
	Credentials endpoint.Credentials
	// LocalZone is the zone impersonated identities are presented in.
	LocalZone string
	// Root is the migrated subtree on this side.
	Root string
}

// Options configures a Context. The same value is shared by every runner.
type Options struct {
	Source      Endpoint
	Destination Endpoint

	// LoginAttempts bounds dial retries; authentication rejections are never retried.
	LoginAttempts int
	RetryInterval time.Duration
	Metrics       *metrics.Recorder
}

// Context is the execution context of one runner. It is not safe for
// concurrent use.
type Context struct {
	opts   Options
	src    endpoint.Session
	dst    endpoint.Session
	mode   Mode
	client model.Identity
}

// New creates a disconnected Context.
func New(opts Options) *Context {
	if opts.LoginAttempts < 1 {
		opts.LoginAttempts = 1
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 200 * time.Millisecond
	}
	return &Context{opts: opts}
}

// Source returns the source session. It is nil while disconnected.
func (c *Context) Source() endpoint.Session { return c.src }

// Destination returns the destination session. It is nil while disconnected.
func (c *Context) Destination() endpoint.Session { return c.dst }

// Mode returns the current identity mode.
func (c *Context) Mode() Mode { return c.mode }

// Impersonating reports whether the context acts on behalf of an object owner.
func (c *Context) Impersonating() bool { return c.mode == Impersonated }

// Client returns the impersonated identity, or the zero Identity.
func (c *Context) Client() model.Identity { return c.client }

// Elevated returns the service identity used for privileged work.
func (c *Context) Elevated() model.Identity {
	return c.opts.Source.Credentials.Identity()
}

// AdminOn returns the service identity as known on one side.
func (c *Context) AdminOn(side Side) model.Identity {
	if side == Destination {
		return c.opts.Destination.Credentials.Identity()
	}
	return c.opts.Source.Credentials.Identity()
}

// LoginElevated authenticates both sides with the service credentials. It
// is a no-op when already logged in that way.
func (c *Context) LoginElevated(ctx context.Context) error {
	if c.mode == Elevated {
		return nil
	}
	c.Disconnect()

	err := c.login(ctx, model.Identity{}, model.Identity{})
	c.opts.Metrics.ObserveLogin(Elevated.String(), err)
	if err != nil {
		return err
	}
	c.mode = Elevated
	ctxlog.FromContext(ctx).Debug("Logged in as elevated identity.", "identity", c.Elevated())
	return nil
}

// LoginImpersonated authenticates both sides on behalf of id, presenting id
// in each side's local zone. It is a no-op when already impersonating id.
func (c *Context) LoginImpersonated(ctx context.Context, id model.Identity) error {
	if c.mode == Impersonated && c.client == id {
		return nil
	}
	c.Disconnect()

	err := c.login(ctx, id.InZone(c.opts.Source.LocalZone), id.InZone(c.opts.Destination.LocalZone))
	c.opts.Metrics.ObserveLogin(Impersonated.String(), err)
	if err != nil {
		return err
	}
	c.mode = Impersonated
	c.client = id
	ctxlog.FromContext(ctx).Debug("Logged in on behalf of owner.", "identity", id)
	return nil
}

func (c *Context) login(ctx context.Context, srcClient, dstClient model.Identity) error {
	src, err := c.connect(ctx, c.opts.Source, srcClient)
	if err != nil {
		return &LoginError{Side: Source, Err: err}
	}
	dst, err := c.connect(ctx, c.opts.Destination, dstClient)
	if err != nil {
		_ = src.Close()
		return &LoginError{Side: Destination, Err: err}
	}
	c.src, c.dst = src, dst
	return nil
}

// connect dials with exponential backoff and authenticates once the
// connection is up.
func (c *Context) connect(ctx context.Context, ep Endpoint, client model.Identity) (endpoint.Session, error) {
	var sess endpoint.Session
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.RetryInterval

	operation := func() error {
		s, err := ep.Dialer.Dial(ctx)
		if err != nil {
			return err
		}
		if err := s.Authenticate(ctx, ep.Credentials, client); err != nil {
			_ = s.Close()
			if errors.Is(err, endpoint.ErrAuthentication) {
				return backoff.Permanent(err)
			}
			return err
		}
		sess = s
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.opts.LoginAttempts-1)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return sess, nil
}

// DestinationPath maps a source path onto the destination tree by
// replacing the source root prefix with the destination root.
func (c *Context) DestinationPath(sourcePath string) string {
	return MapPath(sourcePath, c.opts.Source.Root, c.opts.Destination.Root)
}

// MapPath replaces the srcRoot prefix of p with dstRoot.
func MapPath(p, srcRoot, dstRoot string) string {
	return dstRoot + strings.TrimPrefix(p, srcRoot)
}

// Disconnect closes both sessions, ignoring errors. It is safe to call at any time.
func (c *Context) Disconnect() {
	if c.src != nil {
		_ = c.src.Close()
		c.src = nil
	}
	if c.dst != nil {
		_ = c.dst.Close()
		c.dst = nil
	}
	c.mode = Disconnected
	c.client = model.Identity{}
}
