package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/treepump/internal/ctxlog"
	"github.com/vk/treepump/internal/endpoint"
	"github.com/vk/treepump/internal/memendpoint"
	"github.com/vk/treepump/internal/model"
)

type fixture struct {
	src, dst *memendpoint.Server
	owner    model.Identity
	opts     Options
}

func newFixture() *fixture {
	src := memendpoint.New("srcZone")
	dst := memendpoint.New("dstZone")
	src.AddUser("rods", "s3cret", true)
	dst.AddUser("rods", "d3cret", true)
	owner := src.AddUser("alice", "", false)
	dst.AddUser("alice", "", false)

	return &fixture{
		src:   src,
		dst:   dst,
		owner: owner,
		opts: Options{
			Source: Endpoint{
				Dialer:      src,
				Credentials: endpoint.Credentials{Username: "rods", Zone: "srcZone", Password: "s3cret"},
				LocalZone:   "srcZone",
				Root:        "/srcZone/home/research-a",
			},
			Destination: Endpoint{
				Dialer:      dst,
				Credentials: endpoint.Credentials{Username: "rods", Zone: "dstZone", Password: "d3cret"},
				LocalZone:   "dstZone",
				Root:        "/dstZone/home/research-a",
			},
			LoginAttempts: 3,
			RetryInterval: 1,
		},
	}
}

func testContext() context.Context {
	return ctxlog.Discard(context.Background())
}

func TestLoginElevated_Idempotent(t *testing.T) {
	// --- Arrange ---
	f := newFixture()
	c := New(f.opts)
	ctx := testContext()

	// --- Act ---
	require.NoError(t, c.LoginElevated(ctx))
	require.NoError(t, c.LoginElevated(ctx))

	// --- Assert ---
	assert.Equal(t, Elevated, c.Mode())
	assert.Equal(t, int64(1), f.src.Dials(), "second login must reuse the open session")
	assert.Equal(t, int64(1), f.dst.Dials())
	assert.Equal(t, model.NewIdentity("rods", "srcZone"), c.Source().Acting())
	assert.Equal(t, model.NewIdentity("rods", "dstZone"), c.AdminOn(Destination))
}

func TestLoginImpersonated_TranslatesZoneAndSwitches(t *testing.T) {
	// --- Arrange ---
	f := newFixture()
	c := New(f.opts)
	ctx := testContext()

	// --- Act & Assert ---
	require.NoError(t, c.LoginImpersonated(ctx, f.owner))
	assert.True(t, c.Impersonating())
	assert.Equal(t, f.owner, c.Client())
	assert.Equal(t, model.NewIdentity("alice", "dstZone"), c.Destination().Acting())

	require.NoError(t, c.LoginImpersonated(ctx, f.owner))
	assert.Equal(t, int64(1), f.dst.Dials())

	require.NoError(t, c.LoginElevated(ctx))
	assert.Equal(t, int64(2), f.dst.Dials(), "switching mode must reconnect")
	assert.Equal(t, int64(1), f.dst.OpenSessions(), "old session must be closed")
	assert.True(t, c.Client().IsZero())
}

func TestLogin_Failures(t *testing.T) {
	t.Run("destination rejects the owner", func(t *testing.T) {
		f := newFixture()
		f.dst.FailLogin(model.NewIdentity("alice", "dstZone"))
		c := New(f.opts)

		err := c.LoginImpersonated(testContext(), f.owner)

		var lerr *LoginError
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, Destination, lerr.Side)
		assert.ErrorIs(t, err, endpoint.ErrAuthentication)
		assert.Equal(t, Disconnected, c.Mode())
		assert.Equal(t, int64(0), f.src.OpenSessions(), "source session must be torn down")
	})

	t.Run("transient dial failures are retried", func(t *testing.T) {
		f := newFixture()
		f.src.FailDials(2)
		c := New(f.opts)

		require.NoError(t, c.LoginElevated(testContext()))
		assert.Equal(t, Elevated, c.Mode())
	})

	t.Run("dial failures beyond the attempt budget", func(t *testing.T) {
		f := newFixture()
		f.src.FailDials(5)
		c := New(f.opts)

		err := c.LoginElevated(testContext())

		var lerr *LoginError
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, Source, lerr.Side)
		assert.ErrorIs(t, err, memendpoint.ErrConnectionReset)
	})
}

func TestDestinationPath(t *testing.T) {
	f := newFixture()
	c := New(f.opts)

	assert.Equal(t, "/dstZone/home/research-a", c.DestinationPath("/srcZone/home/research-a"))
	assert.Equal(t, "/dstZone/home/research-a/sub/f.txt", c.DestinationPath("/srcZone/home/research-a/sub/f.txt"))
	assert.Equal(t, "/dst/coll/item", MapPath("/src/parent/item", "/src/parent", "/dst/coll"))
}

func TestDisconnect_Idempotent(t *testing.T) {
	f := newFixture()
	c := New(f.opts)
	require.NoError(t, c.LoginElevated(testContext()))

	c.Disconnect()
	c.Disconnect()

	assert.Nil(t, c.Source())
	assert.Nil(t, c.Destination())
	assert.Equal(t, int64(0), f.src.OpenSessions())
	assert.Equal(t, int64(0), f.dst.OpenSessions())
}
