package memendpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/treepump/internal/endpoint"
	"github.com/vk/treepump/internal/model"
)

func login(t *testing.T, s *Server, creds endpoint.Credentials, client model.Identity) endpoint.Session {
	t.Helper()
	sess, err := s.Dial(context.Background())
	require.NoError(t, err)
	require.NoError(t, sess.Authenticate(context.Background(), creds, client))
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestAuthenticate(t *testing.T) {
	s := New("srcZone")
	admin := s.AddUser("rods", "secret", true)
	alice := s.AddUser("alice", "pw", false)
	ctx := context.Background()

	testCases := []struct {
		name      string
		creds     endpoint.Credentials
		client    model.Identity
		expectErr bool
		acting    model.Identity
	}{
		{name: "admin", creds: endpoint.Credentials{Username: "rods", Zone: "srcZone", Password: "secret"}, acting: admin},
		{name: "proxy for client", creds: endpoint.Credentials{Username: "rods", Zone: "srcZone", Password: "secret"}, client: alice, acting: alice},
		{name: "error - wrong password", creds: endpoint.Credentials{Username: "rods", Zone: "srcZone", Password: "nope"}, expectErr: true},
		{name: "error - non admin proxy", creds: endpoint.Credentials{Username: "alice", Zone: "srcZone", Password: "pw"}, client: admin, expectErr: true},
		{name: "error - unknown client", creds: endpoint.Credentials{Username: "rods", Zone: "srcZone", Password: "secret"}, client: model.NewIdentity("bob", "srcZone"), expectErr: true},
		{name: "error - unknown scheme", creds: endpoint.Credentials{Username: "rods", Zone: "srcZone", Password: "secret", AuthScheme: "gsi"}, expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sess, err := s.Dial(ctx)
			require.NoError(t, err)
			defer sess.Close()

			err = sess.Authenticate(ctx, tc.creds, tc.client)
			if tc.expectErr {
				require.ErrorIs(t, err, endpoint.ErrAuthentication)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.acting, sess.Acting())
		})
	}
}

func TestCreateCollection_RequiresWriteOnParent(t *testing.T) {
	// --- Arrange ---
	s := New("z")
	admin := s.AddUser("rods", "secret", true)
	alice := s.AddUser("alice", "pw", false)
	s.MkColl("/z/home/research-a", admin)
	ctx := context.Background()
	creds := endpoint.Credentials{Username: "rods", Zone: "z", Password: "secret"}
	asAlice := login(t, s, creds, alice)

	// --- Act ---
	denied := asAlice.CreateCollection(ctx, "/z/home/research-a/sub")
	s.Grant("/z/home/research-a", alice, model.AccessWrite)
	allowed := asAlice.CreateCollection(ctx, "/z/home/research-a/sub")
	again := asAlice.CreateCollection(ctx, "/z/home/research-a/sub")

	// --- Assert ---
	require.ErrorIs(t, denied, endpoint.ErrPermission)
	require.NoError(t, allowed)
	require.ErrorIs(t, again, endpoint.ErrAlreadyExists)
	assert.Equal(t, alice, s.OwnerOf("/z/home/research-a/sub"))
	assert.Equal(t, model.AccessOwn, s.AccessOf("/z/home/research-a/sub", alice))
}

func TestMetadata_AddDuplicateAndSet(t *testing.T) {
	s := New("z")
	admin := s.AddUser("rods", "secret", true)
	s.MkColl("/z/home/a", admin)
	sess := login(t, s, endpoint.Credentials{Username: "rods", Zone: "z", Password: "secret"}, model.Identity{})
	ctx := context.Background()

	avu := model.AVU{Attribute: "usr_title", Value: "x"}
	require.NoError(t, sess.AddMetadata(ctx, "/z/home/a", avu))
	err := sess.AddMetadata(ctx, "/z/home/a", avu)
	assert.True(t, endpoint.HasCode(err, endpoint.CodeAlreadyPresent))

	require.NoError(t, sess.SetMetadata(ctx, "/z/home/a", model.AVU{Attribute: "org_status", Value: "SUBMITTED"}))
	require.NoError(t, sess.SetMetadata(ctx, "/z/home/a", model.AVU{Attribute: "org_status", Value: "SECURED"}))
	assert.ElementsMatch(t, []model.AVU{avu, {Attribute: "org_status", Value: "SECURED"}}, s.AVUs("/z/home/a"))

	hits, err := sess.SearchMetadata(ctx, "/z/home", "org_status")
	require.NoError(t, err)
	assert.Equal(t, []endpoint.MetadataHit{{Path: "/z/home/a", Value: "SECURED"}}, hits)
}

func TestEnumerate_CollectionsFirst(t *testing.T) {
	s := New("z")
	admin := s.AddUser("rods", "secret", true)
	s.Put("/z/home/a/b/file2", admin, []byte("22"))
	s.Put("/z/home/a/file1", admin, []byte("1"))
	sess := login(t, s, endpoint.Credentials{Username: "rods", Zone: "z", Password: "secret"}, model.Identity{})

	objs, err := sess.Enumerate(context.Background(), "/z/home/a")
	require.NoError(t, err)

	var paths []string
	for _, o := range objs {
		paths = append(paths, o.Path)
	}
	assert.Equal(t, []string{"/z/home/a/b", "/z/home/a/b/file2", "/z/home/a/file1"}, paths)
	assert.Equal(t, int64(2), objs[1].Size)
	assert.Equal(t, model.KindItem, objs[1].Kind)
}

func TestWriter_InjectedFailureLeavesPartialItem(t *testing.T) {
	s := New("z")
	admin := s.AddUser("rods", "secret", true)
	s.MkColl("/z/home/a", admin)
	s.FailWriteAfter("/z/home/a/f", 4)
	sess := login(t, s, endpoint.Credentials{Username: "rods", Zone: "z", Password: "secret"}, model.Identity{})

	w, err := sess.Create(context.Background(), "/z/home/a/f")
	require.NoError(t, err)
	n, err := w.WriteAt([]byte("0123456789"), 0)

	require.ErrorIs(t, err, ErrConnectionReset)
	assert.Equal(t, 4, n)
	data, ok := s.Content("/z/home/a/f")
	require.True(t, ok)
	assert.Equal(t, []byte("0123"), data)
}

func TestDial_FaultsAndCounters(t *testing.T) {
	s := New("z")
	s.FailDials(1)
	ctx := context.Background()

	_, err := s.Dial(ctx)
	require.ErrorIs(t, err, ErrConnectionReset)

	sess, err := s.Dial(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.OpenSessions())
	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	assert.Equal(t, int64(0), s.OpenSessions())
	assert.Equal(t, int64(1), s.Dials())
}
