package root

import (
	"context"
	"errors"
	"testing"

	"github.com/JackDrogon/sekas/errs"
	"github.com/JackDrogon/sekas/protocol"
	"github.com/stretchr/testify/require"
)

func admin(t *testing.T, r *Root, req *protocol.AdminRequest) *protocol.AdminResponse {
	t.Helper()
	resp, err := r.Admin(context.Background(), req)
	require.NoError(t, err)
	return resp
}

func TestDatabaseLifecycle(t *testing.T) {
	r := newTestRoot(t)
	bootstrap(t, r)

	created := admin(t, r, &protocol.AdminRequest{CreateDatabase: &protocol.CreateDatabaseRequest{Name: "orders"}})
	require.NotNil(t, created.Database)
	require.NotZero(t, created.Database.ID)

	// Duplicate name is rejected.
	_, err := r.Admin(context.Background(), &protocol.AdminRequest{CreateDatabase: &protocol.CreateDatabaseRequest{Name: "orders"}})
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	got := admin(t, r, &protocol.AdminRequest{GetDatabase: &protocol.GetDatabaseRequest{Name: "orders"}})
	require.Equal(t, created.Database.ID, got.Database.ID)

	admin(t, r, &protocol.AdminRequest{CreateDatabase: &protocol.CreateDatabaseRequest{Name: "users"}})
	list := admin(t, r, &protocol.AdminRequest{ListDatabases: &protocol.ListDatabasesRequest{}})
	require.Len(t, list.Databases, 2)

	deleted := admin(t, r, &protocol.AdminRequest{DeleteDatabase: &protocol.DeleteDatabaseRequest{Name: "orders"}})
	require.True(t, deleted.Deleted)
	_, err = r.Admin(context.Background(), &protocol.AdminRequest{GetDatabase: &protocol.GetDatabaseRequest{Name: "orders"}})
	require.ErrorIs(t, err, errs.ErrDatabaseNotFound)
}

func TestCollectionLifecycle(t *testing.T) {
	r := newTestRoot(t)
	bootstrap(t, r)
	admin(t, r, &protocol.AdminRequest{CreateDatabase: &protocol.CreateDatabaseRequest{Name: "orders"}})

	created := admin(t, r, &protocol.AdminRequest{CreateCollection: &protocol.CreateCollectionRequest{Database: "orders", Name: "items"}})
	require.NotNil(t, created.Collection)
	require.NotZero(t, created.Collection.ID)

	_, err := r.Admin(context.Background(), &protocol.AdminRequest{CreateCollection: &protocol.CreateCollectionRequest{Database: "orders", Name: "items"}})
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	// Same collection name under another database is fine.
	admin(t, r, &protocol.AdminRequest{CreateDatabase: &protocol.CreateDatabaseRequest{Name: "users"}})
	admin(t, r, &protocol.AdminRequest{CreateCollection: &protocol.CreateCollectionRequest{Database: "users", Name: "items"}})

	list := admin(t, r, &protocol.AdminRequest{ListCollections: &protocol.ListCollectionsRequest{Database: "orders"}})
	require.Len(t, list.Collections, 1)

	deleted := admin(t, r, &protocol.AdminRequest{DeleteCollection: &protocol.DeleteCollectionRequest{Database: "orders", Name: "items"}})
	require.True(t, deleted.Deleted)
	_, err = r.Admin(context.Background(), &protocol.AdminRequest{GetCollection: &protocol.GetCollectionRequest{Database: "orders", Name: "items"}})
	require.ErrorIs(t, err, errs.ErrCollectionNotFound)
}

func TestDeleteDatabaseRemovesItsCollections(t *testing.T) {
	r := newTestRoot(t)
	bootstrap(t, r)
	admin(t, r, &protocol.AdminRequest{CreateDatabase: &protocol.CreateDatabaseRequest{Name: "orders"}})
	admin(t, r, &protocol.AdminRequest{CreateCollection: &protocol.CreateCollectionRequest{Database: "orders", Name: "items"}})
	admin(t, r, &protocol.AdminRequest{CreateCollection: &protocol.CreateCollectionRequest{Database: "orders", Name: "refunds"}})

	admin(t, r, &protocol.AdminRequest{DeleteDatabase: &protocol.DeleteDatabaseRequest{Name: "orders"}})

	// Recreating the database starts empty; old collections are gone.
	admin(t, r, &protocol.AdminRequest{CreateDatabase: &protocol.CreateDatabaseRequest{Name: "orders"}})
	list := admin(t, r, &protocol.AdminRequest{ListCollections: &protocol.ListCollectionsRequest{Database: "orders"}})
	require.Empty(t, list.Collections)
}

func TestCollectionRequiresDatabase(t *testing.T) {
	r := newTestRoot(t)
	bootstrap(t, r)
	_, err := r.Admin(context.Background(), &protocol.AdminRequest{
		CreateCollection: &protocol.CreateCollectionRequest{Database: "missing", Name: "items"},
	})
	if !errors.Is(err, errs.ErrDatabaseNotFound) {
		t.Fatalf("err = %v, want ErrDatabaseNotFound", err)
	}
}

func TestAdminRejectsEmptyRequest(t *testing.T) {
	r := newTestRoot(t)
	bootstrap(t, r)
	_, err := r.Admin(context.Background(), &protocol.AdminRequest{})
	if !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}
