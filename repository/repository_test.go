package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/gabrielgits/crudrepo/cache"
	"github.com/gabrielgits/crudrepo/record"
	"github.com/gabrielgits/crudrepo/remote"
	"github.com/gabrielgits/crudrepo/store"
	"github.com/gabrielgits/crudrepo/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type user struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Age  int    `json:"age,omitempty"`
}

func (u user) RecordID() int64 { return u.ID }

func (u user) ToFields() (record.Fields, error) { return record.EncodeJSON(u) }

func newMemStore(t *testing.T) *memstore.Store {
	t.Helper()
	cfg := cache.DefaultConfig()
	cfg.Capacity = 100
	cfg.NumShards = 4
	s, err := memstore.Open(cfg)
	require.NoError(t, err)
	return s
}

type upserterStub struct {
	getErr  error
	created []user
	updated map[int64]record.Fields
}

func (s *upserterStub) GetByID(ctx context.Context, id int64) (user, error) {
	if s.getErr != nil {
		return user{}, s.getErr
	}
	return user{ID: id}, nil
}

func (s *upserterStub) Create(ctx context.Context, item user) (user, error) {
	s.created = append(s.created, item)
	return item, nil
}

func (s *upserterStub) Update(ctx context.Context, id int64, fields record.Fields) (user, error) {
	if s.updated == nil {
		s.updated = map[int64]record.Fields{}
	}
	s.updated[id] = fields
	return user{ID: id, Name: fields["name"].(string)}, nil
}

func TestReplace_UpdatesExisting(t *testing.T) {
	stub := &upserterStub{}

	got, err := Replace[user](context.Background(), stub, user{ID: 3, Name: "N"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ID)
	assert.Empty(t, stub.created)
	assert.Equal(t, "N", stub.updated[3]["name"])
}

func TestReplace_CreatesOnAnyLookupFailure(t *testing.T) {
	for _, getErr := range []error{
		&NotFoundError{Table: "users", ID: 3},
		errors.New("connection reset"),
	} {
		stub := &upserterStub{getErr: getErr}
		_, err := Replace[user](context.Background(), stub, user{ID: 3, Name: "N"})
		require.NoError(t, err)
		assert.Len(t, stub.created, 1)
		assert.Empty(t, stub.updated)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	nf := FromStore("get", "users", 5, store.ErrNotFound)
	assert.ErrorIs(t, nf, ErrNotFound)
	var nfe *NotFoundError
	require.ErrorAs(t, nf, &nfe)
	assert.Equal(t, int64(5), nfe.ID)

	disk := errors.New("disk full")
	se := FromStore("create", "users", 0, disk)
	var see *StoreError
	require.ErrorAs(t, se, &see)
	assert.ErrorIs(t, se, disk)
	assert.NotErrorIs(t, se, ErrNotFound)

	transport := &remote.TransportError{Method: "GET", URL: "http://x/users", Err: errors.New("refused")}
	te := FromRemote("list", "users", transport)
	assert.ErrorIs(t, te, ErrTransportUnavailable)
	assert.True(t, IsTransport(te))

	re := FromRemote("create", "users", &remote.Error{StatusCode: 200, Message: "boom"})
	var ree *RemoteError
	require.ErrorAs(t, re, &ree)
	assert.Equal(t, "boom", ree.Message)
	assert.False(t, IsTransport(re))
	assert.NotErrorIs(t, re, ErrNotFound)

	missing := FromRemote("get", "users", &remote.Error{StatusCode: 404, Message: "not found"})
	assert.ErrorIs(t, missing, ErrNotFound)

	assert.NoError(t, FromRemote("get", "users", nil))
	assert.NoError(t, FromStore("get", "users", 1, nil))
}
