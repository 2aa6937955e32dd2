package repositorycache

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gabrielgits/crudrepo/cache"
	"github.com/gabrielgits/crudrepo/pkg/testsupport"
	"github.com/gabrielgits/crudrepo/record"
	"github.com/gabrielgits/crudrepo/remote"
	"github.com/gabrielgits/crudrepo/repository"
	"github.com/gabrielgits/crudrepo/store"
	"github.com/gabrielgits/crudrepo/store/memstore"
)

// TestUser represents a test entity
type TestUser struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Age  int    `json:"age,omitempty"`
}

func (u TestUser) RecordID() int64 { return u.ID }

func (u TestUser) ToFields() (record.Fields, error) { return record.EncodeJSON(u) }

// recordingStore wraps a memstore, tracks method calls and can inject failures
type recordingStore struct {
	store.Store

	mu      sync.Mutex
	calls   []string
	saveErr error
	delErr  error
}

func newRecordingStore(t *testing.T) *recordingStore {
	t.Helper()
	cfg := cache.DefaultConfig()
	cfg.Capacity = 100
	cfg.NumShards = 4
	s, err := memstore.Open(cfg)
	if err != nil {
		t.Fatalf("memstore.Open failed: %v", err)
	}
	return &recordingStore{Store: s}
}

func (r *recordingStore) recordCall(method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, method)
}

func (r *recordingStore) getCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingStore) clearCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *recordingStore) Save(ctx context.Context, table string, fields record.Fields) (record.Fields, error) {
	r.recordCall("Save")
	if r.saveErr != nil {
		return nil, r.saveErr
	}
	return r.Store.Save(ctx, table, fields)
}

func (r *recordingStore) SaveAll(ctx context.Context, table string, items []record.Fields) (int, error) {
	r.recordCall("SaveAll")
	if r.saveErr != nil {
		return 0, r.saveErr
	}
	return r.Store.SaveAll(ctx, table, items)
}

func (r *recordingStore) Get(ctx context.Context, table string, id int64) (record.Fields, error) {
	r.recordCall("Get")
	return r.Store.Get(ctx, table, id)
}

func (r *recordingStore) GetAll(ctx context.Context, table string) ([]record.Fields, error) {
	r.recordCall("GetAll")
	return r.Store.GetAll(ctx, table)
}

func (r *recordingStore) Find(ctx context.Context, table string, filters record.Filters) ([]record.Fields, error) {
	r.recordCall("Find")
	return r.Store.Find(ctx, table, filters)
}

func (r *recordingStore) Delete(ctx context.Context, table string, id int64) (int64, error) {
	r.recordCall("Delete")
	if r.delErr != nil {
		return 0, r.delErr
	}
	return r.Store.Delete(ctx, table, id)
}

func (r *recordingStore) DeleteAll(ctx context.Context, table string) (int64, error) {
	r.recordCall("DeleteAll")
	if r.delErr != nil {
		return 0, r.delErr
	}
	return r.Store.DeleteAll(ctx, table)
}

type fixture struct {
	srv    *testsupport.RemoteServer
	store  *recordingStore
	cached *CachedRepository[TestUser]
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	srv := testsupport.NewRemoteServer(t)
	client, err := remote.New(remote.Config{BaseURL: srv.URL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("remote.New failed: %v", err)
	}
	s := newRecordingStore(t)
	return &fixture{
		srv:    srv,
		store:  s,
		cached: New[TestUser](client, s, "users", nil, opts...),
	}
}

func (f *fixture) mirrored(t *testing.T, id int64) (record.Fields, bool) {
	t.Helper()
	fields, err := f.store.Store.Get(context.Background(), "users", id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		t.Fatalf("mirror read failed: %v", err)
	}
	return fields, true
}

func TestNew(t *testing.T) {
	f := newFixture(t)

	if f.cached == nil {
		t.Fatal("New() returned nil")
	}
	if f.cached.Table() != "users" {
		t.Errorf("expected table users, got %q", f.cached.Table())
	}
	if f.cached.store != f.store {
		t.Error("store not stored correctly")
	}
	if f.cached.decode == nil || f.cached.opts.log == nil {
		t.Error("defaults not applied")
	}
}

func TestRepositoryInterfaceSatisfaction(t *testing.T) {
	var repo repository.Repository[TestUser] = newFixture(t).cached
	if repo == nil {
		t.Error("CachedRepository does not satisfy Repository interface")
	}
}

func TestGetByID_MirrorsRemoteAndServesItOffline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.srv.Seed("users", record.Fields{"id": 5, "name": "A"})

	got, err := f.cached.GetByID(ctx, 5)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	want := TestUser{ID: 5, Name: "A"}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
	if calls := f.store.getCalls(); !reflect.DeepEqual(calls, []string{"Save"}) {
		t.Errorf("expected only a mirror Save, got %v", calls)
	}

	f.srv.Down()

	offline, err := f.cached.GetByID(ctx, 5)
	if err != nil {
		t.Fatalf("offline GetByID failed: %v", err)
	}
	if offline != want {
		t.Errorf("expected mirrored %+v, got %+v", want, offline)
	}
}

func TestGetByID_OfflineMissIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.srv.Down()

	_, err := f.cached.GetByID(context.Background(), 9)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if errors.Is(err, repository.ErrTransportUnavailable) {
		t.Error("read path must not surface transport errors")
	}
	var nf *repository.NotFoundError
	if !errors.As(err, &nf) || nf.ID != 9 || nf.Table != "users" {
		t.Errorf("unexpected error %#v", err)
	}
}

func TestGetByID_ExplicitRemoteFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.Store.Save(ctx, "users", record.Fields{"id": 5, "name": "mirror"}); err != nil {
		t.Fatal(err)
	}

	f.srv.Fail(http.MethodGet, "/users/5", http.StatusOK, "boom")

	got, err := f.cached.GetByID(ctx, 5)
	if err != nil {
		t.Fatalf("expected mirror fallback, got %v", err)
	}
	if got.Name != "mirror" {
		t.Errorf("expected mirrored record, got %+v", got)
	}
}

func TestGetByID_UndecodableRemotePayloadFallsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.srv.Respond(http.MethodGet, "/users/5", http.StatusOK, `{"status":true,"data":"garbage"}`)

	_, err := f.cached.GetByID(ctx, 5)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for _, call := range f.store.getCalls() {
		if call == "Save" {
			t.Error("undecodable payload must not be mirrored")
		}
	}
}

func TestCreate_RemoteFailureLeavesMirrorUnchanged(t *testing.T) {
	f := newFixture(t)
	f.srv.Fail(http.MethodPost, "/users", http.StatusOK, "boom")

	_, err := f.cached.Create(context.Background(), TestUser{Name: "x"})
	if err == nil {
		t.Fatal("expected create to fail")
	}
	var re *repository.RemoteError
	if !errors.As(err, &re) || re.Message != "boom" {
		t.Fatalf("expected RemoteError carrying boom, got %v", err)
	}
	if calls := f.store.getCalls(); len(calls) != 0 {
		t.Errorf("expected no store calls, got %v", calls)
	}
	all, _ := f.store.Store.GetAll(context.Background(), "users")
	if len(all) != 0 {
		t.Errorf("mirror should be empty, got %v", all)
	}
}

func TestWrites_NeverSucceedOffline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.Store.Save(ctx, "users", record.Fields{"id": 1, "name": "A"}); err != nil {
		t.Fatal(err)
	}
	f.store.clearCalls()
	f.srv.Down()

	if _, err := f.cached.Create(ctx, TestUser{Name: "x"}); !errors.Is(err, repository.ErrTransportUnavailable) {
		t.Errorf("create: expected transport error, got %v", err)
	}
	if _, err := f.cached.Update(ctx, 1, record.Fields{"name": "B"}); !errors.Is(err, repository.ErrTransportUnavailable) {
		t.Errorf("update: expected transport error, got %v", err)
	}
	if _, err := f.cached.Delete(ctx, 1); !errors.Is(err, repository.ErrTransportUnavailable) {
		t.Errorf("delete: expected transport error, got %v", err)
	}
	if _, err := f.cached.DeleteAll(ctx); !errors.Is(err, repository.ErrTransportUnavailable) {
		t.Errorf("delete all: expected transport error, got %v", err)
	}

	if calls := f.store.getCalls(); len(calls) != 0 {
		t.Errorf("expected no store calls, got %v", calls)
	}
	if row, ok := f.mirrored(t, 1); !ok || row["name"] != "A" {
		t.Errorf("mirror must be untouched, got %v", row)
	}
}

func TestCreateThenReadOffline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.cached.Create(ctx, TestUser{Name: "Ada", Age: 36})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected remote-assigned id")
	}

	f.srv.Down()

	got, err := f.cached.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("offline GetByID failed: %v", err)
	}
	if got != created {
		t.Errorf("expected %+v, got %+v", created, got)
	}
}

func TestUpdate_MirrorsUpdatedRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.srv.Seed("users", record.Fields{"id": 2, "name": "Linus", "age": 28})

	updated, err := f.cached.Update(ctx, 2, record.Fields{"age": 29})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Age != 29 || updated.Name != "Linus" {
		t.Errorf("unexpected update result %+v", updated)
	}

	row, ok := f.mirrored(t, 2)
	if !ok || row["age"] != float64(29) || row["name"] != "Linus" {
		t.Errorf("mirror should equal the remote record, got %v", row)
	}
}

func TestDelete_RemovesRemoteAndMirror(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.srv.Seed("users", record.Fields{"id": 5, "name": "A"})

	if _, err := f.cached.GetByID(ctx, 5); err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}

	id, err := f.cached.Delete(ctx, 5)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if id != 5 {
		t.Errorf("expected deleted id 5, got %d", id)
	}
	if _, ok := f.srv.Record("users", 5); ok {
		t.Error("remote still holds the record")
	}

	f.srv.Down()
	if _, err := f.cached.GetByID(ctx, 5); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDelete_UnmirroredRecordIsNotAnError(t *testing.T) {
	f := newFixture(t)
	f.srv.Seed("users", record.Fields{"id": 8, "name": "remote only"})

	if _, err := f.cached.Delete(context.Background(), 8); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
}

func TestDelete_RemoteFailureLeavesMirror(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.Store.Save(ctx, "users", record.Fields{"id": 5, "name": "A"}); err != nil {
		t.Fatal(err)
	}
	f.srv.Fail(http.MethodDelete, "/users/5", http.StatusInternalServerError, "locked")

	_, err := f.cached.Delete(ctx, 5)
	var re *repository.RemoteError
	if !errors.As(err, &re) || re.StatusCode != http.StatusInternalServerError || re.Message != "locked" {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if _, ok := f.mirrored(t, 5); !ok {
		t.Error("mirror must be untouched after a failed remote delete")
	}
}

func TestDelete_MirrorFailureSurfacesAsStoreError(t *testing.T) {
	f := newFixture(t)
	f.srv.Seed("users", record.Fields{"id": 5, "name": "A"})
	f.store.delErr = errors.New("disk gone")

	_, err := f.cached.Delete(context.Background(), 5)
	var se *repository.StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %v", err)
	}
}

func TestDeleteAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.srv.Seed("users", testsupport.LoadRecords(t, testsupport.FixturePath("users.json"))...)

	if _, err := f.cached.List(ctx); err != nil {
		t.Fatalf("List failed: %v", err)
	}

	n, err := f.cached.DeleteAll(ctx)
	if err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 deleted, got %d", n)
	}

	all, _ := f.store.Store.GetAll(ctx, "users")
	if len(all) != 0 {
		t.Errorf("mirror should be empty, got %d records", len(all))
	}
}

func TestList_MirrorsAndFallsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.srv.Seed("users", testsupport.LoadRecords(t, testsupport.FixturePath("users.json"))...)

	online, err := f.cached.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(online) != 3 {
		t.Fatalf("expected 3 users, got %d", len(online))
	}
	if calls := f.store.getCalls(); !reflect.DeepEqual(calls, []string{"SaveAll"}) {
		t.Errorf("expected one bulk mirror write, got %v", calls)
	}

	f.srv.Down()

	offline, err := f.cached.List(ctx)
	if err != nil {
		t.Fatalf("offline List failed: %v", err)
	}
	if !reflect.DeepEqual(online, offline) {
		t.Errorf("offline list should equal the mirrored list:\n%v\n%v", online, offline)
	}
}

func TestList_OfflineEmptyMirror(t *testing.T) {
	f := newFixture(t)
	f.srv.Down()

	items, err := f.cached.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected no items, got %v", items)
	}
}

func TestListWhere(t *testing.T) {
	seed := func(t *testing.T, f *fixture) {
		f.srv.Seed("users", testsupport.LoadRecords(t, testsupport.FixturePath("users.json"))...)
		if _, err := f.cached.List(context.Background()); err != nil {
			t.Fatalf("List failed: %v", err)
		}
	}
	filters := record.Where("age", 36).And("name", "Grace")

	t.Run("remote", func(t *testing.T) {
		f := newFixture(t)
		seed(t, f)

		items, err := f.cached.ListWhere(context.Background(), filters)
		if err != nil {
			t.Fatalf("ListWhere failed: %v", err)
		}
		if len(items) != 1 || items[0].Name != "Grace" {
			t.Errorf("unexpected items %v", items)
		}
		if f.srv.Count(http.MethodGet, "/users/age/36/name/Grace") != 1 {
			t.Errorf("expected positional filter path, got %v", f.srv.Requests())
		}
	})

	t.Run("offline applies filters to the mirror", func(t *testing.T) {
		f := newFixture(t)
		seed(t, f)
		f.srv.Down()

		items, err := f.cached.ListWhere(context.Background(), filters)
		if err != nil {
			t.Fatalf("ListWhere failed: %v", err)
		}
		if len(items) != 1 || items[0].Name != "Grace" {
			t.Errorf("unexpected items %v", items)
		}
	})

	t.Run("offline unfiltered fallback", func(t *testing.T) {
		f := newFixture(t, WithUnfilteredFallback())
		seed(t, f)
		f.srv.Down()

		items, err := f.cached.ListWhere(context.Background(), filters)
		if err != nil {
			t.Fatalf("ListWhere failed: %v", err)
		}
		if len(items) != 3 {
			t.Errorf("expected the whole mirror, got %d items", len(items))
		}
	})
}

func TestReplace_BothBranches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.cached.Replace(ctx, TestUser{ID: 1, Name: "one"})
	if err != nil {
		t.Fatalf("first Replace failed: %v", err)
	}
	if f.srv.Count(http.MethodPost, "/users") != 1 || f.srv.Count(http.MethodPut, "/users/1") != 0 {
		t.Errorf("first Replace should create, requests: %v", f.srv.Requests())
	}
	if first.ID != 1 {
		t.Errorf("expected id 1, got %d", first.ID)
	}

	second, err := f.cached.Replace(ctx, TestUser{ID: 1, Name: "uno"})
	if err != nil {
		t.Fatalf("second Replace failed: %v", err)
	}
	if f.srv.Count(http.MethodPut, "/users/1") != 1 || f.srv.Count(http.MethodPost, "/users") != 1 {
		t.Errorf("second Replace should update, requests: %v", f.srv.Requests())
	}
	if second.Name != "uno" {
		t.Errorf("expected updated name, got %+v", second)
	}
	if row, ok := f.mirrored(t, 1); !ok || row["name"] != "uno" {
		t.Errorf("mirror should hold the replaced record, got %v", row)
	}
}

func TestMirrorFailure_IsReportedNotReturned(t *testing.T) {
	var (
		mu       sync.Mutex
		observed []MirrorFailure
	)
	observer := func(ctx context.Context, failure MirrorFailure) {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, failure)
	}

	f := newFixture(t, WithMirrorObserver(observer))
	f.store.saveErr = errors.New("read-only filesystem")
	f.srv.Seed("users", record.Fields{"id": 5, "name": "A"})

	ctx, collected := CollectMirrorFailures(context.Background())

	if _, err := f.cached.GetByID(ctx, 5); err != nil {
		t.Fatalf("GetByID must succeed despite mirror failure: %v", err)
	}
	if _, err := f.cached.List(ctx); err != nil {
		t.Fatalf("List must succeed despite mirror failure: %v", err)
	}
	if _, err := f.cached.Create(ctx, TestUser{Name: "B"}); err != nil {
		t.Fatalf("Create must succeed despite mirror failure: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 3 {
		t.Fatalf("expected 3 observed failures, got %d: %v", len(observed), observed)
	}
	if observed[0].Op != "get" || observed[0].ID != 5 || observed[1].Op != "list" || observed[2].Op != "create" {
		t.Errorf("unexpected failures %v", observed)
	}
	if !errors.Is(observed[0], f.store.saveErr) {
		t.Error("failure should unwrap to the store error")
	}
	if got := collected(); len(got) != 3 {
		t.Errorf("expected 3 collected failures, got %d", len(got))
	}
	if !strings.Contains(observed[0].Error(), "users/5") {
		t.Errorf("unexpected message %q", observed[0].Error())
	}
}

func TestGetByID_MirrorsUnderRequestedID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.srv.Respond(http.MethodGet, "/users/5", http.StatusOK, `{"status":true,"data":{"name":"A"}}`)

	if _, err := f.cached.GetByID(ctx, 5); err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if _, ok := f.mirrored(t, 1); ok {
		t.Error("mirror must not assign an id of its own")
	}
	row, ok := f.mirrored(t, 5)
	if !ok || row["name"] != "A" {
		t.Fatalf("expected record mirrored under 5, got %v", row)
	}

	f.srv.Down()

	got, err := f.cached.GetByID(ctx, 5)
	if err != nil {
		t.Fatalf("offline GetByID failed: %v", err)
	}
	if got.ID != 5 || got.Name != "A" {
		t.Errorf("unexpected mirrored record %+v", got)
	}
}

func TestList_RecordsWithoutIDAreNotMirrored(t *testing.T) {
	f := newFixture(t)
	f.srv.Respond(http.MethodGet, "/users", http.StatusOK,
		`{"status":true,"data":[{"name":"A"},{"name":"B"},{"id":7,"name":"C"}]}`)

	ctx, collected := CollectMirrorFailures(context.Background())
	for i := 0; i < 3; i++ {
		items, err := f.cached.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(items) != 3 {
			t.Fatalf("expected the remote list unchanged, got %v", items)
		}
	}

	all, err := f.store.Store.GetAll(context.Background(), "users")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected only the record with an id mirrored, got %v", all)
	}
	if id, _ := all[0].ID(); id != 7 {
		t.Errorf("expected id 7, got %v", all[0])
	}

	failures := collected()
	if len(failures) != 6 {
		t.Fatalf("expected 6 reported failures, got %d: %v", len(failures), failures)
	}
	for _, failure := range failures {
		if failure.Op != "list" || !errors.Is(failure, ErrMissingID) {
			t.Errorf("unexpected failure %v", failure)
		}
	}
}

func TestSetToken(t *testing.T) {
	f := newFixture(t)
	f.srv.RequireToken("s3cret")
	f.srv.Seed("users", record.Fields{"id": 1, "name": "A"})
	ctx := context.Background()

	if _, err := f.cached.Create(ctx, TestUser{Name: "x"}); err == nil {
		t.Fatal("expected unauthorized create to fail")
	}

	f.cached.SetToken("s3cret")
	if _, err := f.cached.Create(ctx, TestUser{Name: "x"}); err != nil {
		t.Fatalf("authorized create failed: %v", err)
	}
	for _, req := range f.srv.Requests()[1:] {
		if req.Header.Get("Authorization") != "Bearer s3cret" {
			t.Errorf("request %s %s missing token", req.Method, req.Path)
		}
	}
}

func TestConcurrentReads(t *testing.T) {
	f := newFixture(t)
	f.srv.Seed("users", testsupport.LoadRecords(t, testsupport.FixturePath("users.json"))...)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := f.cached.GetByID(ctx, id); err != nil {
				errs <- err
			}
		}(int64(i%3 + 1))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent GetByID failed: %v", err)
	}
	all, _ := f.store.Store.GetAll(ctx, "users")
	if len(all) != 3 {
		t.Errorf("expected 3 mirrored users, got %d", len(all))
	}
}
