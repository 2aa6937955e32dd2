package testsupport

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gabrielgits/crudrepo/record"
	"github.com/gorilla/mux"
)

// Request is one call observed by a RemoteServer.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

type cannedResponse struct {
	status int
	body   string
}

// RemoteServer is an in-memory Remote Endpoint speaking the
// {status, message, data} envelope over {table}, {table}/{id} and
// {table}/{k}/{v}... routes.
type RemoteServer struct {
	*httptest.Server

	mu       sync.Mutex
	tables   map[string]map[int64]record.Fields
	nextID   map[string]int64
	canned   map[string]cannedResponse
	requests []Request
	token    string
	down     bool
}

// NewRemoteServer starts a server that is closed when the test ends.
func NewRemoteServer(t testing.TB) *RemoteServer {
	t.Helper()

	s := &RemoteServer{
		tables: map[string]map[int64]record.Fields{},
		nextID: map[string]int64{},
		canned: map[string]cannedResponse{},
	}

	r := mux.NewRouter()
	r.UseEncodedPath()
	r.Use(s.record, s.gate)
	r.HandleFunc("/{table}", s.list).Methods(http.MethodGet)
	r.HandleFunc("/{table}", s.create).Methods(http.MethodPost)
	r.HandleFunc("/{table}", s.deleteAll).Methods(http.MethodDelete)
	r.HandleFunc("/{table}/{id:[0-9]+}", s.get).Methods(http.MethodGet)
	r.HandleFunc("/{table}/{id:[0-9]+}", s.update).Methods(http.MethodPut)
	r.HandleFunc("/{table}/{id:[0-9]+}", s.delete).Methods(http.MethodDelete)
	r.HandleFunc("/{table}/{filters:.+}", s.filter).Methods(http.MethodGet)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Seed stores items under table as if they had been created remotely.
func (s *RemoteServer) Seed(table string, items ...record.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		s.put(table, item)
	}
}

// Records returns the current rows of table ordered by id.
func (s *RemoteServer) Records(table string) []record.Fields {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows(table)
}

// Record returns one row of table.
func (s *RemoteServer) Record(table string, id int64) (record.Fields, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.tables[table][id]
	return f, ok
}

// Fail makes method+path answer with status and a status:false envelope
// carrying message.
func (s *RemoteServer) Fail(method, path string, status int, message string) {
	body, _ := json.Marshal(map[string]any{"status": false, "message": message})
	s.Respond(method, path, status, string(body))
}

// Respond makes method+path answer with a raw body.
func (s *RemoteServer) Respond(method, path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canned[method+" "+path] = cannedResponse{status: status, body: body}
}

// Reset drops canned responses and brings the server back up.
func (s *RemoteServer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canned = map[string]cannedResponse{}
	s.down = false
}

// Down makes every request fail at the transport level.
func (s *RemoteServer) Down() {
	s.mu.Lock()
	s.down = true
	s.mu.Unlock()
}

func (s *RemoteServer) Up() {
	s.mu.Lock()
	s.down = false
	s.mu.Unlock()
}

// RequireToken rejects requests without "Authorization: Bearer <token>".
func (s *RemoteServer) RequireToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Requests returns every observed request in arrival order.
func (s *RemoteServer) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many requests hit method+path.
func (s *RemoteServer) Count(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (s *RemoteServer) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Header: r.Header.Clone(),
			Body:   body,
		})
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (s *RemoteServer) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		down := s.down
		token := s.token
		canned, hasCanned := s.canned[r.Method+" "+r.URL.EscapedPath()]
		s.mu.Unlock()

		if down {
			hijackAndClose(w)
			return
		}
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			writeEnvelope(w, http.StatusUnauthorized, false, "unauthorized", nil)
			return
		}
		if hasCanned {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(canned.status)
			_, _ = io.WriteString(w, canned.body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func hijackAndClose(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, _, err := hj.Hijack()
	if err == nil {
		conn.Close()
	}
}

func (s *RemoteServer) list(w http.ResponseWriter, r *http.Request) {
	table := pathVar(r, "table")
	s.mu.Lock()
	rows := s.rows(table)
	s.mu.Unlock()
	writeEnvelope(w, http.StatusOK, true, "", rows)
}

func (s *RemoteServer) filter(w http.ResponseWriter, r *http.Request) {
	table := pathVar(r, "table")
	parts := strings.Split(mux.Vars(r)["filters"], "/")
	if len(parts)%2 != 0 {
		writeEnvelope(w, http.StatusBadRequest, false, "filters must be key/value pairs", nil)
		return
	}

	var filters record.Filters
	for i := 0; i < len(parts); i += 2 {
		k, _ := url.PathUnescape(parts[i])
		v, _ := url.PathUnescape(parts[i+1])
		filters = append(filters, record.Filter{Field: k, Value: v})
	}

	s.mu.Lock()
	rows := s.rows(table)
	s.mu.Unlock()

	out := make([]record.Fields, 0, len(rows))
	for _, row := range rows {
		if filters.Match(row) {
			out = append(out, row)
		}
	}
	writeEnvelope(w, http.StatusOK, true, "", out)
}

func (s *RemoteServer) get(w http.ResponseWriter, r *http.Request) {
	table, id := pathVar(r, "table"), pathID(r)
	s.mu.Lock()
	row, ok := s.tables[table][id]
	s.mu.Unlock()
	if !ok {
		writeEnvelope(w, http.StatusNotFound, false, "not found", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, true, "", row)
}

func (s *RemoteServer) create(w http.ResponseWriter, r *http.Request) {
	table := pathVar(r, "table")
	var fields record.Fields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil || fields == nil {
		writeEnvelope(w, http.StatusBadRequest, false, "invalid body", nil)
		return
	}

	s.mu.Lock()
	row := s.put(table, fields)
	s.mu.Unlock()
	writeEnvelope(w, http.StatusCreated, true, "created", row)
}

func (s *RemoteServer) update(w http.ResponseWriter, r *http.Request) {
	table, id := pathVar(r, "table"), pathID(r)
	var patch record.Fields
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeEnvelope(w, http.StatusBadRequest, false, "invalid body", nil)
		return
	}

	s.mu.Lock()
	current, ok := s.tables[table][id]
	var row record.Fields
	if ok {
		row = s.put(table, current.Merge(patch).WithID(id))
	}
	s.mu.Unlock()

	if !ok {
		writeEnvelope(w, http.StatusNotFound, false, "not found", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, true, "updated", row)
}

func (s *RemoteServer) delete(w http.ResponseWriter, r *http.Request) {
	table, id := pathVar(r, "table"), pathID(r)
	s.mu.Lock()
	_, ok := s.tables[table][id]
	delete(s.tables[table], id)
	s.mu.Unlock()

	if !ok {
		writeEnvelope(w, http.StatusNotFound, false, "not found", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, true, "deleted", map[string]any{"id": id})
}

func (s *RemoteServer) deleteAll(w http.ResponseWriter, r *http.Request) {
	table := pathVar(r, "table")
	s.mu.Lock()
	n := len(s.tables[table])
	delete(s.tables, table)
	s.mu.Unlock()
	writeEnvelope(w, http.StatusOK, true, "deleted", n)
}

// put stores a normalized copy; callers hold mu.
func (s *RemoteServer) put(table string, fields record.Fields) record.Fields {
	if s.tables[table] == nil {
		s.tables[table] = map[int64]record.Fields{}
	}

	id, ok := fields.ID()
	if !ok || id == 0 {
		s.nextID[table]++
		id = s.nextID[table]
	}
	if id > s.nextID[table] {
		s.nextID[table] = id
	}

	row, err := fields.WithID(id).Clone()
	if err != nil {
		row = fields.WithID(id)
	}
	s.tables[table][id] = row
	return row
}

// rows returns the table ordered by id; callers hold mu.
func (s *RemoteServer) rows(table string) []record.Fields {
	ids := make([]int64, 0, len(s.tables[table]))
	for id := range s.tables[table] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]record.Fields, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.tables[table][id])
	}
	return out
}

func pathVar(r *http.Request, name string) string {
	v, err := url.PathUnescape(mux.Vars(r)[name])
	if err != nil {
		return mux.Vars(r)[name]
	}
	return v
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func writeEnvelope(w http.ResponseWriter, status int, ok bool, message string, data any) {
	env := map[string]any{"status": ok}
	if message != "" {
		env["message"] = message
	}
	if data != nil {
		env["data"] = data
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
