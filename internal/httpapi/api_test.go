package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/arun-gopi/rcm-backend/internal/auth"
	"github.com/arun-gopi/rcm-backend/internal/ratelimit"
)

// stubGate resolves every request to a fixed user or a fixed error, so
// handler tests exercise routing and responses without real tokens.
type stubGate struct {
	user     auth.User
	userErr  error
	adminErr error
}

func (g stubGate) RequireUser(context.Context, string) (auth.User, error) {
	if g.userErr != nil {
		return auth.User{}, g.userErr
	}
	return g.user, nil
}

func (g stubGate) RequireAdmin(context.Context, string) (auth.User, error) {
	if g.adminErr != nil {
		return auth.User{}, g.adminErr
	}
	if g.userErr != nil {
		return auth.User{}, g.userErr
	}
	if !g.user.IsAdmin() {
		return auth.User{}, auth.ErrForbidden
	}
	return g.user, nil
}

// fakeStore is an in-memory auth.Store for handler tests.
type fakeStore struct {
	mu    sync.Mutex
	users map[string]auth.User
	err   error
}

func newFakeStore(seed ...auth.User) *fakeStore {
	s := &fakeStore{users: map[string]auth.User{}}
	for _, u := range seed {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeStore) FindByExternalID(_ context.Context, externalID string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return auth.User{}, s.err
	}
	for _, u := range s.users {
		if u.ExternalSubjectID == externalID {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (s *fakeStore) FindByID(_ context.Context, id string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return auth.User{}, s.err
	}
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) InsertOrFetch(_ context.Context, u auth.User) (auth.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return auth.UpsertResult{}, s.err
	}
	s.users[u.ID] = u
	return auth.UpsertResult{User: u, Outcome: auth.OutcomeCreated}, nil
}

func (s *fakeStore) UpdateProfile(_ context.Context, id string, upd auth.ProfileUpdate) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return auth.User{}, s.err
	}
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	u.Email = upd.Email
	u.DisplayName = upd.DisplayName
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return u, nil
}

func (s *fakeStore) List(_ context.Context) ([]auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []auth.User
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) SetRole(_ context.Context, id string, role auth.Role) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	u.Role = role
	s.users[id] = u
	return u, nil
}

func (s *fakeStore) Deactivate(_ context.Context, id string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	u.Active = false
	s.users[id] = u
	return u, nil
}

type apiClient struct {
	t   *testing.T
	srv *httptest.Server
}

func newAPIClient(t *testing.T, gate Gate, store auth.Store, limiter *ratelimit.Limiter) *apiClient {
	t.Helper()
	api := New(gate, store, limiter, ReadyProbe{}, "test")
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &apiClient{t: t, srv: srv}
}

func (c *apiClient) do(method, path string, body []byte) (*http.Response, map[string]any) {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, c.srv.URL+path, rd)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer test-token")
	resp, err := c.srv.Client().Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("read body: %v", err)
	}
	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			decoded = map[string]any{"_raw": string(raw)}
		}
	}
	return resp, decoded
}

func standardUser() auth.User {
	return auth.User{ID: "u-std", ExternalSubjectID: "ext-std", Email: "std@example.com", DisplayName: "Standard", Role: auth.RoleStandard, Active: true}
}

func adminUser() auth.User {
	return auth.User{ID: "u-adm", ExternalSubjectID: "ext-adm", Email: "adm@example.com", DisplayName: "Admin", Role: auth.RoleAdmin, Active: true}
}

func TestHealthz(t *testing.T) {
	c := newAPIClient(t, stubGate{user: standardUser()}, newFakeStore(), nil)
	resp, body := c.do(http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestReadyzWithoutDatabase(t *testing.T) {
	c := newAPIClient(t, stubGate{user: standardUser()}, newFakeStore(), nil)
	resp, body := c.do(http.MethodGet, "/readyz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["status"] != "ready" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	c := newAPIClient(t, stubGate{user: standardUser()}, newFakeStore(), nil)
	resp, _ := c.do(http.MethodGet, "/v2/nothing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestMissingCredentialIs401(t *testing.T) {
	c := newAPIClient(t, stubGate{userErr: auth.ErrMissingCredential}, newFakeStore(), nil)
	resp, body := c.do(http.MethodGet, "/v1/me", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") != "Bearer" {
		t.Fatal("401 must carry WWW-Authenticate: Bearer")
	}
	if body["error"] != "missing bearer token" {
		t.Fatalf("unexpected error message: %v", body["error"])
	}
	if rid, _ := body["request_id"].(string); rid == "" {
		t.Fatal("error envelope must carry a request_id")
	}
}

func TestExpiredTokenIs401(t *testing.T) {
	c := newAPIClient(t, stubGate{userErr: auth.ErrExpired}, newFakeStore(), nil)
	resp, body := c.do(http.MethodGet, "/v1/me", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["error"] != "token expired" {
		t.Fatalf("unexpected error message: %v", body["error"])
	}
}

func TestStoreUnavailableIs503(t *testing.T) {
	c := newAPIClient(t, stubGate{userErr: auth.ErrStoreUnavailable}, newFakeStore(), nil)
	resp, _ := c.do(http.MethodGet, "/v1/me", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestKeySourceOutageIs503(t *testing.T) {
	c := newAPIClient(t, stubGate{userErr: auth.ErrKeyUnavailable}, newFakeStore(), nil)
	resp, body := c.do(http.MethodGet, "/v1/me", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") != "" {
		t.Fatal("a provider outage is not a credential challenge")
	}
	if body["error"] != "identity provider unavailable" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestMeReturnsFullRecord(t *testing.T) {
	me := standardUser()
	c := newAPIClient(t, stubGate{user: me}, newFakeStore(me), nil)
	resp, body := c.do(http.MethodGet, "/v1/me", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["id"] != me.ID || body["email"] != me.Email {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["role"] != string(auth.RoleStandard) {
		t.Fatalf("unexpected role: %v", body["role"])
	}
}

func TestMeRejectsUnknownMethod(t *testing.T) {
	c := newAPIClient(t, stubGate{user: standardUser()}, newFakeStore(), nil)
	resp, _ := c.do(http.MethodPost, "/v1/me", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if resp.Header.Get("Allow") == "" {
		t.Fatal("405 must advertise allowed methods")
	}
}

func TestPatchMeUpdatesDisplayName(t *testing.T) {
	me := standardUser()
	store := newFakeStore(me)
	c := newAPIClient(t, stubGate{user: me}, store, nil)

	resp, body := c.do(http.MethodPatch, "/v1/me", []byte(`{"display_name":"New Name"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	if body["display_name"] != "New Name" {
		t.Fatalf("display name not updated: %v", body)
	}
	got, _ := store.FindByID(context.Background(), me.ID)
	if got.DisplayName != "New Name" {
		t.Fatalf("store not updated: %+v", got)
	}
	if got.Email != me.Email {
		t.Fatal("profile update must not clear email")
	}
}

func TestPatchMeValidatesDisplayName(t *testing.T) {
	me := standardUser()
	c := newAPIClient(t, stubGate{user: me}, newFakeStore(me), nil)

	for _, payload := range []string{`{"display_name":""}`, `{"display_name":"   "}`, `{"unknown":"x"}`, `not json`} {
		resp, _ := c.do(http.MethodPatch, "/v1/me", []byte(payload))
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("payload %q: status %d", payload, resp.StatusCode)
		}
	}
}

func TestListUsersRequiresAdmin(t *testing.T) {
	c := newAPIClient(t, stubGate{user: standardUser()}, newFakeStore(), nil)
	resp, _ := c.do(http.MethodGet, "/v1/users", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestListUsersAsAdmin(t *testing.T) {
	adm := adminUser()
	c := newAPIClient(t, stubGate{user: adm}, newFakeStore(adm, standardUser()), nil)
	req, err := http.NewRequest(http.MethodGet, c.srv.URL+"/v1/users", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := c.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var users []auth.User
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
}

func TestListUsersEmptyIsArray(t *testing.T) {
	adm := adminUser()
	c := newAPIClient(t, stubGate{user: adm}, newFakeStore(), nil)
	req, _ := http.NewRequest(http.MethodGet, c.srv.URL+"/v1/users", nil)
	resp, err := c.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if got := string(bytes.TrimSpace(raw)); got != "[]" {
		t.Fatalf("empty list must serialize as [], got %s", got)
	}
}

func TestGetUserReturnsPublicProjection(t *testing.T) {
	me := standardUser()
	other := adminUser()
	c := newAPIClient(t, stubGate{user: me}, newFakeStore(me, other), nil)

	resp, body := c.do(http.MethodGet, "/v1/users/"+other.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["id"] != other.ID || body["display_name"] != other.DisplayName {
		t.Fatalf("unexpected body: %v", body)
	}
	if _, leaked := body["email"]; leaked {
		t.Fatal("public projection must not expose email")
	}
	if _, leaked := body["external_subject_id"]; leaked {
		t.Fatal("public projection must not expose external subject id")
	}
}

func TestGetUserNotFound(t *testing.T) {
	c := newAPIClient(t, stubGate{user: standardUser()}, newFakeStore(), nil)
	resp, _ := c.do(http.MethodGet, "/v1/users/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestSetRole(t *testing.T) {
	adm := adminUser()
	target := standardUser()
	store := newFakeStore(adm, target)
	c := newAPIClient(t, stubGate{user: adm}, store, nil)

	resp, body := c.do(http.MethodPut, "/v1/users/"+target.ID+"/role", []byte(`{"role":"admin"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	if body["role"] != string(auth.RoleAdmin) {
		t.Fatalf("role not changed: %v", body)
	}
}

func TestSetRoleRejectsInvalidRole(t *testing.T) {
	adm := adminUser()
	c := newAPIClient(t, stubGate{user: adm}, newFakeStore(adm, standardUser()), nil)
	resp, _ := c.do(http.MethodPut, "/v1/users/u-std/role", []byte(`{"role":"superuser"}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestSetRoleRejectsSelfChange(t *testing.T) {
	adm := adminUser()
	c := newAPIClient(t, stubGate{user: adm}, newFakeStore(adm), nil)
	resp, _ := c.do(http.MethodPut, "/v1/users/"+adm.ID+"/role", []byte(`{"role":"standard"}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestSetRoleRequiresAdmin(t *testing.T) {
	c := newAPIClient(t, stubGate{user: standardUser()}, newFakeStore(), nil)
	resp, _ := c.do(http.MethodPut, "/v1/users/u-x/role", []byte(`{"role":"admin"}`))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestDeactivateUser(t *testing.T) {
	adm := adminUser()
	target := standardUser()
	store := newFakeStore(adm, target)
	c := newAPIClient(t, stubGate{user: adm}, store, nil)

	resp, body := c.do(http.MethodDelete, "/v1/users/"+target.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	if body["status"] != "deactivated" {
		t.Fatalf("unexpected body: %v", body)
	}
	got, _ := store.FindByID(context.Background(), target.ID)
	if got.Active {
		t.Fatal("target should be inactive")
	}
}

func TestDeactivateRejectsSelf(t *testing.T) {
	adm := adminUser()
	store := newFakeStore(adm)
	c := newAPIClient(t, stubGate{user: adm}, store, nil)

	resp, _ := c.do(http.MethodDelete, "/v1/users/"+adm.ID, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
	got, _ := store.FindByID(context.Background(), adm.ID)
	if !got.Active {
		t.Fatal("self-deactivation must not be applied")
	}
}
