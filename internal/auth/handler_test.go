package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/branchledger/branchledger/internal/auth"
	"github.com/branchledger/branchledger/internal/shared"
	_ "github.com/branchledger/branchledger/testing"
)

type stubRepo struct {
	cred     *auth.Credential
	sessions map[string]int64
	newHash  string
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.Credential, error) {
	if s.cred == nil || s.cred.Email != email {
		return nil, shared.ErrNotFound
	}
	return s.cred, nil
}

func (s *stubRepo) FindByID(ctx context.Context, id int64) (*auth.Credential, error) {
	if s.cred == nil || s.cred.ID != id {
		return nil, shared.ErrNotFound
	}
	return s.cred, nil
}

func (s *stubRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	s.newHash = hash
	return nil
}

func (s *stubRepo) CreateSession(ctx context.Context, sess auth.Session) error {
	if s.sessions == nil {
		s.sessions = make(map[string]int64)
	}
	s.sessions[sess.ID] = sess.UserID
	return nil
}

func (s *stubRepo) DeleteSession(ctx context.Context, id string) error {
	delete(s.sessions, id)
	return nil
}

func (s *stubRepo) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func hashOf(t *testing.T, password string) string {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return string(hashed)
}

func newRouter(t *testing.T, repo auth.Repository) (chi.Router, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessionManager := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)
	csrfManager := shared.NewCSRFManager("csrfsecret")
	handler := auth.NewHandler(nil, auth.NewService(repo), sessionManager, csrfManager)

	r := chi.NewRouter()
	r.Route("/api/auth", handler.MountRoutes)
	return r, sessionManager
}

func doWithSession(t *testing.T, router chi.Router, sm *shared.SessionManager, sess *shared.Session, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))

	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if err := sm.Commit(req.Context(), res, req, sess); err != nil {
		t.Fatalf("commit session: %v", err)
	}
	return res
}

func TestLoginSuccess(t *testing.T) {
	repo := &stubRepo{cred: &auth.Credential{
		ID: 1, Email: "admin@test.local", PasswordHash: hashOf(t, "correctpass"), IsActive: true,
	}}
	router, sm := newRouter(t, repo)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("load session: %v", err)
	}

	res := doWithSession(t, router, sm, sess, http.MethodPost, "/api/auth/login",
		`{"email":"admin@test.local","password":"correctpass"}`)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if sess.User() != "1" {
		t.Fatalf("expected session user 1, got %q", sess.User())
	}
	if !strings.Contains(res.Body.String(), "csrf_token") {
		t.Fatal("expected csrf token in login response")
	}
	if len(repo.sessions) != 1 {
		t.Fatalf("expected one registered session, got %d", len(repo.sessions))
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	repo := &stubRepo{cred: &auth.Credential{
		ID: 1, Email: "admin@test.local", PasswordHash: hashOf(t, "correctpass"), IsActive: true,
	}}
	router, sm := newRouter(t, repo)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("load session: %v", err)
	}

	res := doWithSession(t, router, sm, sess, http.MethodPost, "/api/auth/login",
		`{"email":"admin@test.local","password":"wrongpass1"}`)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	if sess.User() != "" {
		t.Fatalf("session must stay anonymous, got %q", sess.User())
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	repo := &stubRepo{cred: &auth.Credential{
		ID: 1, Email: "admin@test.local", PasswordHash: hashOf(t, "correctpass"), IsActive: false,
	}}
	router, sm := newRouter(t, repo)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("load session: %v", err)
	}

	res := doWithSession(t, router, sm, sess, http.MethodPost, "/api/auth/login",
		`{"email":"admin@test.local","password":"correctpass"}`)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for inactive account, got %d", res.Code)
	}
}

func TestChangePassword(t *testing.T) {
	repo := &stubRepo{cred: &auth.Credential{
		ID: 1, Email: "admin@test.local", PasswordHash: hashOf(t, "correctpass"), IsActive: true,
	}}
	router, sm := newRouter(t, repo)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	sess.SetUser("1")

	res := doWithSession(t, router, sm, sess, http.MethodPost, "/api/auth/change-password",
		`{"current_password":"wrongpass1","new_password":"newsecret1"}`)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong current password, got %d", res.Code)
	}

	res = doWithSession(t, router, sm, sess, http.MethodPost, "/api/auth/change-password",
		`{"current_password":"correctpass","new_password":"short"}`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short new password, got %d", res.Code)
	}

	res = doWithSession(t, router, sm, sess, http.MethodPost, "/api/auth/change-password",
		`{"current_password":"correctpass","new_password":"newsecret1"}`)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", res.Code, res.Body.String())
	}
	if repo.newHash == "" {
		t.Fatal("expected stored hash to change")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(repo.newHash), []byte("newsecret1")); err != nil {
		t.Fatalf("stored hash does not match new password: %v", err)
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	repo := &stubRepo{cred: &auth.Credential{
		ID: 1, Email: "admin@test.local", PasswordHash: hashOf(t, "correctpass"), IsActive: true,
	}, sessions: map[string]int64{}}
	router, sm := newRouter(t, repo)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	sess.SetUser("1")
	repo.sessions[sess.ID] = 1

	res := doWithSession(t, router, sm, sess, http.MethodPost, "/api/auth/logout", "")
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if len(repo.sessions) != 0 {
		t.Fatalf("expected session row removed, got %v", repo.sessions)
	}
}
