package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"superviseme/config"
	"superviseme/database"
	"superviseme/github"
	"superviseme/middleware"
	"superviseme/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testPassword = "secret123"

type testEnv struct {
	t      *testing.T
	db     *gorm.DB
	cfg    *config.Config
	router http.Handler
	github *fakeGitHub
}

type testResponse struct {
	Status  int
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (r testResponse) decode(t *testing.T, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(r.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", r.Data, err)
	}
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:          "test-secret",
		JWTExpiration:      time.Hour,
		InviteExpiration:   24 * time.Hour,
		SupervisorCapacity: 3,
		ActivityWindow:     21 * 24 * time.Hour,
		SnapshotTTL:        10 * time.Minute,
		RequestTimeout:     5 * time.Second,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open("sqlite", "file:"+name+"?mode=memory&cache=shared", logger.Silent)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	cfg := testConfig()
	middleware.SetJWTSecret(cfg.JWTSecret)

	fake := newFakeGitHub(t)
	gh, err := github.NewClient(fake.server.Client(), fake.server.URL, "service-token", nil)
	if err != nil {
		t.Fatalf("github client: %v", err)
	}

	env := &testEnv{t: t, db: db, cfg: cfg, github: fake}
	env.router = NewRouter(Deps{
		Config: cfg,
		DB:     db,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		GitHub: gh,
	})
	return env
}

// user stores an account and returns it with a valid token.
func (e *testEnv) user(email string, role models.Role) (*models.User, string) {
	e.t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		e.t.Fatal(err)
	}
	u := &models.User{Email: email, Role: role, PasswordHash: string(hash)}
	if err := e.db.Create(u).Error; err != nil {
		e.t.Fatalf("create user %s: %v", email, err)
	}
	token, err := middleware.GenerateToken(u, time.Hour)
	if err != nil {
		e.t.Fatal(err)
	}
	return u, token
}

// connect stores an active connection between student and supervisor.
func (e *testEnv) connect(student, supervisor *models.User) {
	e.t.Helper()
	conn := models.NewConnection(&models.ConnectionRequest{
		StudentUID:   student.UID,
		StudentEmail: student.Email,
	}, supervisor.UID, supervisor.Email)
	if err := e.db.Create(&conn).Error; err != nil {
		e.t.Fatalf("create connection: %v", err)
	}
}

func (e *testEnv) do(method, path, token string, body interface{}) testResponse {
	e.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			e.t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	resp := testResponse{Status: rec.Code}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		e.t.Fatalf("%s %s: body is not an envelope: %q", method, path, rec.Body.String())
	}
	resp.Status = rec.Code
	return resp
}

func (e *testEnv) expect(resp testResponse, status int) {
	e.t.Helper()
	if resp.Status != status {
		e.t.Fatalf("status = %d, want %d (error %q)", resp.Status, status, resp.Error)
	}
}

// fakeGitHub serves octo/demo, counts contributor listings and creates
// repositories for the "stu" account.
type fakeGitHub struct {
	server  *httptest.Server
	calls   atomic.Int32
	failing atomic.Bool
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	f := &fakeGitHub{}
	writeJSON := func(w http.ResponseWriter, status int, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/demo", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id": 1, "full_name": "octo/demo", "html_url": "https://github.com/octo/demo", "default_branch": "main",
		})
	})
	mux.HandleFunc("/repos/octo/demo/contributors", func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		if f.failing.Load() {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "boom"})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]interface{}{
			{"login": "a", "contributions": 5},
			{"login": "c", "contributions": 2},
		})
	})
	mux.HandleFunc("/repos/octo/demo/commits", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]interface{}{
			{"author": map[string]interface{}{"login": "a"}},
		})
	})
	mux.HandleFunc("/repos/octo/demo/collaborators", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]interface{}{{"login": "a"}, {"login": "c"}})
	})
	mux.HandleFunc("/repos/octo/demo/invitations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]interface{}{{"invitee": map[string]interface{}{"login": "b"}}})
	})
	mux.HandleFunc("POST /user/repos", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer student-token" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
			return
		}
		var body struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"id": 2, "name": body.Name, "full_name": "stu/" + body.Name, "private": true,
			"html_url": "https://github.com/stu/" + body.Name, "owner": map[string]interface{}{"login": "stu"},
		})
	})
	mux.HandleFunc("PUT /repos/stu/{name}/collaborators/{login}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("login") == "ghost" {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"id": 1})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}
