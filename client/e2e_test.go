package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"superviseme/config"
	"superviseme/database"
	"superviseme/handlers"
	"superviseme/middleware"
	"superviseme/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const backendPassword = "secret123"

// newBackend serves the real API over an in-memory database.
func newBackend(t *testing.T) (*httptest.Server, *gorm.DB) {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open("sqlite", "file:client_"+name+"?mode=memory&cache=shared", logger.Silent)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	cfg := &config.Config{
		JWTSecret:          "e2e-secret",
		JWTExpiration:      time.Hour,
		InviteExpiration:   time.Hour,
		SupervisorCapacity: 3,
		ActivityWindow:     21 * 24 * time.Hour,
		SnapshotTTL:        time.Minute,
	}
	middleware.SetJWTSecret(cfg.JWTSecret)

	srv := httptest.NewServer(handlers.NewRouter(handlers.Deps{
		Config: cfg,
		DB:     db,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}))
	t.Cleanup(srv.Close)
	return srv, db
}

func createAccount(t *testing.T, db *gorm.DB, email string, role models.Role) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(backendPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	u := &models.User{Email: email, Role: role, PasswordHash: string(hash)}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create %s: %v", email, err)
	}
	return u
}

func signIn(t *testing.T, baseURL, email string) *Client {
	t.Helper()
	session, err := Login(context.Background(), baseURL, email, backendPassword, quiet)
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	if session.CurrentUserEmail() != email {
		t.Fatalf("session email = %q", session.CurrentUserEmail())
	}
	return New(baseURL, session, quiet)
}

func TestConnectionFlowEndToEnd(t *testing.T) {
	srv, db := newBackend(t)
	createAccount(t, db, "s@x.com", models.RoleStudent)
	createAccount(t, db, "sup@x.com", models.RoleSupervisor)
	ctx := context.Background()

	students := NewConnectionManager(signIn(t, srv.URL, "s@x.com"))
	supervisors := NewConnectionManager(signIn(t, srv.URL, "sup@x.com"))

	req, err := students.RequestConnection(ctx, "sup@x.com")
	if err != nil {
		t.Fatalf("RequestConnection: %v", err)
	}

	pending, err := supervisors.ListPendingRequests(ctx)
	if err != nil {
		t.Fatalf("ListPendingRequests: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != req.ID || pending[0].StudentEmail != "s@x.com" {
		t.Fatalf("pending = %+v", pending)
	}

	conn, err := supervisors.Decide(ctx, req.ID, models.StatusAccepted)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if conn == nil || conn.StudentEmail != "s@x.com" {
		t.Fatalf("connection = %+v", conn)
	}
	if local := supervisors.Connections(); len(local) != 1 || local[0].ID != conn.ID {
		t.Errorf("local connections = %+v", local)
	}

	_, err = supervisors.Decide(ctx, req.ID, models.StatusRejected)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("second Decide err = %v, want ConflictError", err)
	}

	_, err = supervisors.Decide(ctx, "no-such-request", models.StatusAccepted)
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Decide(missing) err = %v, want NotFoundError", err)
	}

	pending, err = supervisors.ListPendingRequests(ctx)
	if err != nil || len(pending) != 0 {
		t.Fatalf("pending after accept = %+v, %v", pending, err)
	}

	first, err := supervisors.ListActiveConnections(ctx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := supervisors.ListActiveConnections(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated reads differ:\n%+v\n%+v", first, second)
	}
	if len(first) != 1 || first[0].StudentEmail != "s@x.com" {
		t.Errorf("connections = %+v", first)
	}

	status, err := students.Status(ctx)
	if err != nil || !status.HasActiveConnection {
		t.Errorf("status = %+v, %v", status, err)
	}

	_, err = students.ListPendingRequests(ctx)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Errorf("student listing pending requests err = %v, want AuthError", err)
	}
}

func TestRepositoryLinkingEndToEnd(t *testing.T) {
	srv, db := newBackend(t)
	student := createAccount(t, db, "s@x.com", models.RoleStudent)
	supervisor := createAccount(t, db, "sup@x.com", models.RoleSupervisor)
	ctx := context.Background()

	studentRepos := NewRepositoryLinker(signIn(t, srv.URL, "s@x.com"), nil)
	supRepos := NewRepositoryLinker(signIn(t, srv.URL, "sup@x.com"), nil)

	if _, err := studentRepos.SaveRepository(ctx, "octo", "demo", []string{"a"}); err != nil {
		t.Fatalf("SaveRepository: %v", err)
	}

	_, err := supRepos.ListRepositoriesForStudent(ctx, student.UID)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("listing without connection err = %v, want AuthError", err)
	}

	conn := models.NewConnection(&models.ConnectionRequest{StudentUID: student.UID, StudentEmail: student.Email}, supervisor.UID, supervisor.Email)
	if err := db.Create(&conn).Error; err != nil {
		t.Fatal(err)
	}

	for i, want := range []int64{1, 0} {
		updated, err := supRepos.LinkRepositories(ctx, student.UID)
		if err != nil {
			t.Fatalf("LinkRepositories #%d: %v", i, err)
		}
		if updated != want {
			t.Errorf("LinkRepositories #%d updated %d, want %d", i, updated, want)
		}
	}

	repos, err := supRepos.ListRepositoriesForStudent(ctx, student.UID)
	if err != nil {
		t.Fatal(err)
	}
	if len(repos) != 1 || repos[0].PendingApproval || repos[0].SupervisorUID != supervisor.UID {
		t.Errorf("repos = %+v", repos)
	}

	all, err := supRepos.ListAllRepositories(ctx)
	if err != nil || len(all) != 1 || all[0].FullName() != "octo/demo" {
		t.Errorf("ListAllRepositories = %+v, %v", all, err)
	}
	if _, err := studentRepos.ListAllRepositories(ctx); !errors.As(err, &authErr) {
		t.Errorf("student listing all repositories err = %v, want AuthError", err)
	}

	found, err := supRepos.SearchByOwner(ctx, "octo")
	if err != nil || len(found) != 1 {
		t.Errorf("SearchByOwner = %+v, %v", found, err)
	}
}

func TestAssignTaskEndToEnd(t *testing.T) {
	srv, db := newBackend(t)
	student := createAccount(t, db, "s@x.com", models.RoleStudent)
	supervisor := createAccount(t, db, "sup@x.com", models.RoleSupervisor)
	conn := models.NewConnection(&models.ConnectionRequest{StudentUID: student.UID, StudentEmail: student.Email}, supervisor.UID, supervisor.Email)
	if err := db.Create(&conn).Error; err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	coordinator := NewTaskCoordinator(signIn(t, srv.URL, "sup@x.com"))
	assignment, err := coordinator.AssignTask(ctx, models.TaskFields{
		Title:       " Literature review ",
		Description: "Ten sources",
		Points:      "15",
		Deadline:    "2025-12-31",
		AssignedTo:  "S@x.com",
	}, "sup@x.com")
	if err != nil {
		t.Fatalf("AssignTask: %v", err)
	}
	if assignment.TaskID == "" || assignment.ReminderID == "" {
		t.Fatalf("assignment = %+v", assignment)
	}
	if !assignment.Reminder.Deadline.Equal(assignment.Task.Deadline) {
		t.Errorf("reminder deadline %v != task deadline %v", assignment.Reminder.Deadline, assignment.Task.Deadline)
	}
	if assignment.Reminder.TaskID != assignment.TaskID || assignment.Reminder.StudentEmail != "s@x.com" {
		t.Errorf("reminder = %+v", assignment.Reminder)
	}

	var stored models.Reminder
	if err := db.First(&stored, "id = ?", assignment.ReminderID).Error; err != nil {
		t.Fatal(err)
	}
	var task models.Task
	if err := db.First(&task, "id = ?", assignment.TaskID).Error; err != nil {
		t.Fatal(err)
	}
	if !stored.Deadline.Equal(task.Deadline) || task.Title != "Literature review" {
		t.Errorf("stored task = %+v reminder = %+v", task, stored)
	}

	studentTasks := NewTaskCoordinator(signIn(t, srv.URL, "s@x.com"))
	reminders, err := studentTasks.ListReminders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(reminders) != 1 || reminders[0].Title != "Literature review" {
		t.Fatalf("reminders = %+v", reminders)
	}
	if err := studentTasks.MarkNotified(ctx, reminders[0].ID); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}
	if _, err := studentTasks.UpdateTaskStatus(ctx, assignment.TaskID, models.TaskCompleted); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}

	if err := studentTasks.DeleteReminder(ctx, reminders[0].ID); err == nil {
		t.Error("students must not delete reminders")
	}
	if err := coordinator.DeleteReminder(ctx, reminders[0].ID); err != nil {
		t.Fatalf("DeleteReminder: %v", err)
	}

	// no student connection: the task write is rejected and nothing is left behind
	_, err = coordinator.AssignTask(ctx, models.TaskFields{
		Title: "X", Description: "Y", Points: "1", Deadline: "2025-12-31", AssignedTo: "stranger@x.com",
	}, "sup@x.com")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Errorf("err = %v, want AuthError", err)
	}
	var count int64
	db.Model(&models.Task{}).Count(&count)
	if count != 1 {
		t.Errorf("tasks = %d, want 1", count)
	}
}
