package handlers

import (
	"net/http"
	"testing"
	"time"

	"superviseme/models"
)

func TestSaveAndSearchRepositories(t *testing.T) {
	env := newTestEnv(t)
	_, aliceToken := env.user("alice@x.com", models.RoleStudent)
	_, bobToken := env.user("bob@x.com", models.RoleStudent)

	body := map[string]interface{}{"owner": "octo", "name": "demo", "teamMembers": []string{"a", " ", "c"}}
	resp := env.do(http.MethodPost, "/api/repositories/save", aliceToken, body)
	env.expect(resp, http.StatusOK)
	var repo models.Repository
	resp.decode(t, &repo)
	if repo.GitHubURL != "https://github.com/octo/demo" || !repo.PendingApproval || len(repo.TeamMembers) != 2 {
		t.Fatalf("repo = %+v", repo)
	}

	// saving again updates the same row
	body["teamMembers"] = []string{"a"}
	resp = env.do(http.MethodPost, "/api/repositories/save", aliceToken, body)
	env.expect(resp, http.StatusOK)
	var again models.Repository
	resp.decode(t, &again)
	if again.ID != repo.ID || len(again.TeamMembers) != 1 {
		t.Errorf("second save = %+v", again)
	}

	resp = env.do(http.MethodPost, "/api/repositories/save", bobToken, body)
	env.expect(resp, http.StatusConflict)

	resp = env.do(http.MethodPost, "/api/repositories/save", aliceToken, map[string]string{"owner": "octo", "name": "../etc"})
	env.expect(resp, http.StatusBadRequest)

	resp = env.do(http.MethodGet, "/api/repositories/search?owner=Octo", bobToken, nil)
	env.expect(resp, http.StatusOK)
	var found []models.Repository
	resp.decode(t, &found)
	if len(found) != 1 || found[0].FullName() != "octo/demo" {
		t.Errorf("search = %+v", found)
	}

	resp = env.do(http.MethodGet, "/api/repositories/search", bobToken, nil)
	env.expect(resp, http.StatusBadRequest)
}

func TestLinkStudentRepos(t *testing.T) {
	env := newTestEnv(t)
	student, studentToken := env.user("s@x.com", models.RoleStudent)
	sup, supToken := env.user("sup@x.com", models.RoleSupervisor)

	for _, name := range []string{"one", "two"} {
		resp := env.do(http.MethodPost, "/api/repositories/save", studentToken, map[string]string{"owner": "octo", "name": name})
		env.expect(resp, http.StatusOK)
	}

	resp := env.do(http.MethodGet, "/api/student-repositories/"+student.UID, supToken, nil)
	env.expect(resp, http.StatusForbidden)
	resp = env.do(http.MethodPost, "/link-student-repos", supToken, map[string]string{"studentUID": student.UID})
	env.expect(resp, http.StatusForbidden)

	env.connect(student, sup)

	resp = env.do(http.MethodPost, "/link-student-repos", supToken, map[string]string{"studentUID": student.UID})
	env.expect(resp, http.StatusOK)
	var result LinkResult
	resp.decode(t, &result)
	if result.Updated != 2 {
		t.Errorf("first link updated %d, want 2", result.Updated)
	}

	resp = env.do(http.MethodPost, "/link-student-repos", supToken, map[string]string{"studentUID": student.UID})
	env.expect(resp, http.StatusOK)
	resp.decode(t, &result)
	if result.Updated != 0 {
		t.Errorf("second link updated %d, want 0", result.Updated)
	}

	resp = env.do(http.MethodGet, "/api/student-repositories/"+student.UID, supToken, nil)
	env.expect(resp, http.StatusOK)
	var repos []models.Repository
	resp.decode(t, &repos)
	if len(repos) != 2 {
		t.Fatalf("repos = %+v", repos)
	}
	for _, r := range repos {
		if r.PendingApproval || r.SupervisorUID != sup.UID || r.ConnectionID != models.ConnectionID(student.UID, sup.UID) {
			t.Errorf("repo not linked: %+v", r)
		}
	}
}

func TestValidateRepository(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.user("s@x.com", models.RoleStudent)
	_, supToken := env.user("sup@x.com", models.RoleSupervisor)

	resp := env.do(http.MethodPost, "/api/validate-repository", token, map[string]string{"owner": "octo", "name": "demo"})
	env.expect(resp, http.StatusOK)
	var v Validation
	resp.decode(t, &v)
	if v.Repository == nil || v.Repository.FullName != "octo/demo" || len(v.Contributors) != 2 {
		t.Errorf("validation = %+v", v)
	}

	resp = env.do(http.MethodPost, "/api/validate-repository", token, map[string]string{"owner": "octo", "name": "missing"})
	env.expect(resp, http.StatusNotFound)

	resp = env.do(http.MethodPost, "/api/validate-repository", supToken, map[string]string{"owner": "octo", "name": "demo"})
	env.expect(resp, http.StatusForbidden)
}

func TestRepoDataSnapshots(t *testing.T) {
	env := newTestEnv(t)
	student, studentToken := env.user("s@x.com", models.RoleStudent)
	sup, supToken := env.user("sup@x.com", models.RoleSupervisor)
	_, otherSupToken := env.user("other@x.com", models.RoleSupervisor)
	_, strangerToken := env.user("stranger@x.com", models.RoleStudent)

	for _, name := range []string{"demo", "missing"} {
		resp := env.do(http.MethodPost, "/api/repositories/save", studentToken, map[string]string{"owner": "octo", "name": name})
		env.expect(resp, http.StatusOK)
	}

	// only supervisors connected to the owning student may read
	resp := env.do(http.MethodGet, "/api/supervisor/repo-data/octo/demo", supToken, nil)
	env.expect(resp, http.StatusForbidden)
	env.connect(student, sup)

	resp = env.do(http.MethodGet, "/api/supervisor/repo-data/octo/demo", supToken, nil)
	env.expect(resp, http.StatusOK)
	var data models.RepoData
	resp.decode(t, &data)
	records, err := data.Contributors.Merge()
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(records) != 3 || data.Stale {
		t.Fatalf("records = %+v stale = %v", records, data.Stale)
	}
	if records[0].Login != "a" || records[0].Status != models.ContributorActive || records[0].Contributions != 5 {
		t.Errorf("records[0] = %+v", records[0])
	}
	if records[2].Login != "b" || !records[2].PendingInvite {
		t.Errorf("records[2] = %+v", records[2])
	}
	if calls := env.github.calls.Load(); calls != 1 {
		t.Fatalf("github calls = %d, want 1", calls)
	}

	// served from the snapshot, to the owner as well
	resp = env.do(http.MethodGet, "/api/supervisor/repo-data/octo/demo", studentToken, nil)
	env.expect(resp, http.StatusOK)
	if calls := env.github.calls.Load(); calls != 1 {
		t.Errorf("github calls after cached read = %d, want 1", calls)
	}

	// a different window is its own snapshot
	resp = env.do(http.MethodGet, "/api/supervisor/repo-data/octo/demo?days=7", supToken, nil)
	env.expect(resp, http.StatusOK)
	if calls := env.github.calls.Load(); calls != 2 {
		t.Errorf("github calls after new window = %d, want 2", calls)
	}

	env.db.Model(&models.RepoSnapshot{}).
		Where("owner = ? AND name = ? AND window_days = ?", "octo", "demo", 21).
		Update("fetched_at", time.Now().Add(-time.Hour))
	env.github.failing.Store(true)

	resp = env.do(http.MethodGet, "/api/supervisor/repo-data/octo/demo", supToken, nil)
	env.expect(resp, http.StatusOK)
	var stale models.RepoData
	resp.decode(t, &stale)
	if !stale.Stale || len(stale.Contributors.Active) != 1 {
		t.Errorf("stale data = %+v", stale)
	}

	resp = env.do(http.MethodGet, "/api/supervisor/repo-data/octo/demo?days=30", supToken, nil)
	env.expect(resp, http.StatusBadGateway)

	resp = env.do(http.MethodGet, "/api/supervisor/repo-data/octo/missing", supToken, nil)
	env.expect(resp, http.StatusNotFound)

	resp = env.do(http.MethodGet, "/api/supervisor/repo-data/octo/demo?days=0", supToken, nil)
	env.expect(resp, http.StatusBadRequest)

	resp = env.do(http.MethodGet, "/api/supervisor/repo-data/octo/demo", otherSupToken, nil)
	env.expect(resp, http.StatusForbidden)
	resp = env.do(http.MethodGet, "/api/supervisor/repo-data/octo/demo", strangerToken, nil)
	env.expect(resp, http.StatusForbidden)
	resp = env.do(http.MethodGet, "/api/supervisor/repo-data/octo/unsaved", supToken, nil)
	env.expect(resp, http.StatusForbidden)
}

func TestRepoDataShortWindow(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.ActivityWindow = time.Hour
	_, token := env.user("s@x.com", models.RoleStudent)

	resp := env.do(http.MethodPost, "/api/repositories/save", token, map[string]string{"owner": "octo", "name": "demo"})
	env.expect(resp, http.StatusOK)

	resp = env.do(http.MethodGet, "/api/supervisor/repo-data/octo/demo", token, nil)
	env.expect(resp, http.StatusOK)

	var snapshots []models.RepoSnapshot
	env.db.Find(&snapshots)
	if len(snapshots) != 1 || snapshots[0].WindowDays != 1 {
		t.Errorf("snapshots = %+v, want one 1-day window", snapshots)
	}
}

func TestAllRepos(t *testing.T) {
	env := newTestEnv(t)
	student, studentToken := env.user("s@x.com", models.RoleStudent)
	_, otherToken := env.user("o@x.com", models.RoleStudent)
	sup, supToken := env.user("sup@x.com", models.RoleSupervisor)

	for _, name := range []string{"one", "two"} {
		resp := env.do(http.MethodPost, "/api/repositories/save", studentToken, map[string]string{"owner": "octo", "name": name})
		env.expect(resp, http.StatusOK)
	}
	resp := env.do(http.MethodPost, "/api/repositories/save", otherToken, map[string]string{"owner": "octo", "name": "other"})
	env.expect(resp, http.StatusOK)

	resp = env.do(http.MethodGet, "/api/supervisor/all-repos", supToken, nil)
	env.expect(resp, http.StatusOK)
	var repos []models.Repository
	resp.decode(t, &repos)
	if len(repos) != 0 {
		t.Fatalf("repos before connecting = %+v", repos)
	}

	env.connect(student, sup)
	// linked rows match both the supervisor and the student and are listed once
	resp = env.do(http.MethodPost, "/link-student-repos", supToken, map[string]string{"studentUID": student.UID})
	env.expect(resp, http.StatusOK)

	resp = env.do(http.MethodGet, "/api/supervisor/all-repos", supToken, nil)
	env.expect(resp, http.StatusOK)
	resp.decode(t, &repos)
	if len(repos) != 2 || repos[0].Name != "one" || repos[1].Name != "two" {
		t.Errorf("repos = %+v", repos)
	}

	resp = env.do(http.MethodGet, "/api/supervisor/all-repos", studentToken, nil)
	env.expect(resp, http.StatusForbidden)
}

func TestCreateTeamRepo(t *testing.T) {
	env := newTestEnv(t)
	student, token := env.user("s@x.com", models.RoleStudent)
	sup, _ := env.user("sup@x.com", models.RoleSupervisor)

	body := map[string]interface{}{
		"teamName":          "capstone",
		"members":           []string{" Mate ", "mate", "ghost", "STU", ""},
		"githubAccessToken": "student-token",
	}

	resp := env.do(http.MethodPost, "/create-team-repo", token, body)
	env.expect(resp, http.StatusCreated)
	var created TeamRepo
	resp.decode(t, &created)
	repo := created.Repository
	if repo == nil || repo.FullName() != "stu/capstone" || !repo.PendingApproval || repo.SupervisorUID != "" || repo.StudentUID != student.UID {
		t.Fatalf("repo = %+v", repo)
	}
	want := []CollaboratorResult{{Username: "mate", Status: "success"}, {Username: "ghost", Status: "failed"}}
	if len(created.Collaborators) != len(want) {
		t.Fatalf("collaborators = %+v", created.Collaborators)
	}
	for i, c := range created.Collaborators {
		if c.Username != want[i].Username || c.Status != want[i].Status {
			t.Errorf("collaborators[%d] = %+v, want %+v", i, c, want[i])
		}
	}
	if created.Collaborators[1].Error == "" {
		t.Error("failed invitation should carry its error")
	}

	env.connect(student, sup)
	body["teamName"] = "thesis"
	resp = env.do(http.MethodPost, "/create-team-repo", token, body)
	env.expect(resp, http.StatusCreated)
	resp.decode(t, &created)
	if created.Repository.PendingApproval || created.Repository.SupervisorUID != sup.UID ||
		created.Repository.ConnectionID != models.ConnectionID(student.UID, sup.UID) {
		t.Errorf("connected repo = %+v", created.Repository)
	}
	if len(created.Repository.TeamMembers) != 2 {
		t.Errorf("team members = %v", created.Repository.TeamMembers)
	}

	body["githubAccessToken"] = "revoked"
	resp = env.do(http.MethodPost, "/create-team-repo", token, body)
	env.expect(resp, http.StatusUnauthorized)

	body["githubAccessToken"] = "student-token"
	body["permission"] = "owner"
	resp = env.do(http.MethodPost, "/create-team-repo", token, body)
	env.expect(resp, http.StatusBadRequest)

	var count int64
	env.db.Model(&models.Repository{}).Where("student_uid = ?", student.UID).Count(&count)
	if count != 2 {
		t.Errorf("stored repositories = %d, want 2", count)
	}
}
