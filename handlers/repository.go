package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"superviseme/config"
	"superviseme/github"
	"superviseme/middleware"
	"superviseme/models"

	"github.com/go-chi/chi/v5"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RepositoryHandler struct {
	config *config.Config
	db     *gorm.DB
	logger *slog.Logger
	github *github.Client
}

func NewRepositoryHandler(cfg *config.Config, db *gorm.DB, logger *slog.Logger, gh *github.Client) *RepositoryHandler {
	return &RepositoryHandler{
		config: cfg,
		db:     db,
		logger: logger,
		github: gh,
	}
}

type saveRepositoryRequest struct {
	Owner       string   `json:"owner" validate:"required"`
	Name        string   `json:"name" validate:"required"`
	TeamMembers []string `json:"teamMembers"`
}

type linkReposRequest struct {
	StudentUID string `json:"studentUID" validate:"required"`
}

type teamRepoRequest struct {
	TeamName          string   `json:"teamName" validate:"required"`
	Members           []string `json:"members"`
	Permission        string   `json:"permission" validate:"omitempty,oneof=pull triage push maintain admin"`
	GitHubAccessToken string   `json:"githubAccessToken" validate:"required"`
}

type validateRepositoryRequest struct {
	Owner string `json:"owner" validate:"required"`
	Name  string `json:"name" validate:"required"`
}

// LinkResult reports how many repositories a link call changed.
type LinkResult struct {
	Updated int64 `json:"updated"`
}

// Validation is what GitHub knows about a repository a student wants to save.
type Validation struct {
	Repository   *github.RepoInfo           `json:"repository"`
	Contributors []models.ActiveContributor `json:"contributors"`
}

// CollaboratorResult is the outcome of inviting one team member.
type CollaboratorResult struct {
	Username string `json:"username"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// TeamRepo is the created repository and how each invitation went.
type TeamRepo struct {
	Repository    *models.Repository   `json:"repository"`
	Collaborators []CollaboratorResult `json:"collaborators"`
}

const maxWindowDays = 365

var errRepoTaken = errors.New("repository belongs to another student")

// Save records a repository for the current student, updating the team of an
// existing row the student already owns.
func (h *RepositoryHandler) Save(w http.ResponseWriter, r *http.Request) {
	student := middleware.GetUserFromContext(r.Context())

	var req saveRepositoryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, h.logger, http.StatusBadRequest, err.Error(), nil)
		return
	}
	owner, name := strings.TrimSpace(req.Owner), strings.TrimSpace(req.Name)
	if !models.ValidRepoPart(owner) || !models.ValidRepoPart(name) {
		respondError(w, r, h.logger, http.StatusBadRequest, "Invalid repository owner or name", nil)
		return
	}

	members := make([]string, 0, len(req.TeamMembers))
	for _, m := range req.TeamMembers {
		if m = strings.TrimSpace(m); m != "" {
			members = append(members, m)
		}
	}

	var repo models.Repository
	err := h.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("owner = ? AND name = ?", owner, name).First(&repo).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			repo = models.Repository{
				Owner:           owner,
				Name:            name,
				StudentUID:      student.UID,
				PendingApproval: true,
				TeamMembers:     datatypes.JSONSlice[string](members),
			}
			return tx.Create(&repo).Error
		case err != nil:
			return err
		}

		if repo.StudentUID != student.UID {
			return errRepoTaken
		}
		repo.TeamMembers = datatypes.JSONSlice[string](members)
		return tx.Model(&repo).Update("team_members", repo.TeamMembers).Error
	})
	switch {
	case errors.Is(err, errRepoTaken):
		respondError(w, r, h.logger, http.StatusConflict, "Repository already registered by another student", nil)
		return
	case err != nil:
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to save repository", err)
		return
	}

	respondSuccess(w, http.StatusOK, &repo)
}

func (h *RepositoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		respondError(w, r, h.logger, http.StatusBadRequest, "owner is required", nil)
		return
	}

	repos := []models.Repository{}
	if err := h.db.Where("lower(owner) = ?", strings.ToLower(owner)).Order("name asc").Find(&repos).Error; err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to search repositories", err)
		return
	}
	respondSuccess(w, http.StatusOK, repos)
}

// ListForStudent returns a student's repositories to a supervisor they are
// connected to.
func (h *RepositoryHandler) ListForStudent(w http.ResponseWriter, r *http.Request) {
	supervisor := middleware.GetUserFromContext(r.Context())
	studentUID := chi.URLParam(r, "studentUID")

	if !h.connected(studentUID, supervisor.UID) {
		respondError(w, r, h.logger, http.StatusForbidden, "No active connection with this student", nil)
		return
	}

	repos := []models.Repository{}
	if err := h.db.Where("student_uid = ?", studentUID).Order("created_at asc").Find(&repos).Error; err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to load repositories", err)
		return
	}
	respondSuccess(w, http.StatusOK, repos)
}

// LinkStudentRepos ties the student's unlinked repositories to the current
// supervisor. Rows already linked are left alone, so repeating the call
// changes nothing.
func (h *RepositoryHandler) LinkStudentRepos(w http.ResponseWriter, r *http.Request) {
	supervisor := middleware.GetUserFromContext(r.Context())

	var req linkReposRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, h.logger, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if !h.connected(req.StudentUID, supervisor.UID) {
		respondError(w, r, h.logger, http.StatusForbidden, "No active connection with this student", nil)
		return
	}

	connectionID := models.ConnectionID(req.StudentUID, supervisor.UID)
	var updated int64
	err := h.db.Transaction(func(tx *gorm.DB) error {
		var repos []models.Repository
		if err := tx.Where("student_uid = ?", req.StudentUID).Find(&repos).Error; err != nil {
			return err
		}
		ids := make([]string, 0, len(repos))
		for i := range repos {
			if repos[i].NeedsLink() {
				ids = append(ids, repos[i].ID)
			}
		}
		if len(ids) == 0 {
			return nil
		}
		result := tx.Model(&models.Repository{}).Where("id IN ?", ids).Updates(map[string]interface{}{
			"supervisor_uid":   supervisor.UID,
			"connection_id":    connectionID,
			"pending_approval": false,
			"updated_at":       time.Now(),
		})
		updated = result.RowsAffected
		return result.Error
	})
	if err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to link repositories", err)
		return
	}

	h.logger.Info("student repositories linked",
		slog.String("student_uid", req.StudentUID),
		slog.String("supervisor_uid", supervisor.UID),
		slog.Int64("updated", updated))
	respondSuccess(w, http.StatusOK, LinkResult{Updated: updated})
}

// AllRepos lists the supervisor's own repositories together with those of
// every actively connected student.
func (h *RepositoryHandler) AllRepos(w http.ResponseWriter, r *http.Request) {
	supervisor := middleware.GetUserFromContext(r.Context())

	students := h.db.Model(&models.Connection{}).
		Select("student_uid").
		Where("supervisor_uid = ? AND status = ?", supervisor.UID, models.ConnectionActive)

	repos := []models.Repository{}
	if err := h.db.Where("supervisor_uid = ? OR student_uid IN (?)", supervisor.UID, students).
		Order("created_at asc").
		Find(&repos).Error; err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to load repositories", err)
		return
	}
	respondSuccess(w, http.StatusOK, repos)
}

// CreateTeamRepo creates a private repository on the student's GitHub
// account, invites the team and records the repository. The student's
// token is used for this request only.
func (h *RepositoryHandler) CreateTeamRepo(w http.ResponseWriter, r *http.Request) {
	student := middleware.GetUserFromContext(r.Context())

	var req teamRepoRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, h.logger, http.StatusBadRequest, err.Error(), nil)
		return
	}
	name := strings.TrimSpace(req.TeamName)
	if !models.ValidRepoPart(name) {
		respondError(w, r, h.logger, http.StatusBadRequest, "Invalid team name", nil)
		return
	}
	permission := req.Permission
	if permission == "" {
		permission = "push"
	}
	if h.github == nil {
		respondError(w, r, h.logger, http.StatusServiceUnavailable, "GitHub is not configured", nil)
		return
	}

	var conn models.Connection
	err := h.db.Where("student_uid = ? AND status = ?", student.UID, models.ConnectionActive).
		Order("created_at asc").
		First(&conn).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to load connection", err)
		return
	}

	client := h.github.WithToken(req.GitHubAccessToken)
	info, owner, err := client.CreateRepository(r.Context(), name, "Team repository for "+name)
	if err != nil {
		if github.StatusCode(err) == http.StatusUnauthorized {
			respondError(w, r, h.logger, http.StatusUnauthorized, "GitHub rejected the access token", nil)
			return
		}
		respondError(w, r, h.logger, http.StatusBadGateway, "Failed to create repository on GitHub", err)
		return
	}

	members := models.TeamMembers(req.Members, owner)
	results := make([]CollaboratorResult, 0, len(members))
	for _, login := range members {
		res := CollaboratorResult{Username: login, Status: "success"}
		if err := client.AddCollaborator(r.Context(), owner, name, login, permission); err != nil {
			h.logger.Warn("failed to add collaborator",
				slog.String("repo", owner+"/"+name),
				slog.String("login", login),
				slog.String("error", err.Error()))
			res.Status, res.Error = "failed", err.Error()
		}
		results = append(results, res)
	}

	repo := models.Repository{
		Owner:           owner,
		Name:            name,
		GitHubURL:       info.HTMLURL,
		StudentUID:      student.UID,
		SupervisorUID:   conn.SupervisorUID,
		ConnectionID:    conn.ID,
		PendingApproval: conn.SupervisorUID == "",
		TeamMembers:     datatypes.JSONSlice[string](members),
	}
	err = h.db.Transaction(func(tx *gorm.DB) error {
		var existing models.Repository
		err := tx.Where("owner = ? AND name = ?", owner, name).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&repo).Error
		case err != nil:
			return err
		case existing.StudentUID != student.UID:
			return errRepoTaken
		}
		repo.ID, repo.CreatedAt = existing.ID, existing.CreatedAt
		return tx.Save(&repo).Error
	})
	switch {
	case errors.Is(err, errRepoTaken):
		respondError(w, r, h.logger, http.StatusConflict, "Repository already registered by another student", nil)
		return
	case err != nil:
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to save repository", err)
		return
	}

	h.logger.Info("team repository created",
		slog.String("repo", repo.FullName()),
		slog.String("student_uid", student.UID),
		slog.Int("members", len(members)))
	respondSuccess(w, http.StatusCreated, TeamRepo{Repository: &repo, Collaborators: results})
}

// Validate checks that a repository exists on GitHub and lists its contributors.
func (h *RepositoryHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRepositoryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, h.logger, http.StatusBadRequest, err.Error(), nil)
		return
	}
	owner, name := strings.TrimSpace(req.Owner), strings.TrimSpace(req.Name)
	if !models.ValidRepoPart(owner) || !models.ValidRepoPart(name) {
		respondError(w, r, h.logger, http.StatusBadRequest, "Invalid repository owner or name", nil)
		return
	}

	info, err := h.github.Repository(r.Context(), owner, name)
	if err != nil {
		h.respondGitHubError(w, r, err)
		return
	}
	contributors, err := h.github.Contributors(r.Context(), owner, name)
	if err != nil {
		h.respondGitHubError(w, r, err)
		return
	}

	respondSuccess(w, http.StatusOK, Validation{Repository: info, Contributors: contributors})
}

// RepoData returns the contributor group of a repository for the requested
// activity window. Snapshots younger than the configured TTL are served as
// they are; when GitHub fails an older snapshot is served marked stale.
func (h *RepositoryHandler) RepoData(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	owner, name := chi.URLParam(r, "owner"), chi.URLParam(r, "name")
	if !models.ValidRepoPart(owner) || !models.ValidRepoPart(name) {
		respondError(w, r, h.logger, http.StatusBadRequest, "Invalid repository owner or name", nil)
		return
	}

	days := max(int(h.config.ActivityWindow/(24*time.Hour)), 1)
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxWindowDays {
			respondError(w, r, h.logger, http.StatusBadRequest, "days must be between 1 and 365", nil)
			return
		}
		days = n
	}

	var repo models.Repository
	err := h.db.Where("owner = ? AND name = ?", owner, name).First(&repo).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to load repository", err)
		return
	}
	if err != nil || !h.canRead(user, &repo) {
		respondError(w, r, h.logger, http.StatusForbidden, "Access denied", nil)
		return
	}

	now := time.Now()
	var snapshot models.RepoSnapshot
	err = h.db.Where("owner = ? AND name = ? AND window_days = ?", owner, name, days).First(&snapshot).Error
	found := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to load snapshot", err)
		return
	}
	if found && snapshot.FreshAt(now, h.config.SnapshotTTL) {
		respondSuccess(w, http.StatusOK, repoData(&snapshot, false))
		return
	}

	since := now.AddDate(0, 0, -days)
	group, err := h.github.ContributorGroup(r.Context(), owner, name, since)
	if err != nil {
		if found {
			h.logger.Warn("serving stale contributor snapshot",
				slog.String("repo", owner+"/"+name),
				slog.Time("fetched_at", snapshot.FetchedAt),
				slog.String("error", err.Error()))
			respondSuccess(w, http.StatusOK, repoData(&snapshot, true))
			return
		}
		h.respondGitHubError(w, r, err)
		return
	}

	snapshot = models.RepoSnapshot{
		Owner:      owner,
		Name:       name,
		WindowDays: days,
		Since:      since,
		FetchedAt:  now,
		Payload:    datatypes.NewJSONType(group),
	}
	if err := h.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner"}, {Name: "name"}, {Name: "window_days"}},
		UpdateAll: true,
	}).Create(&snapshot).Error; err != nil {
		// the fresh data is still worth returning
		h.logger.Error("failed to store contributor snapshot",
			slog.String("repo", owner+"/"+name), slog.String("error", err.Error()))
	}

	respondSuccess(w, http.StatusOK, repoData(&snapshot, false))
}

func repoData(s *models.RepoSnapshot, stale bool) models.RepoData {
	return models.RepoData{
		Contributors: s.Payload.Data(),
		Since:        s.Since,
		FetchedAt:    s.FetchedAt,
		Stale:        stale,
	}
}

func (h *RepositoryHandler) respondGitHubError(w http.ResponseWriter, r *http.Request, err error) {
	if github.StatusCode(err) == http.StatusNotFound {
		respondError(w, r, h.logger, http.StatusNotFound, "Repository not found on GitHub", nil)
		return
	}
	respondError(w, r, h.logger, http.StatusBadGateway, "GitHub request failed", err)
}

// canRead allows the owning student, the linked supervisor and any
// supervisor actively connected to the owning student.
func (h *RepositoryHandler) canRead(user *middleware.Claims, repo *models.Repository) bool {
	if user.IsStudent() {
		return repo.StudentUID == user.UID
	}
	return user.IsSupervisor() && (repo.SupervisorUID == user.UID || h.connected(repo.StudentUID, user.UID))
}

func (h *RepositoryHandler) connected(studentUID, supervisorUID string) bool {
	var count int64
	h.db.Model(&models.Connection{}).
		Where("id = ? AND status = ?", models.ConnectionID(studentUID, supervisorUID), models.ConnectionActive).
		Count(&count)
	return count > 0
}
