package client

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"superviseme/models"
)

// URLOpener hands a link to whatever shows it to the user.
type URLOpener interface {
	Open(ctx context.Context, rawURL string) error
}

type URLOpenerFunc func(ctx context.Context, rawURL string) error

func (f URLOpenerFunc) Open(ctx context.Context, rawURL string) error {
	return f(ctx, rawURL)
}

type RepositoryLinker struct {
	client *Client
	opener URLOpener
}

func NewRepositoryLinker(c *Client, opener URLOpener) *RepositoryLinker {
	return &RepositoryLinker{client: c, opener: opener}
}

// LinkRepositories ties the student's repositories to the signed-in
// supervisor and returns how many changed. Calling it again is harmless.
func (l *RepositoryLinker) LinkRepositories(ctx context.Context, studentUID string) (int64, error) {
	if strings.TrimSpace(studentUID) == "" {
		return 0, &ValidationError{Field: "studentUID", Message: "is required"}
	}

	var result struct {
		Updated int64 `json:"updated"`
	}
	if err := l.client.do(ctx, http.MethodPost, "/link-student-repos", map[string]string{"studentUID": studentUID}, &result); err != nil {
		return 0, err
	}
	return result.Updated, nil
}

func (l *RepositoryLinker) ListRepositoriesForStudent(ctx context.Context, studentUID string) ([]models.Repository, error) {
	if strings.TrimSpace(studentUID) == "" {
		return nil, &ValidationError{Field: "studentUID", Message: "is required"}
	}

	var repos []models.Repository
	if err := l.client.do(ctx, http.MethodGet, "/api/student-repositories/"+url.PathEscape(studentUID), nil, &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

// ListAllRepositories returns the signed-in supervisor's repositories and
// those of every connected student.
func (l *RepositoryLinker) ListAllRepositories(ctx context.Context) ([]models.Repository, error) {
	var repos []models.Repository
	if err := l.client.do(ctx, http.MethodGet, "/api/supervisor/all-repos", nil, &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

// OpenRepository shows a repository page. Failures are logged and dropped.
func (l *RepositoryLinker) OpenRepository(ctx context.Context, rawURL string) {
	logger := l.client.logger.With(slog.String("url", rawURL))

	u, err := url.ParseRequestURI(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		logger.Warn("not opening malformed repository url")
		return
	}
	if l.opener == nil {
		logger.Warn("no url opener configured")
		return
	}
	if err := l.opener.Open(ctx, u.String()); err != nil {
		logger.Warn("failed to open repository url", slog.String("error", err.Error()))
	}
}

// SaveRepository registers owner/name for the signed-in student.
func (l *RepositoryLinker) SaveRepository(ctx context.Context, owner, name string, teamMembers []string) (*models.Repository, error) {
	owner, name = strings.TrimSpace(owner), strings.TrimSpace(name)
	if !models.ValidRepoPart(owner) {
		return nil, &ValidationError{Field: "owner", Message: "is invalid"}
	}
	if !models.ValidRepoPart(name) {
		return nil, &ValidationError{Field: "name", Message: "is invalid"}
	}

	body := map[string]interface{}{"owner": owner, "name": name, "teamMembers": teamMembers}
	var repo models.Repository
	if err := l.client.do(ctx, http.MethodPost, "/api/repositories/save", body, &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

func (l *RepositoryLinker) SearchByOwner(ctx context.Context, owner string) ([]models.Repository, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, &ValidationError{Field: "owner", Message: "is required"}
	}

	var repos []models.Repository
	if err := l.client.do(ctx, http.MethodGet, "/api/repositories/search?owner="+url.QueryEscape(owner), nil, &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

// RepositoryValidation is what GitHub reports about a repository.
type RepositoryValidation struct {
	Repository struct {
		FullName      string `json:"fullName"`
		HTMLURL       string `json:"htmlUrl"`
		Private       bool   `json:"private"`
		DefaultBranch string `json:"defaultBranch"`
	} `json:"repository"`
	Contributors []models.ActiveContributor `json:"contributors"`
}

func (l *RepositoryLinker) ValidateRepository(ctx context.Context, owner, name string) (*RepositoryValidation, error) {
	owner, name = strings.TrimSpace(owner), strings.TrimSpace(name)
	if !models.ValidRepoPart(owner) || !models.ValidRepoPart(name) {
		return nil, &ValidationError{Field: "repository", Message: "owner and name are required"}
	}

	var v RepositoryValidation
	body := map[string]string{"owner": owner, "name": name}
	if err := l.client.do(ctx, http.MethodPost, "/api/validate-repository", body, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
