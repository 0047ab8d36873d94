// Package github reads repository activity from the GitHub REST API.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"superviseme/models"

	gh "github.com/google/go-github/v66/github"
)

const perPage = 100

type Client struct {
	gh     *gh.Client
	logger *slog.Logger
}

// NewClient builds a client against baseURL (empty means api.github.com),
// authenticated with token when it is not empty.
func NewClient(httpClient *http.Client, baseURL, token string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := gh.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		client.BaseURL = u
	}

	return &Client{gh: client, logger: logger}, nil
}

// WithToken returns a copy of c that authenticates as token.
func (c *Client) WithToken(token string) *Client {
	return &Client{gh: c.gh.WithAuthToken(token), logger: c.logger}
}

// Member is a GitHub account as shown in contributor listings.
type Member struct {
	Login  string
	Avatar string
}

// RepoInfo is the subset of repository metadata the portal shows.
type RepoInfo struct {
	ID            int64  `json:"id"`
	FullName      string `json:"fullName"`
	Description   string `json:"description,omitempty"`
	HTMLURL       string `json:"htmlUrl"`
	Private       bool   `json:"private"`
	DefaultBranch string `json:"defaultBranch"`
	Language      string `json:"language,omitempty"`
	Stars         int    `json:"stars"`
}

func (c *Client) Repository(ctx context.Context, owner, name string) (*RepoInfo, error) {
	repo, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("get repository %s/%s: %w", owner, name, err)
	}
	return &RepoInfo{
		ID:            repo.GetID(),
		FullName:      repo.GetFullName(),
		Description:   repo.GetDescription(),
		HTMLURL:       repo.GetHTMLURL(),
		Private:       repo.GetPrivate(),
		DefaultBranch: repo.GetDefaultBranch(),
		Language:      repo.GetLanguage(),
		Stars:         repo.GetStargazersCount(),
	}, nil
}

// Contributors returns contributors with their commit counts, in GitHub's order.
func (c *Client) Contributors(ctx context.Context, owner, name string) ([]models.ActiveContributor, error) {
	list, _, err := c.gh.Repositories.ListContributors(ctx, owner, name, &gh.ListContributorsOptions{
		ListOptions: gh.ListOptions{PerPage: perPage},
	})
	if err != nil {
		return nil, fmt.Errorf("list contributors %s/%s: %w", owner, name, err)
	}

	out := make([]models.ActiveContributor, 0, len(list))
	for _, contributor := range list {
		out = append(out, models.ActiveContributor{
			Login:         contributor.GetLogin(),
			Avatar:        contributor.GetAvatarURL(),
			Contributions: contributor.GetContributions(),
		})
	}
	return out, nil
}

// AuthenticatedUser returns the account the client's token belongs to.
func (c *Client) AuthenticatedUser(ctx context.Context) (int64, string, error) {
	user, _, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return 0, "", fmt.Errorf("get authenticated user: %w", err)
	}
	return user.GetID(), user.GetLogin(), nil
}

// CreateRepository creates a private repository with an initial commit under
// the account the client's token belongs to.
func (c *Client) CreateRepository(ctx context.Context, name, description string) (*RepoInfo, string, error) {
	repo, _, err := c.gh.Repositories.Create(ctx, "", &gh.Repository{
		Name:        gh.String(name),
		Description: gh.String(description),
		Private:     gh.Bool(true),
		AutoInit:    gh.Bool(true),
	})
	if err != nil {
		return nil, "", fmt.Errorf("create repository %s: %w", name, err)
	}
	return &RepoInfo{
		ID:            repo.GetID(),
		FullName:      repo.GetFullName(),
		Description:   repo.GetDescription(),
		HTMLURL:       repo.GetHTMLURL(),
		Private:       repo.GetPrivate(),
		DefaultBranch: repo.GetDefaultBranch(),
	}, repo.GetOwner().GetLogin(), nil
}

// AddCollaborator invites login to owner/name with the given permission.
func (c *Client) AddCollaborator(ctx context.Context, owner, name, login, permission string) error {
	_, _, err := c.gh.Repositories.AddCollaborator(ctx, owner, name, login, &gh.RepositoryAddCollaboratorOptions{
		Permission: permission,
	})
	if err != nil {
		return fmt.Errorf("add collaborator %s to %s/%s: %w", login, owner, name, err)
	}
	return nil
}

// ContributorGroup classifies the accepted collaborators of owner/name as
// active when they authored or committed since the given time, and adds
// pending invitees to the inactive group.
func (c *Client) ContributorGroup(ctx context.Context, owner, name string, since time.Time) (models.ContributorGroup, error) {
	contributors, err := c.Contributors(ctx, owner, name)
	if err != nil {
		return models.ContributorGroup{}, err
	}

	commits, _, err := c.gh.Repositories.ListCommits(ctx, owner, name, &gh.CommitsListOptions{
		Since:       since,
		ListOptions: gh.ListOptions{PerPage: perPage},
	})
	if err != nil {
		return models.ContributorGroup{}, fmt.Errorf("list commits %s/%s: %w", owner, name, err)
	}
	activity := make([]CommitActivity, 0, len(commits))
	for _, commit := range commits {
		activity = append(activity, CommitActivity{
			AuthorLogin:    commit.GetAuthor().GetLogin(),
			CommitterLogin: commit.GetCommitter().GetLogin(),
			AuthorName:     commit.GetCommit().GetAuthor().GetName(),
		})
	}

	collaborators, _, err := c.gh.Repositories.ListCollaborators(ctx, owner, name, &gh.ListCollaboratorsOptions{
		ListOptions: gh.ListOptions{PerPage: perPage},
	})
	if err != nil {
		return models.ContributorGroup{}, fmt.Errorf("list collaborators %s/%s: %w", owner, name, err)
	}
	accepted := make([]Member, 0, len(collaborators))
	for _, u := range collaborators {
		accepted = append(accepted, Member{Login: u.GetLogin(), Avatar: u.GetAvatarURL()})
	}

	var pending []Member
	invitations, _, err := c.gh.Repositories.ListInvitations(ctx, owner, name, &gh.ListOptions{PerPage: perPage})
	if err != nil {
		// tokens without admin scope cannot see invitations
		c.logger.Warn("skipping repository invitations",
			slog.String("repo", owner+"/"+name), slog.String("error", err.Error()))
	}
	for _, inv := range invitations {
		if login := inv.GetInvitee().GetLogin(); login != "" {
			pending = append(pending, Member{Login: login, Avatar: inv.GetInvitee().GetAvatarURL()})
		}
	}

	return Partition(contributors, activity, accepted, pending), nil
}

// CommitActivity is the identity information of one commit.
type CommitActivity struct {
	AuthorLogin    string
	CommitterLogin string
	AuthorName     string
}

// Partition splits accepted collaborators into active and inactive groups.
// A collaborator is active when a commit names them as author or committer,
// or when a commit's author name equals a contributor login ignoring case.
// Pending invitees that are not collaborators yet are appended as inactive.
func Partition(contributors []models.ActiveContributor, commits []CommitActivity, accepted, pending []Member) models.ContributorGroup {
	counts := make(map[string]int, len(contributors))
	byLowerLogin := make(map[string]string, len(contributors))
	for _, c := range contributors {
		counts[c.Login] = c.Contributions
		byLowerLogin[strings.ToLower(c.Login)] = c.Login
	}

	activeLogins := make(map[string]bool)
	for _, commit := range commits {
		if commit.AuthorLogin != "" {
			activeLogins[commit.AuthorLogin] = true
		}
		if commit.CommitterLogin != "" {
			activeLogins[commit.CommitterLogin] = true
		}
		if login, ok := byLowerLogin[strings.ToLower(commit.AuthorName)]; ok && commit.AuthorName != "" {
			activeLogins[login] = true
		}
	}

	group := models.ContributorGroup{
		Active:        []models.ActiveContributor{},
		Inactive:      []models.InactiveContributor{},
		TotalAccepted: len(accepted),
		TotalPending:  len(pending),
	}

	acceptedSet := make(map[string]bool, len(accepted))
	for _, m := range accepted {
		acceptedSet[m.Login] = true
		if activeLogins[m.Login] {
			group.Active = append(group.Active, models.ActiveContributor{
				Login:         m.Login,
				Avatar:        m.Avatar,
				Contributions: counts[m.Login],
			})
		} else {
			group.Inactive = append(group.Inactive, models.InactiveContributor{
				Login:  m.Login,
				Avatar: m.Avatar,
			})
		}
	}

	for _, m := range pending {
		if acceptedSet[m.Login] {
			continue
		}
		group.Inactive = append(group.Inactive, models.InactiveContributor{
			Login:         m.Login,
			Avatar:        m.Avatar,
			PendingInvite: true,
		})
	}

	return group
}

// StatusCode extracts the HTTP status GitHub answered with, or 0 when err
// did not come from a GitHub response.
func StatusCode(err error) int {
	var errResp *gh.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return errResp.Response.StatusCode
	}
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) && rateErr.Response != nil {
		return rateErr.Response.StatusCode
	}
	return 0
}
