package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"superviseme/models"
)

// ContributorAggregator reads contributor groups from the backend snapshot
// endpoint only. It never queries GitHub itself.
type ContributorAggregator struct {
	client *Client
}

func NewContributorAggregator(c *Client) *ContributorAggregator {
	return &ContributorAggregator{client: c}
}

// GetContributors returns the repository's contributors as tagged records,
// active first, in the order the backend listed them.
func (a *ContributorAggregator) GetContributors(ctx context.Context, owner, name string) ([]models.ContributorRecord, error) {
	records, _, err := a.GetContributorsWindow(ctx, owner, name, 0)
	return records, err
}

// GetContributorsWindow is GetContributors for an activity window of days
// (0 means the backend default). It also returns the raw reply.
func (a *ContributorAggregator) GetContributorsWindow(ctx context.Context, owner, name string, days int) ([]models.ContributorRecord, *models.RepoData, error) {
	if !models.ValidRepoPart(owner) || !models.ValidRepoPart(name) {
		return nil, nil, &ValidationError{Field: "repository", Message: "owner and name are required"}
	}

	path := "/api/supervisor/repo-data/" + url.PathEscape(owner) + "/" + url.PathEscape(name)
	if days > 0 {
		path += "?days=" + strconv.Itoa(days)
	}

	var data models.RepoData
	if err := a.client.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, nil, err
	}

	records, err := data.Contributors.Merge()
	if err != nil {
		return nil, nil, &DataError{Err: err}
	}
	return records, &data, nil
}

// SortByContributions orders records by contributions, most first, then by
// login.
func SortByContributions(records []models.ContributorRecord) {
	models.SortByContributions(records)
}
