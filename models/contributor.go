package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type ContributorStatus string

const (
	ContributorActive   ContributorStatus = "active"
	ContributorInactive ContributorStatus = "inactive"
)

var (
	ErrMissingLogin   = errors.New("contributor without login")
	ErrDuplicateLogin = errors.New("contributor listed more than once")
)

type ActiveContributor struct {
	Login         string `json:"login"`
	Avatar        string `json:"avatar,omitempty"`
	Contributions int    `json:"contributions"`
}

type InactiveContributor struct {
	Login         string `json:"login"`
	Avatar        string `json:"avatar,omitempty"`
	Contributions int    `json:"contributions"`
	PendingInvite bool   `json:"pendingInvite,omitempty"`
}

// ContributorGroup classifies a repository's contributors at query time.
type ContributorGroup struct {
	Active        []ActiveContributor   `json:"active"`
	Inactive      []InactiveContributor `json:"inactive"`
	TotalAccepted int                   `json:"totalAccepted"`
	TotalPending  int                   `json:"totalPending"`
}

// ContributorRecord is one contributor tagged with the group it came from.
type ContributorRecord struct {
	Login         string            `json:"login"`
	Avatar        string            `json:"avatar,omitempty"`
	Contributions int               `json:"contributions"`
	PendingInvite bool              `json:"pendingInvite,omitempty"`
	Status        ContributorStatus `json:"status"`
}

// Merge flattens the group into tagged records, active first, each group in
// its original order. A login that is empty or appears twice is an error.
func (g ContributorGroup) Merge() ([]ContributorRecord, error) {
	records := make([]ContributorRecord, 0, len(g.Active)+len(g.Inactive))
	seen := make(map[string]ContributorStatus, cap(records))

	add := func(rec ContributorRecord) error {
		if strings.TrimSpace(rec.Login) == "" {
			return fmt.Errorf("%w in %s group", ErrMissingLogin, rec.Status)
		}
		if prev, ok := seen[rec.Login]; ok {
			return fmt.Errorf("%w: %q in %s and %s", ErrDuplicateLogin, rec.Login, prev, rec.Status)
		}
		seen[rec.Login] = rec.Status
		records = append(records, rec)
		return nil
	}

	for _, c := range g.Active {
		if err := add(ContributorRecord{
			Login:         c.Login,
			Avatar:        c.Avatar,
			Contributions: c.Contributions,
			Status:        ContributorActive,
		}); err != nil {
			return nil, err
		}
	}
	for _, c := range g.Inactive {
		if err := add(ContributorRecord{
			Login:         c.Login,
			Avatar:        c.Avatar,
			Contributions: c.Contributions,
			PendingInvite: c.PendingInvite,
			Status:        ContributorInactive,
		}); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// SortByContributions orders records by contribution count descending,
// then login ascending.
func SortByContributions(records []ContributorRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Contributions != records[j].Contributions {
			return records[i].Contributions > records[j].Contributions
		}
		return records[i].Login < records[j].Login
	})
}

// RepoSnapshot is the backend-cached contributor group of one repository
// for one activity window.
type RepoSnapshot struct {
	Owner      string                               `gorm:"primaryKey;size:100"`
	Name       string                               `gorm:"primaryKey;size:100"`
	WindowDays int                                  `gorm:"primaryKey;autoIncrement:false"`
	Since      time.Time                            `gorm:"not null"`
	FetchedAt  time.Time                            `gorm:"not null;index"`
	Payload    datatypes.JSONType[ContributorGroup] `gorm:"not null"`
}

func (s *RepoSnapshot) FreshAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.FetchedAt) < ttl
}

// RepoData is the response payload of the contributor endpoint.
type RepoData struct {
	Contributors ContributorGroup `json:"contributors"`
	Since        time.Time        `json:"since"`
	FetchedAt    time.Time        `json:"fetchedAt"`
	Stale        bool             `json:"stale,omitempty"`
}
