package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Repository is a GitHub repository associated with a student.
type Repository struct {
	ID              string                      `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt       time.Time                   `json:"timestamp"`
	UpdatedAt       time.Time                   `json:"updatedAt"`
	Owner           string                      `gorm:"not null;size:100;uniqueIndex:idx_repo_owner_name" json:"owner"`
	Name            string                      `gorm:"not null;size:100;uniqueIndex:idx_repo_owner_name" json:"name"`
	GitHubURL       string                      `gorm:"column:github_url;size:300" json:"githubUrl"`
	StudentUID      string                      `gorm:"not null;size:36;index" json:"studentUID"`
	SupervisorUID   string                      `gorm:"size:36;index" json:"supervisorUID,omitempty"`
	ConnectionID    string                      `gorm:"size:80" json:"connectionId,omitempty"`
	PendingApproval bool                        `gorm:"default:true" json:"pendingApproval"`
	TeamMembers     datatypes.JSONSlice[string] `json:"teamMembers"`
}

func (r *Repository) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.GitHubURL == "" {
		r.GitHubURL = GitHubURL(r.Owner, r.Name)
	}
	return nil
}

func (r *Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// NeedsLink reports whether the repository is still waiting to be tied to
// a supervisor.
func (r *Repository) NeedsLink() bool {
	return r.SupervisorUID == "" || r.PendingApproval
}

// TeamMembers trims, lowercases and de-duplicates GitHub logins, dropping
// blanks and the repository owner.
func TeamMembers(logins []string, owner string) []string {
	owner = strings.ToLower(owner)
	seen := make(map[string]bool, len(logins))
	out := make([]string, 0, len(logins))
	for _, login := range logins {
		login = strings.ToLower(strings.TrimSpace(login))
		if login == "" || login == owner || seen[login] {
			continue
		}
		seen[login] = true
		out = append(out, login)
	}
	return out
}

func GitHubURL(owner, name string) string {
	return fmt.Sprintf("https://github.com/%s/%s", owner, name)
}

// ValidRepoPart rejects empty owner/name segments and anything that would
// escape a single URL path element.
func ValidRepoPart(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, "/?# ")
}

// GitHubAccount records the GitHub identity a user proved through OAuth.
// The OAuth token itself is not kept.
type GitHubAccount struct {
	UserUID   string    `gorm:"primaryKey;size:36" json:"userUID"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	GitHubID  int64     `gorm:"column:github_id;index" json:"githubId"`
	Login     string    `gorm:"size:100;index" json:"login"`
	Scope     string    `gorm:"size:200" json:"scope"`
}
