package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const DateLayout = "2006-01-02"

type TaskStatus string

const (
	TaskToDo       TaskStatus = "To Do"
	TaskInProgress TaskStatus = "in progress"
	TaskCompleted  TaskStatus = "completed"
)

func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskToDo, TaskInProgress, TaskCompleted:
		return true
	}
	return false
}

// Task is work assigned by a supervisor to a student.
type Task struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	Title       string     `gorm:"not null;size:200" json:"title"`
	Description string     `gorm:"not null;size:2000" json:"description"`
	Points      int        `gorm:"not null" json:"points"`
	Deadline    time.Time  `gorm:"not null;index" json:"deadline"`
	AssignedTo  string     `gorm:"not null;size:254;index" json:"assignedTo"`
	ProjectID   string     `gorm:"size:220" json:"projectId"`
	Status      TaskStatus `gorm:"not null;size:20" json:"status"`
	CreatedBy   string     `gorm:"not null;size:254;index" json:"createdBy"`
}

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TaskToDo
	}
	if t.ProjectID == "" {
		t.ProjectID = TaskSlug(t.Title)
	}
	return nil
}

var whitespace = regexp.MustCompile(`\s+`)

// TaskSlug derives the project key shared by a task and its reminder.
func TaskSlug(title string) string {
	return "task-" + whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(title)), "-")
}

// Reminder is the deadline notice created alongside a Task.
type Reminder struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt       time.Time `json:"createdAt"`
	TaskID          string    `gorm:"not null;size:36;index" json:"taskId"`
	ProjectID       string    `gorm:"size:220" json:"projectId"`
	StudentEmail    string    `gorm:"not null;size:254;index" json:"studentEmail"`
	SupervisorEmail string    `gorm:"not null;size:254;index" json:"supervisorEmail"`
	Deadline        time.Time `gorm:"not null;index" json:"deadline"`
	Notified        bool      `gorm:"default:false" json:"notified"`
}

func (r *Reminder) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// TimeLeft renders the remaining time until the deadline as "2d 3h 4m".
func (r *Reminder) TimeLeft(now time.Time) string {
	diff := r.Deadline.Sub(now)
	if diff <= 0 {
		return "Deadline Passed"
	}
	days := int(diff.Hours()) / 24
	hours := int(diff.Hours()) % 24
	minutes := int(diff.Minutes()) % 60
	return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
}

// TaskFields holds a task assignment exactly as it was submitted.
type TaskFields struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Points      string `json:"points"`
	Deadline    string `json:"deadline"`
	AssignedTo  string `json:"assignedTo"`
}

// FieldError names the first invalid field of a submission.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ParsedTask is a validated TaskFields.
type ParsedTask struct {
	Title       string
	Description string
	Points      int
	Deadline    time.Time
	AssignedTo  string
}

// Parse trims and validates every field. The deadline must be a calendar
// date in YYYY-MM-DD form.
func (f TaskFields) Parse() (ParsedTask, error) {
	required := []struct{ name, value string }{
		{"title", f.Title},
		{"description", f.Description},
		{"points", f.Points},
		{"deadline", f.Deadline},
		{"assignedTo", f.AssignedTo},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return ParsedTask{}, &FieldError{Field: field.name, Reason: "is required"}
		}
	}

	points, err := strconv.Atoi(strings.TrimSpace(f.Points))
	if err != nil || points <= 0 {
		return ParsedTask{}, &FieldError{Field: "points", Reason: "must be a positive number"}
	}

	deadline, err := ParseDate(f.Deadline)
	if err != nil {
		return ParsedTask{}, &FieldError{Field: "deadline", Reason: "use YYYY-MM-DD"}
	}

	return ParsedTask{
		Title:       strings.TrimSpace(f.Title),
		Description: strings.TrimSpace(f.Description),
		Points:      points,
		Deadline:    deadline,
		AssignedTo:  NormalizeEmail(f.AssignedTo),
	}, nil
}

func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}
