package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"superviseme/models"
)

// TaskCoordinator assigns tasks together with their deadline reminder.
type TaskCoordinator struct {
	client *Client
}

func NewTaskCoordinator(c *Client) *TaskCoordinator {
	return &TaskCoordinator{client: c}
}

// TaskAssignment is the pair of records written by AssignTask.
type TaskAssignment struct {
	TaskID     string
	ReminderID string
	Task       models.Task
	Reminder   models.Reminder
}

// ReminderItem is a reminder as listed to its student or supervisor.
type ReminderItem struct {
	models.Reminder
	Title      string            `json:"title"`
	TaskStatus models.TaskStatus `json:"taskStatus"`
	TimeLeft   string            `json:"timeLeft"`
}

type createTaskBody struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Points      int    `json:"points"`
	Deadline    string `json:"deadline"`
	AssignedTo  string `json:"assignedTo"`
}

type createReminderBody struct {
	TaskID       string `json:"taskId"`
	StudentEmail string `json:"studentEmail"`
	Deadline     string `json:"deadline"`
}

// AssignTask validates fields, creates the task and then its reminder with
// the same deadline and student. Nothing is sent when validation fails. If
// the reminder cannot be created the task is deleted again and the reminder
// error returned; if that delete fails too, PartialFailureError is returned.
func (t *TaskCoordinator) AssignTask(ctx context.Context, fields models.TaskFields, supervisorEmail string) (TaskAssignment, error) {
	parsed, err := fields.Parse()
	if err != nil {
		var fieldErr *models.FieldError
		if errors.As(err, &fieldErr) {
			return TaskAssignment{}, &ValidationError{Field: fieldErr.Field, Message: fieldErr.Reason}
		}
		return TaskAssignment{}, &ValidationError{Message: err.Error()}
	}

	supervisorEmail = models.NormalizeEmail(supervisorEmail)
	if supervisorEmail == "" {
		return TaskAssignment{}, &ValidationError{Field: "supervisorEmail", Message: "is required"}
	}
	if s := t.client.session; s != nil {
		if current := models.NormalizeEmail(s.CurrentUserEmail()); current != "" && current != supervisorEmail {
			return TaskAssignment{}, &ValidationError{Field: "supervisorEmail", Message: "must be the signed-in supervisor"}
		}
	}

	deadline := parsed.Deadline.Format(models.DateLayout)

	var task models.Task
	if err := t.client.do(ctx, http.MethodPost, "/api/tasks", createTaskBody{
		Title:       parsed.Title,
		Description: parsed.Description,
		Points:      parsed.Points,
		Deadline:    deadline,
		AssignedTo:  parsed.AssignedTo,
	}, &task); err != nil {
		return TaskAssignment{}, err
	}
	if task.ID == "" {
		return TaskAssignment{}, &DataError{Err: errors.New("created task has no id")}
	}

	var reminder models.Reminder
	reminderErr := t.client.do(ctx, http.MethodPost, "/api/reminders", createReminderBody{
		TaskID:       task.ID,
		StudentEmail: parsed.AssignedTo,
		Deadline:     deadline,
	}, &reminder)
	if reminderErr == nil {
		return TaskAssignment{
			TaskID:     task.ID,
			ReminderID: reminder.ID,
			Task:       task,
			Reminder:   reminder,
		}, nil
	}

	// the rollback must run even when ctx is what failed the reminder
	rollbackCtx := context.WithoutCancel(ctx)
	if err := t.DeleteTask(rollbackCtx, task.ID); err != nil {
		t.client.logger.Error("task left without reminder",
			slog.String("task_id", task.ID),
			slog.String("reminder_error", reminderErr.Error()),
			slog.String("rollback_error", err.Error()))
		return TaskAssignment{}, &PartialFailureError{TaskID: task.ID, ReminderErr: reminderErr, RollbackErr: err}
	}

	t.client.logger.Warn("task rolled back after reminder failure",
		slog.String("task_id", task.ID),
		slog.String("error", reminderErr.Error()))
	return TaskAssignment{}, reminderErr
}

func (t *TaskCoordinator) ListTasks(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	if err := t.client.do(ctx, http.MethodGet, "/api/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (t *TaskCoordinator) UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus) (*models.Task, error) {
	if !models.ValidTaskStatus(status) {
		return nil, &ValidationError{Field: "status", Message: "is invalid"}
	}

	var task models.Task
	path := "/api/tasks/" + url.PathEscape(taskID) + "/status"
	if err := t.client.do(ctx, http.MethodPatch, path, map[string]models.TaskStatus{"status": status}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (t *TaskCoordinator) DeleteTask(ctx context.Context, taskID string) error {
	if strings.TrimSpace(taskID) == "" {
		return &ValidationError{Field: "taskId", Message: "is required"}
	}
	return t.client.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(taskID), nil, nil)
}

func (t *TaskCoordinator) ListReminders(ctx context.Context) ([]ReminderItem, error) {
	var reminders []ReminderItem
	if err := t.client.do(ctx, http.MethodGet, "/api/reminders", nil, &reminders); err != nil {
		return nil, err
	}
	return reminders, nil
}

func (t *TaskCoordinator) MarkNotified(ctx context.Context, reminderID string) error {
	return t.client.do(ctx, http.MethodPatch, "/api/reminders/"+url.PathEscape(reminderID)+"/notified", nil, nil)
}

func (t *TaskCoordinator) DeleteReminder(ctx context.Context, reminderID string) error {
	return t.client.do(ctx, http.MethodDelete, "/api/reminders/"+url.PathEscape(reminderID), nil, nil)
}
