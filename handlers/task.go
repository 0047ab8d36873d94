package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"superviseme/config"
	"superviseme/middleware"
	"superviseme/models"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type TaskHandler struct {
	config *config.Config
	db     *gorm.DB
	logger *slog.Logger
}

func NewTaskHandler(cfg *config.Config, db *gorm.DB, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		config: cfg,
		db:     db,
		logger: logger,
	}
}

type createTaskRequest struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
	Points      int    `json:"points" validate:"gt=0"`
	Deadline    string `json:"deadline" validate:"required,datetime=2006-01-02"`
	AssignedTo  string `json:"assignedTo" validate:"required,email"`
}

type taskStatusRequest struct {
	Status models.TaskStatus `json:"status" validate:"required"`
}

type createReminderRequest struct {
	TaskID       string `json:"taskId" validate:"required"`
	StudentEmail string `json:"studentEmail" validate:"required,email"`
	Deadline     string `json:"deadline" validate:"required,datetime=2006-01-02"`
}

// ReminderView is a reminder together with the task it belongs to.
type ReminderView struct {
	models.Reminder
	Title      string            `json:"title"`
	TaskStatus models.TaskStatus `json:"taskStatus"`
	TimeLeft   string            `json:"timeLeft"`
}

func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	supervisor := middleware.GetUserFromContext(r.Context())

	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, h.logger, http.StatusBadRequest, err.Error(), nil)
		return
	}

	parsed, err := models.TaskFields{
		Title:       req.Title,
		Description: req.Description,
		Points:      strconv.Itoa(req.Points),
		Deadline:    req.Deadline,
		AssignedTo:  req.AssignedTo,
	}.Parse()
	if err != nil {
		respondError(w, r, h.logger, http.StatusBadRequest, err.Error(), nil)
		return
	}

	var connected int64
	h.db.Model(&models.Connection{}).
		Where("student_email = ? AND supervisor_uid = ? AND status = ?", parsed.AssignedTo, supervisor.UID, models.ConnectionActive).
		Count(&connected)
	if connected == 0 {
		respondError(w, r, h.logger, http.StatusForbidden, "No active connection with this student", nil)
		return
	}

	task := models.Task{
		Title:       parsed.Title,
		Description: parsed.Description,
		Points:      parsed.Points,
		Deadline:    parsed.Deadline,
		AssignedTo:  parsed.AssignedTo,
		Status:      models.TaskToDo,
		CreatedBy:   models.NormalizeEmail(supervisor.Email),
	}
	if err := h.db.Create(&task).Error; err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to create task", err)
		return
	}

	h.logger.Info("task created",
		slog.String("task_id", task.ID),
		slog.String("assigned_to", task.AssignedTo))
	respondSuccess(w, http.StatusCreated, &task)
}

// ListTasks returns the tasks the caller created (supervisor) or was
// assigned (student), optionally filtered by ?status=.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	query := h.db.Model(&models.Task{})
	if user.IsSupervisor() {
		query = query.Where("created_by = ?", models.NormalizeEmail(user.Email))
	} else {
		query = query.Where("assigned_to = ?", models.NormalizeEmail(user.Email))
	}
	if status := models.TaskStatus(r.URL.Query().Get("status")); status != "" {
		if !models.ValidTaskStatus(status) {
			respondError(w, r, h.logger, http.StatusBadRequest, "Invalid status", nil)
			return
		}
		query = query.Where("status = ?", status)
	}

	tasks := []models.Task{}
	if err := query.Order("deadline asc").Find(&tasks).Error; err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to load tasks", err)
		return
	}
	respondSuccess(w, http.StatusOK, tasks)
}

func (h *TaskHandler) UpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	var req taskStatusRequest
	if err := decodeJSON(r, &req); err != nil || !models.ValidTaskStatus(req.Status) {
		respondError(w, r, h.logger, http.StatusBadRequest, "Invalid status", nil)
		return
	}

	task, ok := h.loadTask(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	email := models.NormalizeEmail(user.Email)
	if task.AssignedTo != email && task.CreatedBy != email {
		respondError(w, r, h.logger, http.StatusForbidden, "Access denied", nil)
		return
	}

	if err := h.db.Model(task).Update("status", req.Status).Error; err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to update task", err)
		return
	}
	task.Status = req.Status
	respondSuccess(w, http.StatusOK, task)
}

// DeleteTask removes a task and its reminders.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	supervisor := middleware.GetUserFromContext(r.Context())

	task, ok := h.loadTask(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if task.CreatedBy != models.NormalizeEmail(supervisor.Email) {
		respondError(w, r, h.logger, http.StatusForbidden, "Access denied", nil)
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", task.ID).Delete(&models.Reminder{}).Error; err != nil {
			return err
		}
		return tx.Delete(task).Error
	})
	if err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to delete task", err)
		return
	}

	h.logger.Info("task deleted", slog.String("task_id", task.ID))
	respondSuccess(w, http.StatusOK, map[string]string{"id": task.ID})
}

// CreateReminder attaches a deadline reminder to an existing task created by
// the caller.
func (h *TaskHandler) CreateReminder(w http.ResponseWriter, r *http.Request) {
	supervisor := middleware.GetUserFromContext(r.Context())

	var req createReminderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, h.logger, http.StatusBadRequest, err.Error(), nil)
		return
	}
	deadline, err := models.ParseDate(req.Deadline)
	if err != nil {
		respondError(w, r, h.logger, http.StatusBadRequest, "deadline must use YYYY-MM-DD", nil)
		return
	}

	task, ok := h.loadTask(w, r, req.TaskID)
	if !ok {
		return
	}
	supervisorEmail := models.NormalizeEmail(supervisor.Email)
	if task.CreatedBy != supervisorEmail {
		respondError(w, r, h.logger, http.StatusForbidden, "Access denied", nil)
		return
	}

	studentEmail := models.NormalizeEmail(req.StudentEmail)
	if studentEmail != task.AssignedTo || !deadline.Equal(task.Deadline) {
		respondError(w, r, h.logger, http.StatusBadRequest, "Reminder must match the task's student and deadline", nil)
		return
	}

	reminder := models.Reminder{
		TaskID:          task.ID,
		ProjectID:       task.ProjectID,
		StudentEmail:    studentEmail,
		SupervisorEmail: supervisorEmail,
		Deadline:        deadline,
	}
	if err := h.db.Create(&reminder).Error; err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to create reminder", err)
		return
	}
	respondSuccess(w, http.StatusCreated, &reminder)
}

func (h *TaskHandler) ListReminders(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	column := "student_email"
	if user.IsSupervisor() {
		column = "supervisor_email"
	}

	var reminders []models.Reminder
	if err := h.db.Where(column+" = ?", models.NormalizeEmail(user.Email)).
		Order("deadline asc").
		Find(&reminders).Error; err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to load reminders", err)
		return
	}

	taskIDs := make([]string, 0, len(reminders))
	for _, rem := range reminders {
		taskIDs = append(taskIDs, rem.TaskID)
	}
	var tasks []models.Task
	if len(taskIDs) > 0 {
		if err := h.db.Where("id IN ?", taskIDs).Find(&tasks).Error; err != nil {
			respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to load reminders", err)
			return
		}
	}
	byID := make(map[string]*models.Task, len(tasks))
	for i := range tasks {
		byID[tasks[i].ID] = &tasks[i]
	}

	now := time.Now()
	views := make([]ReminderView, 0, len(reminders))
	for i := range reminders {
		view := ReminderView{Reminder: reminders[i], TimeLeft: reminders[i].TimeLeft(now)}
		if t, ok := byID[reminders[i].TaskID]; ok {
			view.Title = t.Title
			view.TaskStatus = t.Status
		}
		views = append(views, view)
	}
	respondSuccess(w, http.StatusOK, views)
}

func (h *TaskHandler) MarkNotified(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	reminder, ok := h.loadReminder(w, r, user)
	if !ok {
		return
	}
	if err := h.db.Model(reminder).Update("notified", true).Error; err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to update reminder", err)
		return
	}
	reminder.Notified = true
	respondSuccess(w, http.StatusOK, reminder)
}

func (h *TaskHandler) DeleteReminder(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	reminder, ok := h.loadReminder(w, r, user)
	if !ok {
		return
	}
	if reminder.SupervisorEmail != models.NormalizeEmail(user.Email) {
		respondError(w, r, h.logger, http.StatusForbidden, "Access denied", nil)
		return
	}
	if err := h.db.Delete(reminder).Error; err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to delete reminder", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]string{"id": reminder.ID})
}

func (h *TaskHandler) loadTask(w http.ResponseWriter, r *http.Request, id string) (*models.Task, bool) {
	var task models.Task
	if err := h.db.First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, r, h.logger, http.StatusNotFound, "Task not found", nil)
		} else {
			respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to load task", err)
		}
		return nil, false
	}
	return &task, true
}

// loadReminder fetches the {id} reminder if the caller is its student or
// supervisor.
func (h *TaskHandler) loadReminder(w http.ResponseWriter, r *http.Request, user *middleware.Claims) (*models.Reminder, bool) {
	var reminder models.Reminder
	if err := h.db.First(&reminder, "id = ?", chi.URLParam(r, "id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, r, h.logger, http.StatusNotFound, "Reminder not found", nil)
		} else {
			respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to load reminder", err)
		}
		return nil, false
	}
	email := models.NormalizeEmail(user.Email)
	if reminder.StudentEmail != email && reminder.SupervisorEmail != email {
		respondError(w, r, h.logger, http.StatusForbidden, "Access denied", nil)
		return nil, false
	}
	return &reminder, true
}
