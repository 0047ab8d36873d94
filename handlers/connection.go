package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"superviseme/config"
	"superviseme/middleware"
	"superviseme/models"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConnectionHandler struct {
	config *config.Config
	db     *gorm.DB
	logger *slog.Logger
}

func NewConnectionHandler(cfg *config.Config, db *gorm.DB, logger *slog.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		config: cfg,
		db:     db,
		logger: logger,
	}
}

type connectionRequestBody struct {
	SupervisorEmail string `json:"supervisorEmail" validate:"required,email"`
}

type decisionBody struct {
	Status models.RequestStatus `json:"status" validate:"required,oneof=accepted rejected"`
}

// Decision is the result of deciding a connection request.
type Decision struct {
	Status     models.RequestStatus `json:"status"`
	Connection *models.Connection   `json:"connection,omitempty"`
}

var (
	errRequestNotFound = errors.New("request not found")
	errRequestForeign  = errors.New("request targets another supervisor")
	errAlreadyDecided  = errors.New("request already decided")
)

// CreateRequest files a pending connection request from the current student.
func (h *ConnectionHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	student := middleware.GetUserFromContext(r.Context())

	var body connectionRequestBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, r, h.logger, http.StatusBadRequest, err.Error(), nil)
		return
	}
	supervisorEmail := models.NormalizeEmail(body.SupervisorEmail)

	var supervisor models.User
	if err := h.db.Where("email = ? AND role = ?", supervisorEmail, models.RoleSupervisor).First(&supervisor).Error; err != nil {
		respondError(w, r, h.logger, http.StatusNotFound, "Supervisor not found", nil)
		return
	}

	var existing int64
	h.db.Model(&models.ConnectionRequest{}).
		Where("student_uid = ? AND supervisor_email = ? AND status = ?", student.UID, supervisorEmail, models.StatusPending).
		Count(&existing)
	if existing > 0 {
		respondError(w, r, h.logger, http.StatusConflict, "Request already exists", nil)
		return
	}

	var connected int64
	h.db.Model(&models.Connection{}).
		Where("id = ? AND status = ?", models.ConnectionID(student.UID, supervisor.UID), models.ConnectionActive).
		Count(&connected)
	if connected > 0 {
		respondError(w, r, h.logger, http.StatusConflict, "Already connected to this supervisor", nil)
		return
	}

	if h.activeStudents(supervisor.UID) >= int64(h.config.SupervisorCapacity) {
		respondError(w, r, h.logger, http.StatusConflict, "Supervisor has no free slots", nil)
		return
	}

	req := models.ConnectionRequest{
		StudentUID:      student.UID,
		StudentEmail:    student.Email,
		SupervisorEmail: supervisorEmail,
		Status:          models.StatusPending,
	}
	if err := h.db.Create(&req).Error; err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to create request", err)
		return
	}

	h.logger.Info("connection request created",
		slog.String("request_id", req.ID),
		slog.String("student", req.StudentEmail),
		slog.String("supervisor", req.SupervisorEmail))
	respondSuccess(w, http.StatusCreated, &req)
}

// ListPending returns the pending requests addressed to the current supervisor.
func (h *ConnectionHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	supervisor := middleware.GetUserFromContext(r.Context())

	requests := []models.ConnectionRequest{}
	if err := h.db.Where("supervisor_email = ? AND status = ?", models.NormalizeEmail(supervisor.Email), models.StatusPending).
		Order("created_at asc").
		Find(&requests).Error; err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to load requests", err)
		return
	}
	respondSuccess(w, http.StatusOK, requests)
}

// Decide moves a pending request to accepted or rejected. The update only
// applies while the request is still pending, so a concurrent decision
// surfaces as 409 instead of overwriting the first one. Accepting creates
// the connection in the same transaction.
func (h *ConnectionHandler) Decide(w http.ResponseWriter, r *http.Request) {
	supervisor := middleware.GetUserFromContext(r.Context())
	requestID := chi.URLParam(r, "id")

	var body decisionBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, r, h.logger, http.StatusBadRequest, "Invalid status", nil)
		return
	}

	decision := Decision{Status: body.Status}
	err := h.db.Transaction(func(tx *gorm.DB) error {
		var req models.ConnectionRequest
		if err := tx.First(&req, "id = ?", requestID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errRequestNotFound
			}
			return err
		}

		if req.SupervisorEmail != models.NormalizeEmail(supervisor.Email) {
			return errRequestForeign
		}

		if !models.CanTransition(req.Status, body.Status) {
			return errAlreadyDecided
		}

		now := time.Now()
		result := tx.Model(&models.ConnectionRequest{}).
			Where("id = ? AND status = ?", req.ID, models.StatusPending).
			Updates(map[string]interface{}{
				"status":     body.Status,
				"decided_at": now,
				"updated_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errAlreadyDecided
		}

		if body.Status != models.StatusAccepted {
			return nil
		}

		conn := models.NewConnection(&req, supervisor.UID, models.NormalizeEmail(supervisor.Email))
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&conn).Error; err != nil {
			return err
		}
		decision.Connection = &conn
		return nil
	})

	switch {
	case errors.Is(err, errRequestNotFound):
		respondError(w, r, h.logger, http.StatusNotFound, "Request not found", nil)
		return
	case errors.Is(err, errRequestForeign):
		respondError(w, r, h.logger, http.StatusForbidden, "Access denied", nil)
		return
	case errors.Is(err, errAlreadyDecided):
		respondError(w, r, h.logger, http.StatusConflict, "Request already decided", nil)
		return
	case err != nil:
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to update request", err)
		return
	}

	h.logger.Info("connection request decided",
		slog.String("request_id", requestID),
		slog.String("status", string(body.Status)))
	respondSuccess(w, http.StatusOK, decision)
}

// ListConnections returns the caller's active connections, from whichever
// side of the pairing they are on.
func (h *ConnectionHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	column := "student_uid"
	if user.IsSupervisor() {
		column = "supervisor_uid"
	}

	connections := []models.Connection{}
	if err := h.db.Where(column+" = ? AND status = ?", user.UID, models.ConnectionActive).
		Order("created_at asc").
		Find(&connections).Error; err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to load connections", err)
		return
	}
	respondSuccess(w, http.StatusOK, connections)
}

func (h *ConnectionHandler) StudentStatus(w http.ResponseWriter, r *http.Request) {
	student := middleware.GetUserFromContext(r.Context())

	var status models.StudentStatus
	h.db.Model(&models.Connection{}).
		Where("student_uid = ? AND status = ?", student.UID, models.ConnectionActive).
		Count(&status.ActiveConnections)
	h.db.Model(&models.ConnectionRequest{}).
		Where("student_uid = ? AND status = ?", student.UID, models.StatusPending).
		Count(&status.PendingRequests)
	status.HasActiveConnection = status.ActiveConnections > 0
	status.HasPendingRequest = status.PendingRequests > 0

	respondSuccess(w, http.StatusOK, status)
}

// ListSupervisors returns every supervisor with their free-slot status.
func (h *ConnectionHandler) ListSupervisors(w http.ResponseWriter, r *http.Request) {
	var supervisors []models.User
	if err := h.db.Where("role = ?", models.RoleSupervisor).Order("email asc").Find(&supervisors).Error; err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to load supervisors", err)
		return
	}

	var rows []struct {
		SupervisorUID string
		Students      int64
	}
	if err := h.db.Model(&models.Connection{}).
		Select("supervisor_uid, count(*) as students").
		Where("status = ?", models.ConnectionActive).
		Group("supervisor_uid").
		Scan(&rows).Error; err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to load supervisors", err)
		return
	}
	load := make(map[string]int64, len(rows))
	for _, row := range rows {
		load[row.SupervisorUID] = row.Students
	}

	out := make([]models.SupervisorAvailability, 0, len(supervisors))
	for i := range supervisors {
		out = append(out, h.availability(&supervisors[i], load[supervisors[i].UID]))
	}
	respondSuccess(w, http.StatusOK, out)
}

func (h *ConnectionHandler) SupervisorAvailability(w http.ResponseWriter, r *http.Request) {
	email := models.NormalizeEmail(chi.URLParam(r, "email"))

	var supervisor models.User
	if err := h.db.Where("email = ? AND role = ?", email, models.RoleSupervisor).First(&supervisor).Error; err != nil {
		respondError(w, r, h.logger, http.StatusNotFound, "Supervisor not found", nil)
		return
	}
	respondSuccess(w, http.StatusOK, h.availability(&supervisor, h.activeStudents(supervisor.UID)))
}

func (h *ConnectionHandler) availability(u *models.User, students int64) models.SupervisorAvailability {
	specialty := u.Specialty
	if specialty == "" {
		specialty = "Academic Supervisor"
	}
	return models.SupervisorAvailability{
		UID:       u.UID,
		Email:     u.Email,
		Name:      u.Name(),
		Specialty: specialty,
		Students:  students,
		Capacity:  h.config.SupervisorCapacity,
		Available: students < int64(h.config.SupervisorCapacity),
	}
}

func (h *ConnectionHandler) activeStudents(supervisorUID string) int64 {
	var count int64
	h.db.Model(&models.Connection{}).
		Where("supervisor_uid = ? AND status = ?", supervisorUID, models.ConnectionActive).
		Count(&count)
	return count
}
