package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusAccepted RequestStatus = "accepted"
	StatusRejected RequestStatus = "rejected"
)

// ConnectionRequest is a student's request to be supervised.
// Its status moves out of pending exactly once.
type ConnectionRequest struct {
	ID              string        `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt       time.Time     `json:"timestamp"`
	UpdatedAt       time.Time     `json:"updated_at"`
	StudentUID      string        `gorm:"not null;size:36;index" json:"studentUID"`
	StudentEmail    string        `gorm:"not null;size:254" json:"studentEmail"`
	SupervisorEmail string        `gorm:"not null;size:254;index" json:"supervisorEmail"`
	Status          RequestStatus `gorm:"not null;size:20;index" json:"status"`
	DecidedAt       *time.Time    `json:"decisionDate,omitempty"`
}

func (r *ConnectionRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	return nil
}

// IsDecision reports whether s is a status a supervisor may decide on.
func IsDecision(s RequestStatus) bool {
	return s == StatusAccepted || s == StatusRejected
}

// CanTransition reports whether from -> to is allowed. Accepted and
// rejected are terminal.
func CanTransition(from, to RequestStatus) bool {
	return from == StatusPending && IsDecision(to)
}

type ConnectionStatus string

const ConnectionActive ConnectionStatus = "active"

// Connection is an approved student-supervisor pairing. It is only
// created when a ConnectionRequest is accepted.
type Connection struct {
	ID              string           `gorm:"primaryKey;size:80" json:"id"`
	CreatedAt       time.Time        `json:"createdAt"`
	StudentUID      string           `gorm:"not null;size:36;index" json:"studentUID"`
	StudentEmail    string           `gorm:"not null;size:254" json:"studentEmail"`
	SupervisorUID   string           `gorm:"not null;size:36;index" json:"supervisorUID"`
	SupervisorEmail string           `gorm:"not null;size:254" json:"supervisorEmail"`
	Status          ConnectionStatus `gorm:"not null;size:20" json:"status"`
}

func ConnectionID(studentUID, supervisorUID string) string {
	return studentUID + "_" + supervisorUID
}

// NewConnection builds the active connection materialized by accepting req.
func NewConnection(req *ConnectionRequest, supervisorUID, supervisorEmail string) Connection {
	return Connection{
		ID:              ConnectionID(req.StudentUID, supervisorUID),
		StudentUID:      req.StudentUID,
		StudentEmail:    req.StudentEmail,
		SupervisorUID:   supervisorUID,
		SupervisorEmail: supervisorEmail,
		Status:          ConnectionActive,
	}
}

// StudentStatus summarizes where a student stands in the connection flow.
type StudentStatus struct {
	HasActiveConnection bool  `json:"hasActiveConnection"`
	HasPendingRequest   bool  `json:"hasPendingRequest"`
	ActiveConnections   int64 `json:"activeConnections"`
	PendingRequests     int64 `json:"pendingRequests"`
}

// SupervisorAvailability is a supervisor listing entry for students.
type SupervisorAvailability struct {
	UID       string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	Students  int64  `json:"students"`
	Capacity  int    `json:"capacity"`
	Available bool   `json:"available"`
}
