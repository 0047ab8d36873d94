package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"superviseme/models"
)

// ConnectionManager follows connection requests from both sides of the
// pairing. It keeps the last list of active connections it saw.
type ConnectionManager struct {
	client *Client

	mu          sync.Mutex
	connections []models.Connection
}

func NewConnectionManager(c *Client) *ConnectionManager {
	return &ConnectionManager{client: c}
}

// ListPendingRequests returns the requests addressed to the signed-in
// supervisor.
func (m *ConnectionManager) ListPendingRequests(ctx context.Context) ([]models.ConnectionRequest, error) {
	var requests []models.ConnectionRequest
	if err := m.client.do(ctx, http.MethodGet, "/api/connection-requests", nil, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

type decisionResult struct {
	Status     models.RequestStatus `json:"status"`
	Connection *models.Connection   `json:"connection"`
}

// Decide accepts or rejects a pending request. Accepting returns the new
// connection, which is also appended to Connections. A request decided in
// the meantime yields ConflictError; a removed one NotFoundError.
func (m *ConnectionManager) Decide(ctx context.Context, requestID string, decision models.RequestStatus) (*models.Connection, error) {
	if strings.TrimSpace(requestID) == "" {
		return nil, &ValidationError{Field: "requestId", Message: "is required"}
	}
	if !models.IsDecision(decision) {
		return nil, &ValidationError{Field: "status", Message: "must be accepted or rejected"}
	}

	var result decisionResult
	path := "/api/connection-requests/" + url.PathEscape(requestID)
	if err := m.client.do(ctx, http.MethodPut, path, map[string]models.RequestStatus{"status": decision}, &result); err != nil {
		return nil, err
	}

	if decision != models.StatusAccepted || result.Connection == nil {
		return nil, nil
	}

	m.mu.Lock()
	m.connections = append(m.connections, *result.Connection)
	m.mu.Unlock()
	return result.Connection, nil
}

// ListActiveConnections fetches the caller's active connections and makes
// them the local list.
func (m *ConnectionManager) ListActiveConnections(ctx context.Context) ([]models.Connection, error) {
	var connections []models.Connection
	if err := m.client.do(ctx, http.MethodGet, "/api/connections", nil, &connections); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.connections = append([]models.Connection(nil), connections...)
	m.mu.Unlock()
	return connections, nil
}

// Connections returns a copy of the local connection list.
func (m *ConnectionManager) Connections() []models.Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Connection(nil), m.connections...)
}

// RequestConnection asks a supervisor to take the signed-in student.
func (m *ConnectionManager) RequestConnection(ctx context.Context, supervisorEmail string) (*models.ConnectionRequest, error) {
	email := models.NormalizeEmail(supervisorEmail)
	if email == "" || !strings.Contains(email, "@") {
		return nil, &ValidationError{Field: "supervisorEmail", Message: "must be a valid email"}
	}

	var req models.ConnectionRequest
	if err := m.client.do(ctx, http.MethodPost, "/api/connection-requests", map[string]string{"supervisorEmail": email}, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (m *ConnectionManager) Status(ctx context.Context) (models.StudentStatus, error) {
	var status models.StudentStatus
	err := m.client.do(ctx, http.MethodGet, "/api/student/status", nil, &status)
	return status, err
}

func (m *ConnectionManager) ListSupervisors(ctx context.Context) ([]models.SupervisorAvailability, error) {
	var supervisors []models.SupervisorAvailability
	if err := m.client.do(ctx, http.MethodGet, "/api/supervisors", nil, &supervisors); err != nil {
		return nil, err
	}
	return supervisors, nil
}
