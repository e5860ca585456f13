package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/foxzi/backoffice/internal/access"
)

// AdminRef is the admin embedded in a log entry. The backend sends either a
// populated object or, when population failed, the bare id.
type AdminRef struct {
	ID       string      `json:"id"`
	Username string      `json:"username,omitempty"`
	Email    string      `json:"email,omitempty"`
	Role     access.Role `json:"role,omitempty"`
}

func (a *AdminRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &a.ID)
	}

	var raw struct {
		ID       string      `json:"id"`
		MongoID  string      `json:"_id"`
		Username string      `json:"username"`
		Email    string      `json:"email"`
		Role     access.Role `json:"role"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode admin reference: %w", err)
	}
	a.ID = raw.ID
	if a.ID == "" {
		a.ID = raw.MongoID
	}
	a.Username = raw.Username
	a.Email = raw.Email
	a.Role = raw.Role
	return nil
}

// Display returns the best human label for the admin.
func (a *AdminRef) Display() string {
	if a == nil {
		return "Unknown"
	}
	if a.Username != "" {
		return a.Username
	}
	if a.Email != "" {
		return a.Email
	}
	return a.ID
}

// AuditLogEntry is one record of the action audit trail.
type AuditLogEntry struct {
	ID        string         `json:"id"`
	Admin     *AdminRef      `json:"adminId"`
	Action    string         `json:"action"`
	Target    string         `json:"target"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"createdAt"`
}

func (e *AuditLogEntry) UnmarshalJSON(data []byte) error {
	type plain AuditLogEntry
	var raw struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = AuditLogEntry(raw.plain)
	if e.ID == "" {
		e.ID = raw.MongoID
	}
	return nil
}

// LoginHistoryEntry is one authentication attempt.
type LoginHistoryEntry struct {
	ID        string    `json:"id"`
	Admin     *AdminRef `json:"adminId"`
	Success   bool      `json:"success"`
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	LoginAt   time.Time `json:"loginAt"`
}

func (e *LoginHistoryEntry) UnmarshalJSON(data []byte) error {
	type plain LoginHistoryEntry
	var raw struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = LoginHistoryEntry(raw.plain)
	if e.ID == "" {
		e.ID = raw.MongoID
	}
	return nil
}

// AuditLogPage is one page of the audit trail.
type AuditLogPage struct {
	Logs       []AuditLogEntry `json:"logs"`
	TotalItems int             `json:"totalItems"`
	TotalPages int             `json:"totalPages"`
}

// LoginHistoryPage is one page of login history.
type LoginHistoryPage struct {
	Logs       []LoginHistoryEntry `json:"logs"`
	TotalItems int                 `json:"totalItems"`
	TotalPages int                 `json:"totalPages"`
}

// AdminSummary is an admin user as listed by /api/admins.
type AdminSummary struct {
	ID       string      `json:"id"`
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Role     access.Role `json:"role"`
	Location string      `json:"location,omitempty"`
}

func (a *AdminSummary) UnmarshalJSON(data []byte) error {
	type plain AdminSummary
	var raw struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = AdminSummary(raw.plain)
	if a.ID == "" {
		a.ID = raw.MongoID
	}
	return nil
}

// AuditQuery filters GET /api/audit-logs. Empty fields are not sent.
type AuditQuery struct {
	PerformedBy string
	Action      string
	StartDate   string
	EndDate     string
	Page        int
	Limit       int
}

// LoginQuery filters GET /api/login-history. Empty fields are not sent.
type LoginQuery struct {
	UserID    string
	StartDate string
	EndDate   string
	Page      int
	Limit     int
}

// LoginRequest is posted to the backend login endpoint.
type LoginRequest struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

// LoginResponse is the backend's answer to a successful login.
type LoginResponse struct {
	Token    string `json:"token"`
	Role     string `json:"role"`
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

type updatePermissionsRequest struct {
	Permissions access.Permissions `json:"permissions"`
}
