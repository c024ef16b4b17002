package humangate

import (
	"time"
)

// Status is the lifecycle state of a workflow. Every status other than
// pending is terminal for that workflow instance.
type Status string

const (
	StatusPending           Status = "pending"
	StatusApproved          Status = "approved"
	StatusRejected          Status = "rejected"
	StatusRevisionRequested Status = "revision_requested"
	StatusExpired           Status = "expired"
	StatusCancelled         Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusRevisionRequested, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Type classifies what is being approved.
type Type string

const (
	TypeBlueprintApproval  Type = "blueprint_approval"
	TypeDeploymentApproval Type = "deployment_approval"
	TypeRevisionReview     Type = "revision_review"
	TypeEmergencyStop      Type = "emergency_stop"
)

func (t Type) Valid() bool {
	switch t {
	case TypeBlueprintApproval, TypeDeploymentApproval, TypeRevisionReview, TypeEmergencyStop:
		return true
	}
	return false
}

// Priority determines how long a founder has to respond.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var windows = map[Priority]time.Duration{
	PriorityLow:    168 * time.Hour,
	PriorityNormal: 72 * time.Hour,
	PriorityHigh:   24 * time.Hour,
	PriorityUrgent: 12 * time.Hour,
}

// Window returns the response window for p.
func (p Priority) Window() (time.Duration, bool) {
	w, ok := windows[p]
	return w, ok
}

// Decision is the founder's answer.
type Decision string

const (
	DecisionApprove         Decision = "approve"
	DecisionReject          Decision = "reject"
	DecisionRequestRevision Decision = "request_revision"
)

func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionReject, DecisionRequestRevision:
		return true
	}
	return false
}

// Status returns the workflow status a decision leads to.
func (d Decision) Status() Status {
	switch d {
	case DecisionApprove:
		return StatusApproved
	case DecisionReject:
		return StatusRejected
	case DecisionRequestRevision:
		return StatusRevisionRequested
	}
	return ""
}

// RevisionRequest is one structured change asked for by the founder.
type RevisionRequest struct {
	Area        string `json:"area"`
	Description string `json:"description"`
	Priority    string `json:"priority,omitempty"`
}

// Feedback is a founder response to a workflow.
type Feedback struct {
	Decision         Decision          `json:"decision"`
	Comments         string            `json:"comments,omitempty"`
	RevisionRequests []RevisionRequest `json:"revision_requests,omitempty"`
}

// Validate checks the decision and any revision requests.
func (f Feedback) Validate() error {
	if !f.Decision.Valid() {
		return invalid("unknown decision %q", f.Decision)
	}
	for i, r := range f.RevisionRequests {
		if r.Description == "" {
			return invalid("revision request %d has no description", i)
		}
	}
	return nil
}

// Workflow is one human approval request.
type Workflow struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"project_id"`
	TenantID  string   `json:"tenant_id"`
	Type      Type     `json:"workflow_type"`
	Status    Status   `json:"status"`
	Priority  Priority `json:"priority"`

	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Context     map[string]string `json:"context,omitempty"`

	FounderEmail  string `json:"founder_email"`
	ApprovalToken string `json:"approval_token"`
	ApprovalURL   string `json:"approval_url"`

	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	RespondedAt    *time.Time `json:"responded_at,omitempty"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	LastReminderAt *time.Time `json:"last_reminder_at,omitempty"`

	ResponseTimeHours *float64 `json:"response_time_hours,omitempty"`
	ReminderCount     int      `json:"reminder_count"`

	Decision         Decision          `json:"decision,omitempty"`
	FounderFeedback  string            `json:"founder_feedback,omitempty"`
	RevisionRequests []RevisionRequest `json:"revision_requests,omitempty"`
}

// expiredAt reports whether a pending workflow has reached its deadline.
// The approval token stops validating at the same instant.
func (w *Workflow) expiredAt(now time.Time) bool {
	return w.Status == StatusPending && !now.Before(w.ExpiresAt)
}

// CreateRequest describes a workflow to open.
type CreateRequest struct {
	ProjectID    string            `json:"project_id"`
	Type         Type              `json:"workflow_type"`
	Priority     Priority          `json:"priority"`
	Title        string            `json:"title,omitempty"`
	Description  string            `json:"description,omitempty"`
	FounderEmail string            `json:"founder_email"`
	Context      map[string]string `json:"context,omitempty"`
}

// Validate checks required fields, defaulting the priority to normal.
func (r *CreateRequest) Validate() error {
	if r.ProjectID == "" {
		return invalid("project id is required")
	}
	if r.FounderEmail == "" {
		return invalid("founder email is required")
	}
	if r.Type == "" {
		r.Type = TypeBlueprintApproval
	}
	if !r.Type.Valid() {
		return invalid("unknown workflow type %q", r.Type)
	}
	if r.Priority == "" {
		r.Priority = PriorityNormal
	}
	if _, ok := r.Priority.Window(); !ok {
		return invalid("unknown priority %q", r.Priority)
	}
	return nil
}

// ResponseTimeStats summarizes response times in hours.
type ResponseTimeStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean_hours"`
	Median float64 `json:"median_hours"`
	Min    float64 `json:"min_hours"`
	Max    float64 `json:"max_hours"`
}

// Metrics aggregates workflows created within a window.
type Metrics struct {
	TenantID   string         `json:"tenant_id"`
	WindowDays int            `json:"window_days"`
	Total      int            `json:"total"`
	ByStatus   map[Status]int `json:"by_status"`
	Responded  int            `json:"responded"`

	ResponseRate float64           `json:"response_rate"`
	ApprovalRate float64           `json:"approval_rate"`
	ResponseTime ResponseTimeStats `json:"response_time"`
}
