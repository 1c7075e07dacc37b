package server

import (
	"inspectline/internal/domain"
)

// Request payloads

type CreateTemplateRequest struct {
	Title            string                   `json:"title"`
	Description      *string                  `json:"description,omitempty"`
	ImageURL         *string                  `json:"image_url,omitempty"`
	Pages            []domain.Page            `json:"pages,omitempty"`
	Organization     *string                  `json:"organization,omitempty"`
	Location         *string                  `json:"location,omitempty"`
	DefectCategories *domain.DefectCategories `json:"defect_categories,omitempty"`
}

type UpdateTemplateRequest struct {
	Title            *string                  `json:"title,omitempty"`
	Description      *string                  `json:"description,omitempty"`
	ImageURL         *string                  `json:"image_url,omitempty"`
	Pages            []domain.Page            `json:"pages,omitempty"`
	Organization     *string                  `json:"organization,omitempty"`
	Location         *string                  `json:"location,omitempty"`
	DefectCategories *domain.DefectCategories `json:"defect_categories,omitempty"`
}

type SubmitTemplateRequest struct {
	ManagerID string `json:"manager_id,omitempty"`
}

type ConfigureSamplingRequest struct {
	LotSize  int     `json:"lot_size" minimum:"1"`
	AQLLevel float64 `json:"aql_level,omitempty"`
}

type AssignInspectionRequest struct {
	TemplateID  string  `json:"template_id"`
	InspectorID string  `json:"inspector_id"`
	ScheduledAt *string `json:"scheduled_at,omitempty" format:"date-time"`
}

type OverrideRequest struct {
	Decision string `json:"decision" enum:"ACCEPT,REJECT"`
	Reason   string `json:"reason"`
}

type SubmitInspectionRequest struct {
	Responses    map[string]any       `json:"responses"`
	DefectCounts *domain.DefectCounts `json:"defect_counts,omitempty"`
	Override     *OverrideRequest     `json:"override,omitempty"`
}

type CreateTaskRequest struct {
	Title        string  `json:"title"`
	Description  *string `json:"description,omitempty"`
	Priority     string  `json:"priority,omitempty" enum:"low,medium,high"`
	AssignedToID string  `json:"assigned_to_id"`
	InspectionID *string `json:"inspection_id,omitempty"`
	TemplateID   *string `json:"template_id,omitempty"`
	DueDate      *string `json:"due_date,omitempty" format:"date-time"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty" enum:"low,medium,high"`
	Status      *string `json:"status,omitempty" enum:"todo,in_progress,review,completed"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
}

type CreateUserRequest struct {
	Email     string `json:"email" format:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Role      string `json:"role" enum:"it,manager,inspector"`
}

type UpdateDefectMasterRequest struct {
	Severity string   `json:"severity" enum:"critical,major,minor"`
	Codes    []string `json:"codes"`
}

type CreateAPIKeyRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// Response payloads

type TaskStatsResponse struct {
	Todo       int `json:"todo"`
	InProgress int `json:"in_progress"`
	Review     int `json:"review"`
	Completed  int `json:"completed"`
	Total      int `json:"total"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

func taskStats(counts map[string]int) TaskStatsResponse {
	s := TaskStatsResponse{
		Todo:       counts["todo"],
		InProgress: counts["in_progress"],
		Review:     counts["review"],
		Completed:  counts["completed"],
	}
	s.Total = s.Todo + s.InProgress + s.Review + s.Completed
	return s
}
