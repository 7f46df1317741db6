package dto

import (
	"github.com/noah-isme/kollect-api/internal/models"
)

// SubmitDeliverableRequest appends a submission to a deliverable.
type SubmitDeliverableRequest struct {
	DeliverableIndex *int   `json:"deliverableIndex" validate:"required,min=0"`
	URL              string `json:"url" validate:"required"`
	Caption          string `json:"caption"`
	MediaURL         string `json:"mediaUrl"`
}

// ReviewSubmissionRequest captures the brand's decision on a submission.
type ReviewSubmissionRequest struct {
	DeliverableIndex *int   `json:"deliverableIndex" validate:"required,min=0"`
	SubmissionIndex  *int   `json:"submissionIndex" validate:"required,min=0"`
	Action           string `json:"action" validate:"required,oneof=approve reject"`
	Feedback         string `json:"feedback"`
}

// UpdateWorkRequest edits KOL-owned fields. Nil fields are left untouched.
type UpdateWorkRequest struct {
	Notes            *string `json:"notes"`
	ActualEngagement *int64  `json:"actualEngagement" validate:"omitempty,min=0"`
}

// UpdateWorkStatusRequest moves a work through its lifecycle.
type UpdateWorkStatusRequest struct {
	Status models.WorkStatus `json:"status" validate:"required"`
}

// WorkQuery mirrors listing filters; Status is all, active or a status.
type WorkQuery struct {
	Status string
}

// SubmitDeliverableResponse echoes the deliverable after the append.
type SubmitDeliverableResponse struct {
	Deliverable models.Deliverable `json:"deliverable"`
}

// ReviewSubmissionResponse returns the reviewed deliverable and progress.
type ReviewSubmissionResponse struct {
	Deliverable  models.Deliverable `json:"deliverable"`
	WorkProgress int                `json:"workProgress"`
	WorkStatus   models.WorkStatus  `json:"workStatus"`
}
