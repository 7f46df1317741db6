package models

import "time"

// WorkStatus captures the fulfillment lifecycle of a work.
type WorkStatus string

const (
	WorkStatusPending   WorkStatus = "pending"
	WorkStatusActive    WorkStatus = "active"
	WorkStatusInReview  WorkStatus = "in_review"
	WorkStatusRevision  WorkStatus = "revision"
	WorkStatusCompleted WorkStatus = "completed"
	WorkStatusPaid      WorkStatus = "paid"
	WorkStatusCancelled WorkStatus = "cancelled"
)

// ActiveWorkStatuses are the statuses reported as "active" in listings.
var ActiveWorkStatuses = []WorkStatus{WorkStatusPending, WorkStatusActive, WorkStatusInReview, WorkStatusRevision}

// Valid reports whether s is a known status.
func (s WorkStatus) Valid() bool {
	switch s {
	case WorkStatusPending, WorkStatusActive, WorkStatusInReview, WorkStatusRevision,
		WorkStatusCompleted, WorkStatusPaid, WorkStatusCancelled:
		return true
	}
	return false
}

// InFlight reports whether the work is still being fulfilled.
func (s WorkStatus) InFlight() bool {
	switch s {
	case WorkStatusPending, WorkStatusActive, WorkStatusInReview, WorkStatusRevision:
		return true
	}
	return false
}

// Work is a KOL's engagement on a campaign.
type Work struct {
	ID               string        `db:"id" json:"id"`
	KOLID            string        `db:"kol_id" json:"kolId"`
	BrandID          string        `db:"brand_id" json:"brandId"`
	CampaignID       string        `db:"campaign_id" json:"campaignId"`
	Title            string        `db:"title" json:"title"`
	Description      string        `db:"description" json:"description"`
	Budget           int64         `db:"budget" json:"budget"`
	Earnings         int64         `db:"earnings" json:"earnings"`
	Deadline         time.Time     `db:"deadline" json:"deadline"`
	Notes            string        `db:"notes" json:"notes"`
	EngagementTarget int64         `db:"engagement_target" json:"engagementTarget"`
	ActualEngagement int64         `db:"actual_engagement" json:"actualEngagement"`
	Progress         int           `db:"progress" json:"progress"`
	Status           WorkStatus    `db:"status" json:"status"`
	Version          int64         `db:"version" json:"version"`
	StartedAt        *time.Time    `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt      *time.Time    `db:"completed_at" json:"completedAt,omitempty"`
	PaidAt           *time.Time    `db:"paid_at" json:"paidAt,omitempty"`
	CreatedAt        time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updatedAt"`
	Deliverables     []Deliverable `db:"-" json:"deliverables"`
}

// IsParty reports whether userID is the KOL or the brand on the work.
func (w *Work) IsParty(userID string) bool {
	return userID != "" && (w.KOLID == userID || w.BrandID == userID)
}

// Counterparty returns the other side of the engagement.
func (w *Work) Counterparty(userID string) string {
	if userID == w.KOLID {
		return w.BrandID
	}
	return w.KOLID
}

// Deliverable is one unit of required content on a work.
type Deliverable struct {
	WorkID      string          `db:"work_id" json:"-"`
	Index       int             `db:"idx" json:"index"`
	Type        DeliverableType `db:"type" json:"type"`
	Title       string          `db:"title" json:"title"`
	Required    int             `db:"required" json:"required"`
	Submitted   int             `db:"submitted" json:"submitted"`
	Submissions []Submission    `db:"-" json:"submissions"`
}

// SubmissionStatus is the review state of a submission.
type SubmissionStatus string

const (
	SubmissionStatusPending  SubmissionStatus = "pending"
	SubmissionStatusApproved SubmissionStatus = "approved"
	SubmissionStatusRejected SubmissionStatus = "rejected"
)

// Submission is a KOL's attempt at a deliverable.
type Submission struct {
	WorkID           string           `db:"work_id" json:"-"`
	DeliverableIndex int              `db:"deliverable_idx" json:"deliverableIndex"`
	Index            int              `db:"idx" json:"index"`
	URL              string           `db:"url" json:"url"`
	MediaURL         *string          `db:"media_url" json:"mediaUrl,omitempty"`
	Caption          *string          `db:"caption" json:"caption,omitempty"`
	Status           SubmissionStatus `db:"status" json:"status"`
	Feedback         *string          `db:"feedback" json:"feedback,omitempty"`
	SubmittedAt      time.Time        `db:"submitted_at" json:"submittedAt"`
	ReviewedAt       *time.Time       `db:"reviewed_at" json:"reviewedAt,omitempty"`
}

// WorkFilter constrains work listings.
type WorkFilter struct {
	KOLID    string
	BrandID  string
	Statuses []WorkStatus
}

// WorkStats summarises a KOL's works for the dashboard.
type WorkStats struct {
	ActiveProjects    int   `json:"activeProjects"`
	CompletedProjects int   `json:"completedProjects"`
	TotalProjects     int   `json:"totalProjects"`
	TotalEarnings     int64 `json:"totalEarnings"`
	PendingEarnings   int64 `json:"pendingEarnings"`
	AvgEngagement     int64 `json:"avgEngagement"`
	ThisMonthProjects int   `json:"thisMonthProjects"`
	ThisMonthEarnings int64 `json:"thisMonthEarnings"`
	UpcomingDeadlines int   `json:"upcomingDeadlines"`
}
