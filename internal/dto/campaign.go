package dto

import (
	"time"

	"github.com/noah-isme/kollect-api/internal/models"
)

// RequirementInput is one requested deliverable as sent by the client.
type RequirementInput struct {
	Type        string `json:"type"`
	Count       int    `json:"count"`
	Description string `json:"description"`
}

// CreateCampaignRequest payload for both the direct-assign and hire paths.
// campaignName, industry, brandCompany and startDate are accepted as legacy
// aliases of title, category, brandName and applicationDeadline.
type CreateCampaignRequest struct {
	Title               string             `json:"title"`
	CampaignName        string             `json:"campaignName"`
	Description         string             `json:"description"`
	Category            string             `json:"category"`
	Industry            string             `json:"industry"`
	BudgetRange         string             `json:"budgetRange"`
	Requirements        []RequirementInput `json:"requirements"`
	ContentTypes        []string           `json:"contentTypes"`
	TargetAudience      string             `json:"targetAudience"`
	Deadline            *time.Time         `json:"deadline"`
	ApplicationDeadline *time.Time         `json:"applicationDeadline"`
	StartDate           *time.Time         `json:"startDate"`
	Notes               string             `json:"notes"`
	BrandName           string             `json:"brandName"`
	BrandCompany        string             `json:"brandCompany"`
	TargetKOLID         string             `json:"targetKolId"`
	TargetKOLUsername   string             `json:"targetKolUsername"`
}

// CampaignPath distinguishes the two creation entry points.
type CampaignPath string

const (
	// CampaignPathDirect assigns the target immediately with a pending work.
	CampaignPathDirect CampaignPath = "direct"
	// CampaignPathHire invites the target and waits for acceptance.
	CampaignPathHire CampaignPath = "hire"
)

// InviteKOLRequest targets a KOL for an open campaign.
type InviteKOLRequest struct {
	KOLID       string `json:"kolId"`
	KOLUsername string `json:"kolUsername"`
}

// RespondCampaignRequest carries the KOL's decision on an invite.
type RespondCampaignRequest struct {
	Action string `json:"action" validate:"required,oneof=accept reject"`
}

// CampaignQuery mirrors listing filters.
type CampaignQuery struct {
	Type     string
	Page     int
	PageSize int
}

// TargetKOLSummary identifies the invited KOL in responses.
type TargetKOLSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// CampaignSummary is the compact campaign view returned on writes.
type CampaignSummary struct {
	ID        string                `json:"id"`
	Title     string                `json:"title"`
	Status    models.CampaignStatus `json:"status"`
	TargetKOL *TargetKOLSummary     `json:"targetKol,omitempty"`
}

// WorkRef is the compact work view returned on writes.
type WorkRef struct {
	ID     string            `json:"id"`
	Title  string            `json:"title,omitempty"`
	Status models.WorkStatus `json:"status"`
}

// CreateCampaignResponse is returned by both creation paths.
type CreateCampaignResponse struct {
	Campaign CampaignSummary `json:"campaign"`
	Work     *WorkRef        `json:"work,omitempty"`
}

// RespondCampaignResponse is returned after accept or reject.
type RespondCampaignResponse struct {
	Work *WorkRef `json:"work,omitempty"`
}
