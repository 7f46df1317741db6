package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// CampaignStatus captures the campaign lifecycle.
type CampaignStatus string

const (
	CampaignStatusOpen            CampaignStatus = "open"
	CampaignStatusPendingApproval CampaignStatus = "pending_approval"
	CampaignStatusInProgress      CampaignStatus = "in_progress"
	CampaignStatusRejected        CampaignStatus = "rejected"
	CampaignStatusCancelled       CampaignStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignStatusRejected || s == CampaignStatusCancelled
}

// Category classifies a campaign.
type Category string

const (
	CategoryFashion       Category = "fashion"
	CategoryBeauty        Category = "beauty"
	CategoryFood          Category = "food"
	CategoryTechnology    Category = "technology"
	CategoryTravel        Category = "travel"
	CategoryLifestyle     Category = "lifestyle"
	CategoryHealth        Category = "health"
	CategoryGaming        Category = "gaming"
	CategoryFinance       Category = "finance"
	CategoryEducation     Category = "education"
	CategoryEntertainment Category = "entertainment"
	CategoryOther         Category = "other"
)

var categories = map[Category]struct{}{
	CategoryFashion: {}, CategoryBeauty: {}, CategoryFood: {}, CategoryTechnology: {},
	CategoryTravel: {}, CategoryLifestyle: {}, CategoryHealth: {}, CategoryGaming: {},
	CategoryFinance: {}, CategoryEducation: {}, CategoryEntertainment: {}, CategoryOther: {},
}

// ParseCategory lower-cases raw and falls back to other for unknown values.
func ParseCategory(raw string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := categories[c]; ok {
		return c
	}
	return CategoryOther
}

// DeliverableType is the content format a KOL must produce.
type DeliverableType string

const (
	DeliverableIGStory DeliverableType = "ig_story"
	DeliverableIGReel  DeliverableType = "ig_reel"
	DeliverableIGPost  DeliverableType = "ig_post"
	DeliverableTikTok  DeliverableType = "tiktok"
	DeliverableYouTube DeliverableType = "youtube"
	DeliverableTwitter DeliverableType = "twitter"
	DeliverableOther   DeliverableType = "other"
)

// ParseDeliverableType maps raw onto a known type, defaulting to other.
func ParseDeliverableType(raw string) DeliverableType {
	switch t := DeliverableType(strings.ToLower(strings.TrimSpace(raw))); t {
	case DeliverableIGStory, DeliverableIGReel, DeliverableIGPost, DeliverableTikTok,
		DeliverableYouTube, DeliverableTwitter:
		return t
	default:
		return DeliverableOther
	}
}

// Requirement is one requested piece of content.
type Requirement struct {
	Type        DeliverableType `json:"type"`
	Count       int             `json:"count"`
	Description string          `json:"description"`
}

// Requirements is stored as an ordered JSONB array.
type Requirements []Requirement

// Value marshals requirements to JSON for persistence.
func (r Requirements) Value() (driver.Value, error) {
	if r == nil {
		r = Requirements{}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal requirements: %w", err)
	}
	return data, nil
}

// Scan unmarshals the JSONB column.
func (r *Requirements) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*r = Requirements{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for Requirements", value)
	}
	if len(data) == 0 {
		*r = Requirements{}
		return nil
	}
	if err := json.Unmarshal(data, r); err != nil {
		return fmt.Errorf("unmarshal requirements: %w", err)
	}
	return nil
}

// Campaign is a brand's request for content.
type Campaign struct {
	ID                  string         `db:"id" json:"id"`
	BrandID             string         `db:"brand_id" json:"brandId"`
	Title               string         `db:"title" json:"title"`
	Description         string         `db:"description" json:"description"`
	Category            Category       `db:"category" json:"category"`
	BudgetMin           int64          `db:"budget_min" json:"budgetMin"`
	BudgetMax           int64          `db:"budget_max" json:"budgetMax"`
	Requirements        Requirements   `db:"requirements" json:"requirements"`
	TargetAudience      string         `db:"target_audience" json:"targetAudience,omitempty"`
	Deadline            time.Time      `db:"deadline" json:"deadline"`
	ApplicationDeadline time.Time      `db:"application_deadline" json:"applicationDeadline"`
	Notes               string         `db:"notes" json:"notes,omitempty"`
	BrandName           string         `db:"brand_name" json:"brandName,omitempty"`
	IsDirectHire        bool           `db:"is_direct_hire" json:"isDirectHire"`
	SelectedKOLs        pq.StringArray `db:"selected_kols" json:"selectedKols"`
	Status              CampaignStatus `db:"status" json:"status"`
	CreatedAt           time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updatedAt"`
}

// HasKOL reports whether kolID is in the selected set.
func (c *Campaign) HasKOL(kolID string) bool {
	for _, id := range c.SelectedKOLs {
		if id == kolID {
			return true
		}
	}
	return false
}

// AddKOL inserts kolID into the selected set if absent.
func (c *Campaign) AddKOL(kolID string) {
	if !c.HasKOL(kolID) {
		c.SelectedKOLs = append(c.SelectedKOLs, kolID)
	}
}

// RemoveKOL drops kolID from the selected set.
func (c *Campaign) RemoveKOL(kolID string) {
	kept := c.SelectedKOLs[:0]
	for _, id := range c.SelectedKOLs {
		if id != kolID {
			kept = append(kept, id)
		}
	}
	c.SelectedKOLs = kept
}

// CampaignFilter constrains campaign listings.
type CampaignFilter struct {
	BrandID      string
	SelectedKOL  string
	OpenOnly     bool
	AppliesAfter *time.Time
	Limit        int
	Offset       int
}
