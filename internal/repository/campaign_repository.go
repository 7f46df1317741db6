package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/kollect-api/internal/models"
	"github.com/noah-isme/kollect-api/pkg/database"
)

const campaignColumns = `id, brand_id, title, description, category, budget_min, budget_max, requirements,
	target_audience, deadline, application_deadline, notes, brand_name, is_direct_hire, selected_kols,
	status, created_at, updated_at`

// CampaignRepository persists campaigns.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs the repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

func (r *CampaignRepository) conn(ctx context.Context) database.Conn {
	return database.ConnFor(ctx, r.db)
}

// Create inserts a new campaign row.
func (r *CampaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	if campaign.ID == "" {
		campaign.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = now
	}
	campaign.UpdatedAt = campaign.CreatedAt
	if campaign.SelectedKOLs == nil {
		campaign.SelectedKOLs = pq.StringArray{}
	}
	const query = `INSERT INTO campaigns (` + campaignColumns + `)
	VALUES (:id, :brand_id, :title, :description, :category, :budget_min, :budget_max, :requirements,
	:target_audience, :deadline, :application_deadline, :notes, :brand_name, :is_direct_hire, :selected_kols,
	:status, :created_at, :updated_at)`
	if _, err := r.conn(ctx).NamedExecContext(ctx, query, campaign); err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// GetByID fetches a campaign by identifier.
func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	return r.get(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
}

// GetForUpdate fetches a campaign and locks its row for the current transaction.
func (r *CampaignRepository) GetForUpdate(ctx context.Context, id string) (*models.Campaign, error) {
	return r.get(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1 FOR UPDATE`, id)
}

func (r *CampaignRepository) get(ctx context.Context, query, id string) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := r.conn(ctx).GetContext(ctx, &campaign, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return &campaign, nil
}

// UpdateState persists the mutable lifecycle fields of a campaign.
func (r *CampaignRepository) UpdateState(ctx context.Context, campaign *models.Campaign) error {
	campaign.UpdatedAt = time.Now().UTC()
	const query = `UPDATE campaigns SET status = :status, selected_kols = :selected_kols,
	is_direct_hire = :is_direct_hire, updated_at = :updated_at WHERE id = :id`
	res, err := r.conn(ctx).NamedExecContext(ctx, query, campaign)
	if err != nil {
		return fmt.Errorf("update campaign state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update campaign rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns campaigns matching the filter, newest first, and the total count.
func (r *CampaignRepository) List(ctx context.Context, filter models.CampaignFilter) ([]models.Campaign, int, error) {
	var conditions []string
	var args []interface{}

	if filter.BrandID != "" && filter.SelectedKOL != "" {
		args = append(args, filter.BrandID, filter.SelectedKOL)
		conditions = append(conditions, fmt.Sprintf("(brand_id = $%d OR $%d = ANY(selected_kols))", len(args)-1, len(args)))
	} else if filter.BrandID != "" {
		args = append(args, filter.BrandID)
		conditions = append(conditions, fmt.Sprintf("brand_id = $%d", len(args)))
	} else if filter.SelectedKOL != "" {
		args = append(args, filter.SelectedKOL)
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(selected_kols)", len(args)))
	}
	if filter.OpenOnly {
		args = append(args, models.CampaignStatusOpen)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.AppliesAfter != nil {
		args = append(args, *filter.AppliesAfter)
		conditions = append(conditions, fmt.Sprintf("application_deadline >= $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf("SELECT %s FROM campaigns%s ORDER BY created_at DESC LIMIT %d OFFSET %d", campaignColumns, where, limit, offset)
	var campaigns []models.Campaign
	if err := r.conn(ctx).SelectContext(ctx, &campaigns, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}

	var total int
	if err := r.conn(ctx).GetContext(ctx, &total, "SELECT COUNT(*) FROM campaigns"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}
	return campaigns, total, nil
}
