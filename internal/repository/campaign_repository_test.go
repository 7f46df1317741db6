package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kollect-api/internal/models"
)

var campaignRowColumns = []string{"id", "brand_id", "title", "description", "category", "budget_min", "budget_max", "requirements",
	"target_audience", "deadline", "application_deadline", "notes", "brand_name", "is_direct_hire", "selected_kols",
	"status", "created_at", "updated_at"}

func campaignRow(id string, status models.CampaignStatus, selected string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(campaignRowColumns).AddRow(
		id, "b1", "Summer Launch", "Promote the summer line", "fashion", 1000000, 5000000,
		[]byte(`[{"type":"ig_post","count":2,"description":"Feed post"}]`),
		"Gen Z", now.Add(720*time.Hour), now, "", "Acme", true, selected,
		string(status), now, now)
}

func TestCampaignCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCampaignRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO campaigns")).WillReturnResult(sqlmock.NewResult(1, 1))

	campaign := &models.Campaign{BrandID: "b1", Title: "Summer Launch", Status: models.CampaignStatusOpen}
	require.NoError(t, repo.Create(context.Background(), campaign))
	assert.NotEmpty(t, campaign.ID)
	assert.NotNil(t, campaign.SelectedKOLs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignGetForUpdate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCampaignRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM campaigns WHERE id = $1 FOR UPDATE")).
		WithArgs("c1").
		WillReturnRows(campaignRow("c1", models.CampaignStatusPendingApproval, "{k1,k2}"))

	campaign, err := repo.GetForUpdate(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, pq.StringArray{"k1", "k2"}, campaign.SelectedKOLs)
	require.Len(t, campaign.Requirements, 1)
	assert.Equal(t, models.DeliverableIGPost, campaign.Requirements[0].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignUpdateStateMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCampaignRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE campaigns SET status = ?")).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateState(context.Background(), &models.Campaign{ID: "c404", Status: models.CampaignStatusCancelled})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignListOpen(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCampaignRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM campaigns WHERE status = $1 AND application_deadline >= $2 ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WithArgs(models.CampaignStatusOpen, now).
		WillReturnRows(campaignRow("c1", models.CampaignStatusOpen, "{}"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM campaigns WHERE status = $1 AND application_deadline >= $2")).
		WithArgs(models.CampaignStatusOpen, now).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	campaigns, total, err := repo.List(context.Background(), models.CampaignFilter{OpenOnly: true, AppliesAfter: &now})
	require.NoError(t, err)
	assert.Len(t, campaigns, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
