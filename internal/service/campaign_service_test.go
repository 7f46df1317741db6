package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kollect-api/internal/dto"
	"github.com/noah-isme/kollect-api/internal/models"
	appErrors "github.com/noah-isme/kollect-api/pkg/errors"
)

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr), "expected app error, got %v", err)
	assert.Equal(t, code, appErr.Code)
}

func igPostRequirement(count int) dto.RequirementInput {
	return dto.RequirementInput{Type: "ig_post", Count: count}
}

func TestCreateCampaignRequiresTitleAndDescription(t *testing.T) {
	f := newPipelineFixture(t)

	_, err := f.campaigns.Create(context.Background(), "brand-1", dto.CreateCampaignRequest{Title: "  ", Description: "x"}, dto.CampaignPathHire)
	requireCode(t, err, appErrors.ErrValidation.Code)

	_, err = f.campaigns.Create(context.Background(), "brand-1", dto.CreateCampaignRequest{Title: "Launch"}, dto.CampaignPathHire)
	requireCode(t, err, appErrors.ErrValidation.Code)
	assert.Empty(t, f.state.campaigns)
}

func TestCreateCampaignHireInvitesTarget(t *testing.T) {
	f := newPipelineFixture(t)

	resp, err := f.campaigns.Create(context.Background(), "brand-1", dto.CreateCampaignRequest{
		Title:             "Glow Serum Launch",
		Description:       "Morning routine",
		Category:          "Beauty",
		BudgetRange:       "1000000-3000000",
		Requirements:      []dto.RequirementInput{igPostRequirement(2)},
		TargetKOLUsername: "@kolone",
	}, dto.CampaignPathHire)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusPendingApproval, resp.Campaign.Status)
	require.NotNil(t, resp.Campaign.TargetKOL)
	assert.Equal(t, "kol-1", resp.Campaign.TargetKOL.ID)
	assert.Nil(t, resp.Work)

	stored := f.state.campaign(t, resp.Campaign.ID)
	assert.True(t, stored.HasKOL("kol-1"))
	assert.True(t, stored.IsDirectHire)
	assert.Equal(t, models.CategoryBeauty, stored.Category)
	assert.Equal(t, int64(1000000), stored.BudgetMin)
	assert.Equal(t, int64(3000000), stored.BudgetMax)
	assert.Equal(t, "Acme Beauty", stored.BrandName)
	assert.WithinDuration(t, time.Now().Add(defaultCampaignDeadline), stored.Deadline, time.Minute)

	invites := f.state.entries(models.NotificationCampaignInvite)
	require.Len(t, invites, 1)
	assert.Equal(t, "kol-1", invites[0].Payload.RecipientID)
	assert.Equal(t, "brand-1", invites[0].Payload.SenderID)
	assert.Equal(t, resp.Campaign.ID, invites[0].Payload.Data["campaignId"])
	assert.Equal(t, "Glow Serum Launch", invites[0].Payload.Data["campaignName"])
	assert.Equal(t, 0, f.state.workCount())
}

func TestCreateCampaignDirectMaterializesPendingWork(t *testing.T) {
	f := newPipelineFixture(t)

	resp, err := f.campaigns.Create(context.Background(), "brand-1", dto.CreateCampaignRequest{
		Title:        "Snack Review",
		Description:  "Taste test",
		BudgetRange:  "500000",
		ContentTypes: []string{"IG Reels", "TikTok"},
		TargetKOLID:  "kol-1",
	}, dto.CampaignPathDirect)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusInProgress, resp.Campaign.Status)
	require.NotNil(t, resp.Work)
	assert.Equal(t, models.WorkStatusPending, resp.Work.Status)

	work := f.state.work(t, resp.Work.ID)
	assert.NotEmpty(t, work.CampaignID)
	assert.Equal(t, resp.Campaign.ID, work.CampaignID)
	assert.Equal(t, int64(500000), work.Budget)
	assert.Zero(t, work.Earnings)
	assert.Nil(t, work.StartedAt)
	require.Len(t, work.Deliverables, 2)
	assert.Equal(t, models.DeliverableIGReel, work.Deliverables[0].Type)
	assert.Equal(t, "Instagram Reel", work.Deliverables[0].Title)
	assert.Equal(t, models.DeliverableTikTok, work.Deliverables[1].Type)

	invites := f.state.entries(models.NotificationCampaignInvite)
	require.Len(t, invites, 1)
	assert.Equal(t, resp.Work.ID, invites[0].Payload.Data["workId"])
}

func TestCreateCampaignUnresolvedTargetStaysOpen(t *testing.T) {
	f := newPipelineFixture(t)

	resp, err := f.campaigns.Create(context.Background(), "brand-1", dto.CreateCampaignRequest{
		Title: "Open Call", Description: "Anyone", TargetKOLUsername: "ghost",
	}, dto.CampaignPathDirect)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusOpen, resp.Campaign.Status)
	assert.Nil(t, resp.Campaign.TargetKOL)
	assert.Nil(t, resp.Work)
	assert.Empty(t, f.state.outbox)
}

func TestCreateCampaignRejectsNonKOLTarget(t *testing.T) {
	f := newPipelineFixture(t)

	_, err := f.campaigns.Create(context.Background(), "brand-1", dto.CreateCampaignRequest{
		Title: "Launch", Description: "x", TargetKOLID: "user-1",
	}, dto.CampaignPathHire)
	requireCode(t, err, appErrors.ErrValidation.Code)
}

func TestCreateCampaignSurvivesNotificationFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.state.enqueueErr = errors.New("outbox unavailable")

	resp, err := f.campaigns.Create(context.Background(), "brand-1", dto.CreateCampaignRequest{
		Title: "Launch", Description: "x", TargetKOLID: "kol-1", Requirements: []dto.RequirementInput{igPostRequirement(1)},
	}, dto.CampaignPathDirect)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusInProgress, f.state.campaign(t, resp.Campaign.ID).Status)
	assert.Equal(t, 1, f.state.workCount())
	assert.Empty(t, f.state.outbox)
}

// Scenarios A and B: invite, accept, work materialized.
func TestRespondAcceptMaterializesActiveWork(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	created, err := f.campaigns.Create(ctx, "brand-1", dto.CreateCampaignRequest{
		Title: "Glow", Description: "Serum", BudgetRange: "100-300",
		Requirements: []dto.RequirementInput{igPostRequirement(2)}, TargetKOLID: "kol-1",
	}, dto.CampaignPathHire)
	require.NoError(t, err)
	require.Len(t, f.state.entries(models.NotificationCampaignInvite), 1)

	resp, err := f.campaigns.Respond(ctx, created.Campaign.ID, "kol-1", dto.RespondCampaignRequest{Action: "ACCEPT"})
	require.NoError(t, err)
	require.NotNil(t, resp.Work)
	assert.Equal(t, models.WorkStatusActive, resp.Work.Status)
	assert.Equal(t, "Glow", resp.Work.Title)

	campaign := f.state.campaign(t, created.Campaign.ID)
	assert.Equal(t, models.CampaignStatusInProgress, campaign.Status)
	assert.True(t, campaign.HasKOL("kol-1"))

	work := f.state.work(t, resp.Work.ID)
	assert.Equal(t, int64(300), work.Budget)
	assert.Equal(t, int64(300), work.Earnings)
	assert.Zero(t, work.Progress)
	assert.NotNil(t, work.StartedAt)
	require.Len(t, work.Deliverables, 1)
	assert.Equal(t, models.DeliverableIGPost, work.Deliverables[0].Type)
	assert.Equal(t, 2, work.Deliverables[0].Required)
	assert.Zero(t, work.Deliverables[0].Submitted)

	accepted := f.state.entries(models.NotificationCampaignAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, "brand-1", accepted[0].Payload.RecipientID)
	assert.Equal(t, resp.Work.ID, accepted[0].Payload.Data["workId"])
}

func TestRespondAcceptActivatesDirectAssignWork(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	created, err := f.campaigns.Create(ctx, "brand-1", dto.CreateCampaignRequest{
		Title: "Direct", Description: "x", BudgetRange: "5000", TargetKOLID: "kol-1",
		Requirements: []dto.RequirementInput{igPostRequirement(1)},
	}, dto.CampaignPathDirect)
	require.NoError(t, err)
	assert.Zero(t, f.state.work(t, created.Work.ID).Earnings)

	resp, err := f.campaigns.Respond(ctx, created.Campaign.ID, "kol-1", dto.RespondCampaignRequest{Action: "accept"})
	require.NoError(t, err)
	assert.Equal(t, created.Work.ID, resp.Work.ID)
	assert.Equal(t, 1, f.state.workCount())
	work := f.state.work(t, created.Work.ID)
	assert.Equal(t, models.WorkStatusActive, work.Status)
	assert.Equal(t, int64(5000), work.Earnings)
	assert.NotNil(t, work.StartedAt)
}

// Scenario E: rejection removes the KOL and never creates a work.
func TestRespondReject(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	created, err := f.campaigns.Create(ctx, "brand-1", dto.CreateCampaignRequest{
		Title: "Glow", Description: "x", TargetKOLID: "kol-1", Requirements: []dto.RequirementInput{igPostRequirement(2)},
	}, dto.CampaignPathHire)
	require.NoError(t, err)

	resp, err := f.campaigns.Respond(ctx, created.Campaign.ID, "kol-1", dto.RespondCampaignRequest{Action: "reject"})
	require.NoError(t, err)
	assert.Nil(t, resp.Work)

	campaign := f.state.campaign(t, created.Campaign.ID)
	assert.Equal(t, models.CampaignStatusRejected, campaign.Status)
	assert.False(t, campaign.HasKOL("kol-1"))
	assert.Zero(t, f.state.workCount())
	rejected := f.state.entries(models.NotificationCampaignRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "brand-1", rejected[0].Payload.RecipientID)
}

func TestRespondRejectCancelsPendingWork(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	created, err := f.campaigns.Create(ctx, "brand-1", dto.CreateCampaignRequest{
		Title: "Direct", Description: "x", TargetKOLID: "kol-1",
	}, dto.CampaignPathDirect)
	require.NoError(t, err)

	_, err = f.campaigns.Respond(ctx, created.Campaign.ID, "kol-1", dto.RespondCampaignRequest{Action: "reject"})
	require.NoError(t, err)
	assert.Equal(t, models.WorkStatusCancelled, f.state.work(t, created.Work.ID).Status)
}

func TestRespondErrors(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	created, err := f.campaigns.Create(ctx, "brand-1", dto.CreateCampaignRequest{
		Title: "Glow", Description: "x", TargetKOLID: "kol-1",
	}, dto.CampaignPathHire)
	require.NoError(t, err)

	_, err = f.campaigns.Respond(ctx, created.Campaign.ID, "kol-1", dto.RespondCampaignRequest{Action: "maybe"})
	requireCode(t, err, appErrors.ErrValidation.Code)

	_, err = f.campaigns.Respond(ctx, "missing", "kol-1", dto.RespondCampaignRequest{Action: "accept"})
	requireCode(t, err, appErrors.ErrNotFound.Code)

	_, err = f.campaigns.Respond(ctx, created.Campaign.ID, "kol-2", dto.RespondCampaignRequest{Action: "accept"})
	requireCode(t, err, appErrors.ErrNotInvited.Code)

	_, err = f.campaigns.Respond(ctx, created.Campaign.ID, "kol-1", dto.RespondCampaignRequest{Action: "accept"})
	require.NoError(t, err)

	// A second answer finds the invite already consumed.
	_, err = f.campaigns.Respond(ctx, created.Campaign.ID, "kol-1", dto.RespondCampaignRequest{Action: "reject"})
	requireCode(t, err, appErrors.ErrNotInvited.Code)
	assert.Equal(t, models.CampaignStatusInProgress, f.state.campaign(t, created.Campaign.ID).Status)
}

func TestInviteOpenCampaign(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	created, err := f.campaigns.Create(ctx, "brand-1", dto.CreateCampaignRequest{Title: "Open", Description: "x"}, dto.CampaignPathHire)
	require.NoError(t, err)

	_, err = f.campaigns.Invite(ctx, created.Campaign.ID, "brand-2", dto.InviteKOLRequest{KOLID: "kol-1"})
	requireCode(t, err, appErrors.ErrForbidden.Code)

	_, err = f.campaigns.Invite(ctx, created.Campaign.ID, "brand-1", dto.InviteKOLRequest{KOLUsername: "nobody"})
	requireCode(t, err, appErrors.ErrNotFound.Code)

	summary, err := f.campaigns.Invite(ctx, created.Campaign.ID, "brand-1", dto.InviteKOLRequest{KOLUsername: "kolone"})
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusPendingApproval, summary.Status)
	assert.Len(t, f.state.entries(models.NotificationCampaignInvite), 1)

	_, err = f.campaigns.Invite(ctx, created.Campaign.ID, "brand-1", dto.InviteKOLRequest{KOLID: "kol-2"})
	requireCode(t, err, appErrors.ErrConflict.Code)
}

func TestCancelCampaign(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	created, err := f.campaigns.Create(ctx, "brand-1", dto.CreateCampaignRequest{
		Title: "Glow", Description: "x", TargetKOLID: "kol-1",
	}, dto.CampaignPathHire)
	require.NoError(t, err)

	_, err = f.campaigns.Cancel(ctx, created.Campaign.ID, "brand-2")
	requireCode(t, err, appErrors.ErrForbidden.Code)

	summary, err := f.campaigns.Cancel(ctx, created.Campaign.ID, "brand-1")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusCancelled, summary.Status)

	campaign := f.state.campaign(t, created.Campaign.ID)
	assert.Empty(t, campaign.SelectedKOLs)
	cancelled := f.state.entries(models.NotificationCampaignCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "kol-1", cancelled[0].Payload.RecipientID)

	_, err = f.campaigns.Cancel(ctx, created.Campaign.ID, "brand-1")
	requireCode(t, err, appErrors.ErrConflict.Code)

	_, err = f.campaigns.Respond(ctx, created.Campaign.ID, "kol-1", dto.RespondCampaignRequest{Action: "accept"})
	requireCode(t, err, appErrors.ErrNotInvited.Code)
}

func TestGetCampaignVisibility(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	invite, err := f.campaigns.Create(ctx, "brand-1", dto.CreateCampaignRequest{Title: "Private", Description: "x", TargetKOLID: "kol-1"}, dto.CampaignPathHire)
	require.NoError(t, err)
	open, err := f.campaigns.Create(ctx, "brand-1", dto.CreateCampaignRequest{Title: "Public", Description: "x"}, dto.CampaignPathHire)
	require.NoError(t, err)

	_, err = f.campaigns.Get(ctx, invite.Campaign.ID, "kol-1", models.RoleKOL)
	require.NoError(t, err)
	_, err = f.campaigns.Get(ctx, invite.Campaign.ID, "kol-2", models.RoleKOL)
	requireCode(t, err, appErrors.ErrForbidden.Code)
	_, err = f.campaigns.Get(ctx, invite.Campaign.ID, "admin", models.RoleAdmin)
	require.NoError(t, err)
	_, err = f.campaigns.Get(ctx, open.Campaign.ID, "kol-2", models.RoleKOL)
	require.NoError(t, err)
	_, err = f.campaigns.Get(ctx, "missing", "kol-2", models.RoleKOL)
	requireCode(t, err, appErrors.ErrNotFound.Code)
}

func TestListCampaignsFilters(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	_, err := f.campaigns.Create(ctx, "brand-1", dto.CreateCampaignRequest{Title: "Mine", Description: "x", TargetKOLID: "kol-1"}, dto.CampaignPathHire)
	require.NoError(t, err)

	items, page, err := f.campaigns.List(ctx, "brand-1", models.RoleBrand, dto.CampaignQuery{Type: "my"})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, "brand-1", f.state.lastFilter.BrandID)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PageSize)

	_, _, err = f.campaigns.List(ctx, "kol-1", models.RoleKOL, dto.CampaignQuery{Type: "my", Page: 2, PageSize: 5})
	require.NoError(t, err)
	assert.Equal(t, "kol-1", f.state.lastFilter.SelectedKOL)
	assert.Equal(t, 5, f.state.lastFilter.Offset)

	items, _, err = f.campaigns.List(ctx, "kol-2", models.RoleKOL, dto.CampaignQuery{})
	require.NoError(t, err)
	assert.True(t, f.state.lastFilter.OpenOnly)
	require.NotNil(t, f.state.lastFilter.AppliesAfter)
	assert.Empty(t, items)
}

func TestParseBudgetRange(t *testing.T) {
	cases := []struct {
		raw      string
		min, max int64
	}{
		{"1000-5000", 1000, 5000},
		{"Rp 1.000.000 - Rp 5.000.000", 1000000, 5000000},
		{"750", 750, 750},
		{"", 0, 0},
		{"negotiable", 0, 0},
		{"-300", 0, 300},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			lo, hi := ParseBudgetRange(tc.raw)
			assert.Equal(t, tc.min, lo)
			assert.Equal(t, tc.max, hi)
		})
	}
}

func TestNormalizeRequirements(t *testing.T) {
	reqs := NormalizeRequirements([]dto.RequirementInput{
		{Type: "IG_REEL", Count: 0, Description: " teaser "},
		{Type: "snapchat", Count: 3},
	}, []string{"tiktok"})
	require.Len(t, reqs, 2)
	assert.Equal(t, models.Requirement{Type: models.DeliverableIGReel, Count: 1, Description: "teaser"}, reqs[0])
	assert.Equal(t, models.DeliverableOther, reqs[1].Type)
	assert.Equal(t, 3, reqs[1].Count)

	legacy := NormalizeRequirements(nil, []string{"IG Feeds", "ig_story", "X (Twitter)", "YouTube", "podcast", " "})
	require.Len(t, legacy, 5)
	assert.Equal(t, models.Requirement{Type: models.DeliverableIGPost, Count: 1, Description: "Instagram Feed Post"}, legacy[0])
	assert.Equal(t, models.DeliverableIGStory, legacy[1].Type)
	assert.Equal(t, "Twitter/X Post", legacy[2].Description)
	assert.Equal(t, "YouTube Video", legacy[3].Description)
	assert.Equal(t, models.Requirement{Type: models.DeliverableOther, Count: 1, Description: "podcast"}, legacy[4])
}
