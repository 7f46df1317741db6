package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/kollect-api/internal/dto"
	"github.com/noah-isme/kollect-api/internal/models"
	"github.com/noah-isme/kollect-api/internal/repository"
	appErrors "github.com/noah-isme/kollect-api/pkg/errors"
)

const defaultCampaignDeadline = 30 * 24 * time.Hour

type campaignStore interface {
	Create(ctx context.Context, campaign *models.Campaign) error
	GetByID(ctx context.Context, id string) (*models.Campaign, error)
	GetForUpdate(ctx context.Context, id string) (*models.Campaign, error)
	UpdateState(ctx context.Context, campaign *models.Campaign) error
	List(ctx context.Context, filter models.CampaignFilter) ([]models.Campaign, int, error)
}

type campaignWorkStore interface {
	Create(ctx context.Context, work *models.Work) error
	FindByCampaignAndKOL(ctx context.Context, campaignID, kolID string) (*models.Work, error)
	UpdateStatus(ctx context.Context, update repository.StatusUpdate) error
}

type kolDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
}

// TxRunner runs fn inside a single database transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CampaignServiceConfig holds tunables of the campaign engine.
type CampaignServiceConfig struct {
	DefaultDeadline time.Duration
}

// CampaignService implements campaign creation and the invite handshake.
type CampaignService struct {
	campaigns campaignStore
	works     campaignWorkStore
	users     kolDirectory
	tx        TxRunner
	notifier  Notifier
	cache     *CacheService
	metrics   *MetricsService
	cfg       CampaignServiceConfig
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewCampaignService constructs the campaign engine.
func NewCampaignService(
	campaigns campaignStore,
	works campaignWorkStore,
	users kolDirectory,
	tx TxRunner,
	notifier Notifier,
	cache *CacheService,
	metrics *MetricsService,
	cfg CampaignServiceConfig,
	logger *zap.Logger,
) *CampaignService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultDeadline <= 0 {
		cfg.DefaultDeadline = defaultCampaignDeadline
	}
	return &CampaignService{
		campaigns: campaigns,
		works:     works,
		users:     users,
		tx:        tx,
		notifier:  notifier,
		cache:     cache,
		metrics:   metrics,
		cfg:       cfg,
		validator: validator.New(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a campaign for brandID. With a resolved target the hire
// path opens an invite and the direct path also materializes a pending work.
func (s *CampaignService) Create(ctx context.Context, brandID string, req dto.CreateCampaignRequest, path dto.CampaignPath) (*dto.CreateCampaignResponse, error) {
	title := firstNonEmpty(req.Title, req.CampaignName)
	description := strings.TrimSpace(req.Description)
	if title == "" || description == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "title and description are required")
	}

	target, err := s.resolveKOL(ctx, req.TargetKOLID, req.TargetKOLUsername)
	if err != nil {
		return nil, err
	}
	if target != nil && target.ID == brandID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cannot target your own account")
	}

	now := s.now()
	budgetMin, budgetMax := ParseBudgetRange(req.BudgetRange)
	campaign := &models.Campaign{
		ID:                  uuid.NewString(),
		BrandID:             brandID,
		Title:               title,
		Description:         description,
		Category:            models.ParseCategory(firstNonEmpty(req.Category, req.Industry)),
		BudgetMin:           budgetMin,
		BudgetMax:           budgetMax,
		Requirements:        NormalizeRequirements(req.Requirements, req.ContentTypes),
		TargetAudience:      strings.TrimSpace(req.TargetAudience),
		Deadline:            now.Add(s.cfg.DefaultDeadline),
		ApplicationDeadline: now,
		Notes:               strings.TrimSpace(req.Notes),
		BrandName:           firstNonEmpty(req.BrandName, req.BrandCompany),
		SelectedKOLs:        []string{},
		Status:              models.CampaignStatusOpen,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if req.Deadline != nil && !req.Deadline.IsZero() {
		campaign.Deadline = req.Deadline.UTC()
	}
	if req.ApplicationDeadline != nil && !req.ApplicationDeadline.IsZero() {
		campaign.ApplicationDeadline = req.ApplicationDeadline.UTC()
	} else if req.StartDate != nil && !req.StartDate.IsZero() {
		campaign.ApplicationDeadline = req.StartDate.UTC()
	}
	if campaign.BrandName == "" {
		campaign.BrandName = s.displayName(ctx, brandID)
	}

	var work *models.Work
	if target != nil {
		campaign.AddKOL(target.ID)
		campaign.IsDirectHire = true
		campaign.Status = models.CampaignStatusPendingApproval
		if path == dto.CampaignPathDirect {
			campaign.Status = models.CampaignStatusInProgress
			work = MaterializeWork(campaign, target.ID, models.WorkStatusPending, now)
		}
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.campaigns.Create(ctx, campaign); err != nil {
			return appErrors.Internal(err, "failed to create campaign")
		}
		if work != nil {
			work.CampaignID = campaign.ID
			if err := s.works.Create(ctx, work); err != nil {
				return appErrors.Internal(err, "failed to create work")
			}
		}
		if target != nil {
			s.emitInvite(ctx, campaign, target.ID, work)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordEvent(EventCampaignCreated)
	if work != nil {
		s.cache.Invalidate(ctx, StatsCacheKey(work.KOLID))
	}
	s.logger.Info("campaign created",
		zap.String("campaign_id", campaign.ID),
		zap.String("brand_id", brandID),
		zap.String("status", string(campaign.Status)),
		zap.String("path", string(path)))

	resp := &dto.CreateCampaignResponse{Campaign: dto.CampaignSummary{ID: campaign.ID, Title: campaign.Title, Status: campaign.Status}}
	if target != nil {
		resp.Campaign.TargetKOL = &dto.TargetKOLSummary{ID: target.ID, Username: target.Username}
	}
	if work != nil {
		resp.Work = &dto.WorkRef{ID: work.ID, Status: work.Status}
	}
	return resp, nil
}

// Invite targets a KOL on an open campaign owned by brandID.
func (s *CampaignService) Invite(ctx context.Context, campaignID, brandID string, req dto.InviteKOLRequest) (*dto.CampaignSummary, error) {
	var summary *dto.CampaignSummary
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		campaign, err := s.lockCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		if campaign.BrandID != brandID {
			return appErrors.Clone(appErrors.ErrForbidden, "only the campaign owner can invite")
		}
		if campaign.Status != models.CampaignStatusOpen {
			return appErrors.Clone(appErrors.ErrConflict, "campaign is not open for invites")
		}
		target, err := s.resolveKOL(ctx, req.KOLID, req.KOLUsername)
		if err != nil {
			return err
		}
		if target == nil {
			return appErrors.Clone(appErrors.ErrNotFound, "kol not found")
		}
		if target.ID == brandID {
			return appErrors.Clone(appErrors.ErrValidation, "cannot target your own account")
		}
		if campaign.HasKOL(target.ID) {
			return appErrors.Clone(appErrors.ErrConflict, "kol already invited")
		}

		campaign.AddKOL(target.ID)
		campaign.IsDirectHire = true
		campaign.Status = models.CampaignStatusPendingApproval
		if err := s.campaigns.UpdateState(ctx, campaign); err != nil {
			return appErrors.Internal(err, "failed to update campaign")
		}
		s.emitInvite(ctx, campaign, target.ID, nil)
		summary = &dto.CampaignSummary{
			ID:        campaign.ID,
			Title:     campaign.Title,
			Status:    campaign.Status,
			TargetKOL: &dto.TargetKOLSummary{ID: target.ID, Username: target.Username},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordEvent(EventCampaignInvited)
	return summary, nil
}

// Respond records kolID's decision on an open invite.
func (s *CampaignService) Respond(ctx context.Context, campaignID, kolID string, req dto.RespondCampaignRequest) (*dto.RespondCampaignResponse, error) {
	req.Action = strings.ToLower(strings.TrimSpace(req.Action))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "action must be accept or reject")
	}
	accept := req.Action == "accept"

	var result *dto.RespondCampaignResponse
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		campaign, err := s.lockCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		work, err := s.works.FindByCampaignAndKOL(ctx, campaign.ID, kolID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return appErrors.Internal(err, "failed to load work")
		}
		if !inviteOpen(campaign, kolID, work) {
			return appErrors.ErrNotInvited
		}

		now := s.now()
		if accept {
			work, err = s.accept(ctx, campaign, kolID, work, now)
		} else {
			work, err = s.reject(ctx, campaign, kolID, work, now)
		}
		if err != nil {
			return err
		}
		result = &dto.RespondCampaignResponse{}
		if accept {
			result.Work = &dto.WorkRef{ID: work.ID, Title: work.Title, Status: work.Status}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if accept {
		s.metrics.RecordEvent(EventCampaignAccepted)
	} else {
		s.metrics.RecordEvent(EventCampaignRejected)
	}
	s.cache.Invalidate(ctx, StatsCacheKey(kolID))
	s.logger.Info("campaign invite answered",
		zap.String("campaign_id", campaignID),
		zap.String("kol_id", kolID),
		zap.String("action", req.Action))
	return result, nil
}

func (s *CampaignService) accept(ctx context.Context, campaign *models.Campaign, kolID string, work *models.Work, now time.Time) (*models.Work, error) {
	campaign.Status = models.CampaignStatusInProgress
	if err := s.campaigns.UpdateState(ctx, campaign); err != nil {
		return nil, appErrors.Internal(err, "failed to update campaign")
	}

	if work != nil {
		// Accepting books the full budget, as on the invite path.
		earnings := campaign.BudgetMax
		err := s.works.UpdateStatus(ctx, repository.StatusUpdate{
			WorkID:    work.ID,
			From:      models.WorkStatusPending,
			To:        models.WorkStatusActive,
			StartedAt: &now,
			Earnings:  &earnings,
			At:        now,
		})
		if err != nil {
			return nil, mapStaleWork(err)
		}
		work.Status = models.WorkStatusActive
		work.StartedAt = &now
		work.Earnings = earnings
	} else {
		work = MaterializeWork(campaign, kolID, models.WorkStatusActive, now)
		if err := s.works.Create(ctx, work); err != nil {
			return nil, appErrors.Internal(err, "failed to create work")
		}
	}

	s.notifier.Emit(ctx, models.NotificationDraft{
		RecipientID: campaign.BrandID,
		SenderID:    kolID,
		Type:        models.NotificationCampaignAccepted,
		Message:     fmt.Sprintf("accepted your campaign %q", campaign.Title),
		Data:        map[string]interface{}{"campaignId": campaign.ID, "workId": work.ID},
	}, campaign.ID, work.ID)
	return work, nil
}

func (s *CampaignService) reject(ctx context.Context, campaign *models.Campaign, kolID string, work *models.Work, now time.Time) (*models.Work, error) {
	campaign.Status = models.CampaignStatusRejected
	campaign.RemoveKOL(kolID)
	if err := s.campaigns.UpdateState(ctx, campaign); err != nil {
		return nil, appErrors.Internal(err, "failed to update campaign")
	}
	if work != nil {
		err := s.works.UpdateStatus(ctx, repository.StatusUpdate{
			WorkID: work.ID,
			From:   models.WorkStatusPending,
			To:     models.WorkStatusCancelled,
			At:     now,
		})
		if err != nil {
			return nil, mapStaleWork(err)
		}
		work.Status = models.WorkStatusCancelled
	}

	s.notifier.Emit(ctx, models.NotificationDraft{
		RecipientID: campaign.BrandID,
		SenderID:    kolID,
		Type:        models.NotificationCampaignRejected,
		Message:     fmt.Sprintf("declined your campaign %q", campaign.Title),
		Data:        map[string]interface{}{"campaignId": campaign.ID},
	}, campaign.ID)
	return work, nil
}

// Cancel withdraws a campaign that has not been accepted yet.
func (s *CampaignService) Cancel(ctx context.Context, campaignID, brandID string) (*dto.CampaignSummary, error) {
	var summary *dto.CampaignSummary
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		campaign, err := s.lockCampaign(ctx, campaignID)
		if err != nil {
			return err
		}
		if campaign.BrandID != brandID {
			return appErrors.Clone(appErrors.ErrForbidden, "only the campaign owner can cancel")
		}
		if campaign.Status != models.CampaignStatusOpen && campaign.Status != models.CampaignStatusPendingApproval {
			return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("campaign cannot be cancelled from %s", campaign.Status))
		}

		invited := append([]string(nil), campaign.SelectedKOLs...)
		campaign.Status = models.CampaignStatusCancelled
		campaign.SelectedKOLs = []string{}
		if err := s.campaigns.UpdateState(ctx, campaign); err != nil {
			return appErrors.Internal(err, "failed to update campaign")
		}
		for _, kolID := range invited {
			s.notifier.Emit(ctx, models.NotificationDraft{
				RecipientID: kolID,
				SenderID:    brandID,
				Type:        models.NotificationCampaignCancelled,
				Message:     fmt.Sprintf("cancelled the campaign %q", campaign.Title),
				Data:        map[string]interface{}{"campaignId": campaign.ID},
			}, campaign.ID)
		}
		summary = &dto.CampaignSummary{ID: campaign.ID, Title: campaign.Title, Status: campaign.Status}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordEvent(EventCampaignCancelled)
	return summary, nil
}

// Get returns a campaign visible to the caller.
func (s *CampaignService) Get(ctx context.Context, id, userID string, role models.UserRole) (*models.Campaign, error) {
	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, mapCampaignErr(err)
	}
	if role == models.RoleAdmin || campaign.BrandID == userID || campaign.HasKOL(userID) ||
		campaign.Status == models.CampaignStatusOpen {
		return campaign, nil
	}
	return nil, appErrors.Clone(appErrors.ErrForbidden, "you do not have access to this campaign")
}

// List returns the caller's campaigns for type "my", otherwise the open
// marketplace listings still accepting applications.
func (s *CampaignService) List(ctx context.Context, userID string, role models.UserRole, query dto.CampaignQuery) ([]models.Campaign, *models.Pagination, error) {
	page, pageSize := query.Page, query.PageSize
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	filter := models.CampaignFilter{Limit: pageSize, Offset: (page - 1) * pageSize}
	if strings.EqualFold(query.Type, "my") {
		if role == models.RoleKOL {
			filter.SelectedKOL = userID
		} else {
			filter.BrandID = userID
		}
	} else {
		now := s.now()
		filter.OpenOnly = true
		filter.AppliesAfter = &now
	}

	campaigns, total, err := s.campaigns.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list campaigns")
	}
	if campaigns == nil {
		campaigns = []models.Campaign{}
	}
	return campaigns, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

func (s *CampaignService) lockCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	campaign, err := s.campaigns.GetForUpdate(ctx, id)
	if err != nil {
		return nil, mapCampaignErr(err)
	}
	return campaign, nil
}

func (s *CampaignService) emitInvite(ctx context.Context, campaign *models.Campaign, kolID string, work *models.Work) {
	data := map[string]interface{}{
		"campaignId":   campaign.ID,
		"campaignName": campaign.Title,
		"budget":       map[string]int64{"min": campaign.BudgetMin, "max": campaign.BudgetMax},
		"deadline":     campaign.Deadline,
		"brandName":    campaign.BrandName,
	}
	keyParts := []string{campaign.ID}
	if work != nil {
		data["workId"] = work.ID
		keyParts = append(keyParts, work.ID)
	}
	s.notifier.Emit(ctx, models.NotificationDraft{
		RecipientID: kolID,
		SenderID:    campaign.BrandID,
		Type:        models.NotificationCampaignInvite,
		Message:     fmt.Sprintf("invited you to the campaign %q", campaign.Title),
		Data:        data,
	}, keyParts...)
}

// resolveKOL looks the target up by id, then by username. An unknown target
// resolves to nil without error.
func (s *CampaignService) resolveKOL(ctx context.Context, id, username string) (*models.User, error) {
	id = strings.TrimSpace(id)
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if id == "" && username == "" {
		return nil, nil
	}

	var (
		user *models.User
		err  error
	)
	if id != "" {
		user, err = s.users.FindByID(ctx, id)
	} else {
		user, err = s.users.FindByUsername(ctx, username)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Internal(err, "failed to resolve kol")
	}
	if user.Role != models.RoleKOL {
		return nil, appErrors.Clone(appErrors.ErrValidation, "target user is not a KOL")
	}
	return user, nil
}

func (s *CampaignService) displayName(ctx context.Context, userID string) string {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("failed to resolve brand name", zap.String("user_id", userID), zap.Error(err))
		}
		return ""
	}
	return user.DisplayName()
}

// inviteOpen holds while kolID is selected and has not answered yet.
func inviteOpen(campaign *models.Campaign, kolID string, work *models.Work) bool {
	if campaign.Status.Terminal() || !campaign.HasKOL(kolID) {
		return false
	}
	return work == nil || work.Status == models.WorkStatusPending
}

func mapCampaignErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "campaign not found")
	}
	return appErrors.Internal(err, "failed to load campaign")
}

func mapStaleWork(err error) error {
	if errors.Is(err, repository.ErrStaleVersion) {
		return appErrors.Clone(appErrors.ErrConflict, "work was modified concurrently")
	}
	return appErrors.Internal(err, "failed to update work")
}

// ParseBudgetRange reads "min-max" free text such as "Rp 1.000.000 - 5.000.000".
// Everything but digits and dashes is ignored; a missing max equals min.
func ParseBudgetRange(raw string) (int64, int64) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	parts := strings.Split(b.String(), "-")
	parse := func(i int) int64 {
		if i >= len(parts) {
			return 0
		}
		v, err := strconv.ParseInt(parts[i], 10, 64)
		if err != nil || v < 0 {
			return 0
		}
		return v
	}
	lo, hi := parse(0), parse(1)
	if hi == 0 {
		hi = lo
	}
	return lo, hi
}

type legacyContentType struct {
	kind  models.DeliverableType
	title string
}

var legacyContentTypes = map[string]legacyContentType{
	"ig_feed":     {models.DeliverableIGPost, "Instagram Feed Post"},
	"ig_feeds":    {models.DeliverableIGPost, "Instagram Feed Post"},
	"ig feeds":    {models.DeliverableIGPost, "Instagram Feed Post"},
	"ig_post":     {models.DeliverableIGPost, "Instagram Feed Post"},
	"ig_reel":     {models.DeliverableIGReel, "Instagram Reel"},
	"ig_reels":    {models.DeliverableIGReel, "Instagram Reel"},
	"ig reels":    {models.DeliverableIGReel, "Instagram Reel"},
	"ig_story":    {models.DeliverableIGStory, "Instagram Story"},
	"ig story":    {models.DeliverableIGStory, "Instagram Story"},
	"tiktok":      {models.DeliverableTikTok, "TikTok Video"},
	"youtube":     {models.DeliverableYouTube, "YouTube Video"},
	"twitter":     {models.DeliverableTwitter, "Twitter/X Post"},
	"x (twitter)": {models.DeliverableTwitter, "Twitter/X Post"},
}

// DeliverableTitle is the default title for a deliverable type.
func DeliverableTitle(t models.DeliverableType) string {
	switch t {
	case models.DeliverableIGPost:
		return "Instagram Feed Post"
	case models.DeliverableIGReel:
		return "Instagram Reel"
	case models.DeliverableIGStory:
		return "Instagram Story"
	case models.DeliverableTikTok:
		return "TikTok Video"
	case models.DeliverableYouTube:
		return "YouTube Video"
	case models.DeliverableTwitter:
		return "Twitter/X Post"
	default:
		return "Content"
	}
}

// NormalizeRequirements cleans structured requirements. When none are
// given the legacy contentTypes list is mapped to one item per entry.
func NormalizeRequirements(inputs []dto.RequirementInput, contentTypes []string) models.Requirements {
	result := models.Requirements{}
	for _, in := range inputs {
		count := in.Count
		if count < 1 {
			count = 1
		}
		result = append(result, models.Requirement{
			Type:        models.ParseDeliverableType(in.Type),
			Count:       count,
			Description: strings.TrimSpace(in.Description),
		})
	}
	if len(result) > 0 {
		return result
	}
	for _, raw := range contentTypes {
		key := strings.ToLower(strings.TrimSpace(raw))
		if key == "" {
			continue
		}
		legacy, ok := legacyContentTypes[key]
		if !ok {
			legacy = legacyContentType{kind: models.ParseDeliverableType(key), title: strings.TrimSpace(raw)}
		}
		result = append(result, models.Requirement{Type: legacy.kind, Count: 1, Description: legacy.title})
	}
	return result
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
