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
	"go.uber.org/zap"

	"github.com/noah-isme/kollect-api/internal/dto"
	"github.com/noah-isme/kollect-api/internal/models"
	"github.com/noah-isme/kollect-api/internal/repository"
	"github.com/noah-isme/kollect-api/pkg/cache"
	appErrors "github.com/noah-isme/kollect-api/pkg/errors"
)

// maxReviewAttempts bounds the reload-and-reapply loop on version conflicts.
const maxReviewAttempts = 3

const upcomingDeadlineWindow = 7 * 24 * time.Hour

type workStore interface {
	GetByID(ctx context.Context, id string) (*models.Work, error)
	LockDeliverable(ctx context.Context, workID string, idx int) (*models.Deliverable, error)
	AppendSubmission(ctx context.Context, submission *models.Submission) error
	TouchWork(ctx context.Context, workID string) error
	SaveReview(ctx context.Context, update repository.ReviewUpdate) error
	UpdateStatus(ctx context.Context, update repository.StatusUpdate) error
	UpdateDetails(ctx context.Context, workID string, notes *string, actualEngagement *int64) error
	List(ctx context.Context, filter models.WorkFilter) ([]models.Work, error)
	ListSubmissions(ctx context.Context, workID string, deliverableIdx *int) ([]models.Submission, error)
}

// WorkService implements the fulfillment side of the pipeline.
type WorkService struct {
	works     workStore
	tx        TxRunner
	notifier  Notifier
	cache     *CacheService
	metrics   *MetricsService
	statsTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewWorkService constructs the work engine.
func NewWorkService(works workStore, tx TxRunner, notifier Notifier, cache *CacheService, metrics *MetricsService, statsTTL time.Duration, logger *zap.Logger) *WorkService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkService{
		works:     works,
		tx:        tx,
		notifier:  notifier,
		cache:     cache,
		metrics:   metrics,
		statsTTL:  statsTTL,
		validator: validator.New(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// StatsCacheKey is the cache key of a KOL's dashboard stats.
func StatsCacheKey(kolID string) string {
	return cache.Key("stats", kolID)
}

// MaterializeWork builds a work for kolID from the campaign's requirements.
// Active works start immediately with the campaign's maximum budget as
// earnings; pending works carry the budget but no earnings yet.
func MaterializeWork(campaign *models.Campaign, kolID string, status models.WorkStatus, now time.Time) *models.Work {
	work := &models.Work{
		KOLID:        kolID,
		BrandID:      campaign.BrandID,
		CampaignID:   campaign.ID,
		Title:        campaign.Title,
		Description:  campaign.Description,
		Deadline:     campaign.Deadline,
		Notes:        campaign.Notes,
		Status:       status,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
		Deliverables: make([]models.Deliverable, 0, len(campaign.Requirements)),
	}
	if status == models.WorkStatusActive {
		work.Budget = campaign.BudgetMax
		work.Earnings = campaign.BudgetMax
		work.StartedAt = &now
	} else {
		work.Budget = campaign.BudgetMax
		if work.Budget == 0 {
			work.Budget = campaign.BudgetMin
		}
	}
	for i, req := range campaign.Requirements {
		required := req.Count
		if required < 1 {
			required = 1
		}
		title := req.Description
		if title == "" {
			title = DeliverableTitle(req.Type)
		}
		work.Deliverables = append(work.Deliverables, models.Deliverable{
			Index:       i,
			Type:        req.Type,
			Title:       title,
			Required:    required,
			Submissions: []models.Submission{},
		})
	}
	return work
}

// Submit appends a pending submission to one of kolID's deliverables.
func (s *WorkService) Submit(ctx context.Context, workID, kolID string, req dto.SubmitDeliverableRequest) (*dto.SubmitDeliverableResponse, error) {
	req.URL = strings.TrimSpace(req.URL)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "deliverableIndex and url are required")
	}
	idx := *req.DeliverableIndex

	var resp *dto.SubmitDeliverableResponse
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		work, err := s.load(ctx, workID)
		if err != nil {
			return err
		}
		if work.KOLID != kolID {
			return appErrors.Clone(appErrors.ErrForbidden, "only the assigned KOL can submit")
		}
		if idx >= len(work.Deliverables) {
			return appErrors.Clone(appErrors.ErrNotFound, "deliverable not found")
		}
		if !work.Status.InFlight() {
			return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("work is %s and no longer accepts submissions", work.Status))
		}

		if _, err := s.works.LockDeliverable(ctx, work.ID, idx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "deliverable not found")
			}
			return appErrors.Internal(err, "failed to lock deliverable")
		}
		submission := &models.Submission{
			WorkID:           work.ID,
			DeliverableIndex: idx,
			URL:              req.URL,
			Caption:          optionalString(req.Caption),
			MediaURL:         optionalString(req.MediaURL),
			Status:           models.SubmissionStatusPending,
			SubmittedAt:      s.now(),
		}
		if err := s.works.AppendSubmission(ctx, submission); err != nil {
			return appErrors.Internal(err, "failed to store submission")
		}
		if err := s.works.TouchWork(ctx, work.ID); err != nil {
			return appErrors.Internal(err, "failed to update work")
		}

		deliverable := work.Deliverables[idx]
		deliverable.Submissions = append(append([]models.Submission{}, deliverable.Submissions...), *submission)
		resp = &dto.SubmitDeliverableResponse{Deliverable: deliverable}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordEvent(EventSubmissionCreated)
	return resp, nil
}

// Review approves or rejects a pending submission on brandID's work and
// recomputes progress. A lost version race reloads the work and reapplies
// the review.
func (s *WorkService) Review(ctx context.Context, workID, brandID string, req dto.ReviewSubmissionRequest) (*dto.ReviewSubmissionResponse, error) {
	req.Action = strings.ToLower(strings.TrimSpace(req.Action))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "action must be approve or reject with deliverableIndex and submissionIndex")
	}

	for attempt := 1; ; attempt++ {
		resp, completed, err := s.reviewOnce(ctx, workID, brandID, req)
		if err == nil {
			s.metrics.RecordEvent(EventSubmissionReview)
			if completed {
				s.metrics.RecordEvent(EventWorkCompleted)
			}
			return resp, nil
		}
		if !errors.Is(err, repository.ErrStaleVersion) {
			return nil, err
		}
		if attempt >= maxReviewAttempts {
			s.logger.Warn("review abandoned after version conflicts", zap.String("work_id", workID), zap.Int("attempts", attempt))
			return nil, appErrors.Clone(appErrors.ErrConflict, "work was modified concurrently, please retry")
		}
		s.metrics.RecordEvent(EventReviewRetry)
	}
}

func (s *WorkService) reviewOnce(ctx context.Context, workID, brandID string, req dto.ReviewSubmissionRequest) (*dto.ReviewSubmissionResponse, bool, error) {
	var (
		resp      *dto.ReviewSubmissionResponse
		completed bool
		kolID     string
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		work, err := s.load(ctx, workID)
		if err != nil {
			return err
		}
		if work.BrandID != brandID {
			return appErrors.Clone(appErrors.ErrForbidden, "only the campaign brand can review")
		}
		if work.Status == models.WorkStatusCancelled || work.Status == models.WorkStatusPaid {
			return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("cannot review a %s work", work.Status))
		}
		dIdx, sIdx := *req.DeliverableIndex, *req.SubmissionIndex
		if dIdx >= len(work.Deliverables) {
			return appErrors.Clone(appErrors.ErrNotFound, "deliverable not found")
		}
		deliverable := &work.Deliverables[dIdx]
		if sIdx >= len(deliverable.Submissions) {
			return appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		submission := &deliverable.Submissions[sIdx]
		if submission.Status != models.SubmissionStatusPending {
			return appErrors.Clone(appErrors.ErrConflict, "submission already reviewed")
		}

		now := s.now()
		submission.Status = models.SubmissionStatusApproved
		if req.Action == "reject" {
			submission.Status = models.SubmissionStatusRejected
		}
		submission.Feedback = optionalString(req.Feedback)
		submission.ReviewedAt = &now

		previous := work.Status
		RecomputeProgress(work)
		update := repository.ReviewUpdate{
			WorkID:           work.ID,
			ExpectedVersion:  work.Version,
			WorkStatus:       work.Status,
			Progress:         work.Progress,
			DeliverableIndex: dIdx,
			Submitted:        deliverable.Submitted,
			SubmissionIndex:  sIdx,
			SubmissionStatus: submission.Status,
			Feedback:         submission.Feedback,
			ReviewedAt:       now,
		}
		if previous == models.WorkStatusInReview && AllComplete(work.Deliverables) {
			work.Status = models.WorkStatusCompleted
			work.CompletedAt = &now
			update.WorkStatus = work.Status
			update.CompletedAt = &now
			completed = true
		}

		if err := s.works.SaveReview(ctx, update); err != nil {
			switch {
			case errors.Is(err, repository.ErrStaleVersion):
				return err
			case errors.Is(err, sql.ErrNoRows):
				return appErrors.Clone(appErrors.ErrConflict, "submission already reviewed")
			default:
				return appErrors.Internal(err, "failed to save review")
			}
		}
		work.Version++

		s.emitReview(ctx, work, dIdx, sIdx, submission)
		if completed {
			s.emitStatusChange(ctx, work, brandID, previous)
		}
		kolID = work.KOLID
		resp = &dto.ReviewSubmissionResponse{
			Deliverable:  *deliverable,
			WorkProgress: work.Progress,
			WorkStatus:   work.Status,
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	s.cache.Invalidate(ctx, StatsCacheKey(kolID))
	return resp, completed, nil
}

type transitionActor int

const (
	actorKOL transitionActor = 1 << iota
	actorBrand
)

const actorEither = actorKOL | actorBrand

var workTransitions = map[models.WorkStatus]map[models.WorkStatus]transitionActor{
	models.WorkStatusPending: {
		models.WorkStatusActive:    actorKOL,
		models.WorkStatusCancelled: actorEither,
	},
	models.WorkStatusActive: {
		models.WorkStatusInReview:  actorKOL,
		models.WorkStatusCancelled: actorEither,
	},
	models.WorkStatusRevision: {
		models.WorkStatusInReview:  actorKOL,
		models.WorkStatusCancelled: actorEither,
	},
	models.WorkStatusInReview: {
		models.WorkStatusRevision:  actorBrand,
		models.WorkStatusCancelled: actorEither,
	},
	models.WorkStatusCompleted: {
		models.WorkStatusPaid: actorBrand,
	},
}

// CanTransition reports whether a work may move from one status to another
// through an explicit status change. Completion only happens through review.
func CanTransition(from, to models.WorkStatus) bool {
	_, ok := workTransitions[from][to]
	return ok
}

// TransitionStatus moves a work along the lifecycle on behalf of one of its parties.
func (s *WorkService) TransitionStatus(ctx context.Context, workID, userID string, to models.WorkStatus) (*models.Work, error) {
	if !to.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid work status")
	}

	var work *models.Work
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		work, err = s.load(ctx, workID)
		if err != nil {
			return err
		}
		if !work.IsParty(userID) {
			return appErrors.Clone(appErrors.ErrForbidden, "you are not a party to this work")
		}
		allowed, ok := workTransitions[work.Status][to]
		if !ok {
			return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("cannot move work from %s to %s", work.Status, to))
		}
		actor := actorBrand
		if userID == work.KOLID {
			actor = actorKOL
		}
		if allowed&actor == 0 {
			return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("you cannot move this work to %s", to))
		}

		now := s.now()
		update := repository.StatusUpdate{WorkID: work.ID, From: work.Status, To: to, At: now}
		switch to {
		case models.WorkStatusActive:
			if work.StartedAt == nil {
				update.StartedAt = &now
				work.StartedAt = &now
			}
			if work.Status == models.WorkStatusPending && work.Earnings == 0 {
				earnings := work.Budget
				update.Earnings = &earnings
				work.Earnings = earnings
			}
		case models.WorkStatusPaid:
			update.PaidAt = &now
			work.PaidAt = &now
		}
		if err := s.works.UpdateStatus(ctx, update); err != nil {
			return mapStaleWork(err)
		}

		previous := work.Status
		work.Status = to
		work.Version++
		work.UpdatedAt = now
		s.emitStatusChange(ctx, work, userID, previous)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordEvent(EventWorkTransition)
	s.cache.Invalidate(ctx, StatsCacheKey(work.KOLID))
	s.logger.Info("work status changed",
		zap.String("work_id", work.ID),
		zap.String("status", string(work.Status)),
		zap.String("actor_id", userID))
	return work, nil
}

// Update edits notes and engagement on kolID's work.
func (s *WorkService) Update(ctx context.Context, workID, kolID string, req dto.UpdateWorkRequest) (*models.Work, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "actualEngagement must not be negative")
	}
	work, err := s.load(ctx, workID)
	if err != nil {
		return nil, err
	}
	if work.KOLID != kolID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the assigned KOL can update this work")
	}
	if req.Notes != nil {
		trimmed := strings.TrimSpace(*req.Notes)
		req.Notes = &trimmed
	}
	if err := s.works.UpdateDetails(ctx, workID, req.Notes, req.ActualEngagement); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "work not found")
		}
		return nil, appErrors.Internal(err, "failed to update work")
	}
	s.cache.Invalidate(ctx, StatsCacheKey(kolID))
	return s.load(ctx, workID)
}

// Get returns a work visible to the caller.
func (s *WorkService) Get(ctx context.Context, workID, userID string, role models.UserRole) (*models.Work, error) {
	work, err := s.load(ctx, workID)
	if err != nil {
		return nil, err
	}
	if role != models.RoleAdmin && !work.IsParty(userID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you are not a party to this work")
	}
	return work, nil
}

// List returns the caller's works. Status is all, active or a single status.
func (s *WorkService) List(ctx context.Context, userID string, role models.UserRole, query dto.WorkQuery) ([]models.Work, error) {
	filter := models.WorkFilter{}
	switch role {
	case models.RoleKOL:
		filter.KOLID = userID
	case models.RoleAdmin:
	default:
		filter.BrandID = userID
	}

	switch status := strings.ToLower(strings.TrimSpace(query.Status)); status {
	case "", "all":
	case "active":
		filter.Statuses = models.ActiveWorkStatuses
	default:
		ws := models.WorkStatus(status)
		if !ws.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid status filter")
		}
		filter.Statuses = []models.WorkStatus{ws}
	}

	works, err := s.works.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list works")
	}
	if works == nil {
		works = []models.Work{}
	}
	return works, nil
}

// Submissions lists a work's submissions, optionally for one deliverable.
func (s *WorkService) Submissions(ctx context.Context, workID, userID string, role models.UserRole, deliverableIdx *int) ([]models.Submission, error) {
	work, err := s.Get(ctx, workID, userID, role)
	if err != nil {
		return nil, err
	}
	if deliverableIdx != nil && (*deliverableIdx < 0 || *deliverableIdx >= len(work.Deliverables)) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "deliverable not found")
	}
	submissions, err := s.works.ListSubmissions(ctx, workID, deliverableIdx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list submissions")
	}
	if submissions == nil {
		submissions = []models.Submission{}
	}
	return submissions, nil
}

// Stats returns the dashboard figures of kolID, served from cache when possible.
func (s *WorkService) Stats(ctx context.Context, kolID string) (*models.WorkStats, error) {
	key := StatsCacheKey(kolID)
	var cached models.WorkStats
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	start := time.Now()
	works, err := s.works.List(ctx, models.WorkFilter{KOLID: kolID})
	s.metrics.ObserveDBQuery("work_stats", time.Since(start))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load work stats")
	}
	stats := ComputeWorkStats(works, s.now())
	s.cache.Set(ctx, key, stats, s.statsTTL)
	return &stats, nil
}

// ComputeWorkStats aggregates a KOL's works as of now.
func ComputeWorkStats(works []models.Work, now time.Time) models.WorkStats {
	stats := models.WorkStats{TotalProjects: len(works)}
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	horizon := now.Add(upcomingDeadlineWindow)

	var engagement int64
	for _, w := range works {
		switch w.Status {
		case models.WorkStatusPending, models.WorkStatusActive, models.WorkStatusInReview, models.WorkStatusRevision:
			stats.ActiveProjects++
		case models.WorkStatusCompleted:
			stats.CompletedProjects++
			stats.PendingEarnings += w.Earnings
		case models.WorkStatusPaid:
			stats.CompletedProjects++
			stats.TotalEarnings += w.Earnings
			if w.PaidAt != nil && !w.PaidAt.Before(monthStart) {
				stats.ThisMonthEarnings += w.Earnings
			}
		}
		engagement += w.ActualEngagement
		if !w.CreatedAt.Before(monthStart) {
			stats.ThisMonthProjects++
		}
		switch w.Status {
		case models.WorkStatusActive, models.WorkStatusInReview, models.WorkStatusRevision:
			if !w.Deadline.Before(now) && !w.Deadline.After(horizon) {
				stats.UpcomingDeadlines++
			}
		}
	}
	if len(works) > 0 {
		n := int64(len(works))
		stats.AvgEngagement = (2*engagement + n) / (2 * n)
	}
	return stats
}

func (s *WorkService) load(ctx context.Context, workID string) (*models.Work, error) {
	work, err := s.works.GetByID(ctx, workID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "work not found")
		}
		return nil, appErrors.Internal(err, "failed to load work")
	}
	return work, nil
}

func (s *WorkService) emitReview(ctx context.Context, work *models.Work, dIdx, sIdx int, submission *models.Submission) {
	deliverable := work.Deliverables[dIdx]
	draft := models.NotificationDraft{
		RecipientID: work.KOLID,
		SenderID:    work.BrandID,
		Type:        models.NotificationSubmissionApproved,
		Message:     fmt.Sprintf("approved your submission for %q", deliverable.Type),
		Data: map[string]interface{}{
			"workId":           work.ID,
			"deliverableIndex": dIdx,
			"submissionIndex":  sIdx,
			"feedback":         derefString(submission.Feedback),
		},
	}
	if submission.Status == models.SubmissionStatusRejected {
		draft.Type = models.NotificationSubmissionRejected
		draft.Message = fmt.Sprintf("requested revisions for %q", deliverable.Type)
	}
	s.notifier.Emit(ctx, draft, work.ID, strconv.Itoa(dIdx), strconv.Itoa(sIdx))
}

func (s *WorkService) emitStatusChange(ctx context.Context, work *models.Work, actorID string, previous models.WorkStatus) {
	s.notifier.Emit(ctx, models.NotificationDraft{
		RecipientID: work.Counterparty(actorID),
		SenderID:    actorID,
		Type:        models.NotificationWorkStatusChanged,
		Message:     fmt.Sprintf("moved %q to %s", work.Title, work.Status),
		Data: map[string]interface{}{
			"workId":         work.ID,
			"status":         work.Status,
			"previousStatus": previous,
		},
	}, work.ID, string(work.Status), strconv.FormatInt(work.Version, 10))
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
