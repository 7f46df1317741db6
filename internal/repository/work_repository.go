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

// ErrStaleVersion signals a lost optimistic-concurrency race on a work.
var ErrStaleVersion = errors.New("work version changed")

const workColumns = `id, kol_id, brand_id, campaign_id, title, description, budget, earnings, deadline, notes,
	engagement_target, actual_engagement, progress, status, version, started_at, completed_at, paid_at,
	created_at, updated_at`

const deliverableColumns = `work_id, idx, type, title, required, submitted`

const submissionColumns = `work_id, deliverable_idx, idx, url, media_url, caption, status, feedback, submitted_at, reviewed_at`

// WorkRepository persists works with their deliverables and submissions.
type WorkRepository struct {
	db *sqlx.DB
}

// NewWorkRepository constructs the repository.
func NewWorkRepository(db *sqlx.DB) *WorkRepository {
	return &WorkRepository{db: db}
}

func (r *WorkRepository) conn(ctx context.Context) database.Conn {
	return database.ConnFor(ctx, r.db)
}

// Create inserts a work and its deliverables. Callers run it in a transaction.
func (r *WorkRepository) Create(ctx context.Context, work *models.Work) error {
	if work.ID == "" {
		work.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if work.CreatedAt.IsZero() {
		work.CreatedAt = now
	}
	work.UpdatedAt = work.CreatedAt
	if work.Version == 0 {
		work.Version = 1
	}

	const query = `INSERT INTO works (` + workColumns + `)
	VALUES (:id, :kol_id, :brand_id, :campaign_id, :title, :description, :budget, :earnings, :deadline, :notes,
	:engagement_target, :actual_engagement, :progress, :status, :version, :started_at, :completed_at, :paid_at,
	:created_at, :updated_at)`
	if _, err := r.conn(ctx).NamedExecContext(ctx, query, work); err != nil {
		return fmt.Errorf("create work: %w", err)
	}

	if len(work.Deliverables) == 0 {
		return nil
	}
	for i := range work.Deliverables {
		work.Deliverables[i].WorkID = work.ID
		work.Deliverables[i].Index = i
	}
	const deliverableQuery = `INSERT INTO work_deliverables (` + deliverableColumns + `)
	VALUES (:work_id, :idx, :type, :title, :required, :submitted)`
	if _, err := r.conn(ctx).NamedExecContext(ctx, deliverableQuery, work.Deliverables); err != nil {
		return fmt.Errorf("create work deliverables: %w", err)
	}
	return nil
}

// GetByID loads a work with its deliverables and submissions.
func (r *WorkRepository) GetByID(ctx context.Context, id string) (*models.Work, error) {
	var work models.Work
	if err := r.conn(ctx).GetContext(ctx, &work, `SELECT `+workColumns+` FROM works WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get work: %w", err)
	}
	works := []models.Work{work}
	if err := r.attachDeliverables(ctx, works, true); err != nil {
		return nil, err
	}
	return &works[0], nil
}

// FindByCampaignAndKOL returns the most recent work a KOL holds on a campaign.
func (r *WorkRepository) FindByCampaignAndKOL(ctx context.Context, campaignID, kolID string) (*models.Work, error) {
	const query = `SELECT ` + workColumns + ` FROM works WHERE campaign_id = $1 AND kol_id = $2
	ORDER BY created_at DESC LIMIT 1`
	var work models.Work
	if err := r.conn(ctx).GetContext(ctx, &work, query, campaignID, kolID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find work by campaign and kol: %w", err)
	}
	return &work, nil
}

// LockDeliverable locks a deliverable row so concurrent submissions serialize.
func (r *WorkRepository) LockDeliverable(ctx context.Context, workID string, idx int) (*models.Deliverable, error) {
	const query = `SELECT ` + deliverableColumns + ` FROM work_deliverables WHERE work_id = $1 AND idx = $2 FOR UPDATE`
	var deliverable models.Deliverable
	if err := r.conn(ctx).GetContext(ctx, &deliverable, query, workID, idx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock deliverable: %w", err)
	}
	return &deliverable, nil
}

// AppendSubmission adds a submission at the next index of its deliverable.
func (r *WorkRepository) AppendSubmission(ctx context.Context, submission *models.Submission) error {
	if submission.SubmittedAt.IsZero() {
		submission.SubmittedAt = time.Now().UTC()
	}
	if submission.Status == "" {
		submission.Status = models.SubmissionStatusPending
	}
	const query = `INSERT INTO work_submissions (` + submissionColumns + `)
	SELECT $1, $2, COALESCE(MAX(idx) + 1, 0), $3, $4, $5, $6, $7, $8, $9
	FROM work_submissions WHERE work_id = $1 AND deliverable_idx = $2
	RETURNING idx`
	err := r.conn(ctx).QueryRowxContext(ctx, query,
		submission.WorkID, submission.DeliverableIndex, submission.URL, submission.MediaURL, submission.Caption,
		submission.Status, submission.Feedback, submission.SubmittedAt, submission.ReviewedAt,
	).Scan(&submission.Index)
	if err != nil {
		return fmt.Errorf("append submission: %w", err)
	}
	return nil
}

// TouchWork bumps updated_at after a child row changed.
func (r *WorkRepository) TouchWork(ctx context.Context, workID string) error {
	if _, err := r.conn(ctx).ExecContext(ctx, `UPDATE works SET updated_at = $2 WHERE id = $1`, workID, time.Now().UTC()); err != nil {
		return fmt.Errorf("touch work: %w", err)
	}
	return nil
}

// ReviewUpdate carries everything written by a single review.
type ReviewUpdate struct {
	WorkID           string
	ExpectedVersion  int64
	WorkStatus       models.WorkStatus
	Progress         int
	CompletedAt      *time.Time
	DeliverableIndex int
	Submitted        int
	SubmissionIndex  int
	SubmissionStatus models.SubmissionStatus
	Feedback         *string
	ReviewedAt       time.Time
}

// SaveReview applies a review under a version compare-and-swap. It returns
// ErrStaleVersion when the work changed since it was read and
// sql.ErrNoRows when the submission is no longer pending.
func (r *WorkRepository) SaveReview(ctx context.Context, update ReviewUpdate) error {
	conn := r.conn(ctx)

	res, err := conn.ExecContext(ctx, `UPDATE works SET status = $3, progress = $4, completed_at = COALESCE($5, completed_at),
	version = version + 1, updated_at = $6 WHERE id = $1 AND version = $2`,
		update.WorkID, update.ExpectedVersion, update.WorkStatus, update.Progress, update.CompletedAt, update.ReviewedAt)
	if err != nil {
		return fmt.Errorf("update work progress: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update work rows affected: %w", err)
	} else if n == 0 {
		return ErrStaleVersion
	}

	res, err = conn.ExecContext(ctx, `UPDATE work_submissions SET status = $4, feedback = $5, reviewed_at = $6
	WHERE work_id = $1 AND deliverable_idx = $2 AND idx = $3 AND status = 'pending'`,
		update.WorkID, update.DeliverableIndex, update.SubmissionIndex, update.SubmissionStatus, update.Feedback, update.ReviewedAt)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update submission rows affected: %w", err)
	} else if n == 0 {
		return sql.ErrNoRows
	}

	if _, err := conn.ExecContext(ctx, `UPDATE work_deliverables SET submitted = $3 WHERE work_id = $1 AND idx = $2`,
		update.WorkID, update.DeliverableIndex, update.Submitted); err != nil {
		return fmt.Errorf("update deliverable: %w", err)
	}
	return nil
}

// StatusUpdate moves a work between statuses. Nil pointers keep the stored
// values; a non-nil Earnings replaces the booked earnings.
type StatusUpdate struct {
	WorkID    string
	From      models.WorkStatus
	To        models.WorkStatus
	StartedAt *time.Time
	PaidAt    *time.Time
	Earnings  *int64
	At        time.Time
}

// UpdateStatus transitions a work only if it is still in From. Returns
// ErrStaleVersion when another writer moved it first.
func (r *WorkRepository) UpdateStatus(ctx context.Context, update StatusUpdate) error {
	if update.At.IsZero() {
		update.At = time.Now().UTC()
	}
	res, err := r.conn(ctx).ExecContext(ctx, `UPDATE works SET status = $3, started_at = COALESCE($4, started_at),
	paid_at = COALESCE($5, paid_at), earnings = COALESCE($7, earnings), version = version + 1, updated_at = $6
	WHERE id = $1 AND status = $2`,
		update.WorkID, update.From, update.To, update.StartedAt, update.PaidAt, update.At, update.Earnings)
	if err != nil {
		return fmt.Errorf("update work status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update work status rows affected: %w", err)
	}
	if n == 0 {
		return ErrStaleVersion
	}
	return nil
}

// UpdateDetails edits the KOL-owned fields. Nil values keep the stored value.
func (r *WorkRepository) UpdateDetails(ctx context.Context, workID string, notes *string, actualEngagement *int64) error {
	res, err := r.conn(ctx).ExecContext(ctx, `UPDATE works SET notes = COALESCE($2, notes),
	actual_engagement = COALESCE($3, actual_engagement), version = version + 1, updated_at = $4 WHERE id = $1`,
		workID, notes, actualEngagement, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update work details: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update work details rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns works matching the filter newest first, with deliverables.
func (r *WorkRepository) List(ctx context.Context, filter models.WorkFilter) ([]models.Work, error) {
	var conditions []string
	var args []interface{}
	if filter.KOLID != "" {
		args = append(args, filter.KOLID)
		conditions = append(conditions, fmt.Sprintf("kol_id = $%d", len(args)))
	}
	if filter.BrandID != "" {
		args = append(args, filter.BrandID)
		conditions = append(conditions, fmt.Sprintf("brand_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	query := `SELECT ` + workColumns + ` FROM works`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	var works []models.Work
	if err := r.conn(ctx).SelectContext(ctx, &works, query, args...); err != nil {
		return nil, fmt.Errorf("list works: %w", err)
	}
	if err := r.attachDeliverables(ctx, works, false); err != nil {
		return nil, err
	}
	return works, nil
}

// ListSubmissions returns a work's submissions, optionally for one deliverable.
func (r *WorkRepository) ListSubmissions(ctx context.Context, workID string, deliverableIdx *int) ([]models.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM work_submissions WHERE work_id = $1`
	args := []interface{}{workID}
	if deliverableIdx != nil {
		query += ` AND deliverable_idx = $2`
		args = append(args, *deliverableIdx)
	}
	query += ` ORDER BY deliverable_idx, idx`

	var submissions []models.Submission
	if err := r.conn(ctx).SelectContext(ctx, &submissions, query, args...); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return submissions, nil
}

func (r *WorkRepository) attachDeliverables(ctx context.Context, works []models.Work, withSubmissions bool) error {
	if len(works) == 0 {
		return nil
	}
	ids := make([]string, len(works))
	byID := make(map[string]int, len(works))
	for i := range works {
		ids[i] = works[i].ID
		byID[works[i].ID] = i
		works[i].Deliverables = []models.Deliverable{}
	}

	var deliverables []models.Deliverable
	if err := r.conn(ctx).SelectContext(ctx, &deliverables,
		`SELECT `+deliverableColumns+` FROM work_deliverables WHERE work_id = ANY($1) ORDER BY work_id, idx`, pq.Array(ids)); err != nil {
		return fmt.Errorf("list deliverables: %w", err)
	}
	for _, d := range deliverables {
		d.Submissions = []models.Submission{}
		i := byID[d.WorkID]
		works[i].Deliverables = append(works[i].Deliverables, d)
	}
	if !withSubmissions {
		return nil
	}

	var submissions []models.Submission
	if err := r.conn(ctx).SelectContext(ctx, &submissions,
		`SELECT `+submissionColumns+` FROM work_submissions WHERE work_id = ANY($1) ORDER BY work_id, deliverable_idx, idx`, pq.Array(ids)); err != nil {
		return fmt.Errorf("list submissions: %w", err)
	}
	for _, s := range submissions {
		w := &works[byID[s.WorkID]]
		for j := range w.Deliverables {
			if w.Deliverables[j].Index == s.DeliverableIndex {
				w.Deliverables[j].Submissions = append(w.Deliverables[j].Submissions, s)
				break
			}
		}
	}
	return nil
}
