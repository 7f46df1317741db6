package service

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kollect-api/internal/dto"
	"github.com/noah-isme/kollect-api/internal/models"
	"github.com/noah-isme/kollect-api/internal/repository"
)

// memState is an in-memory stand-in for the pipeline tables. memTx restores
// the previous snapshot when a unit of work fails.
type memState struct {
	mu        sync.Mutex
	campaigns map[string]*models.Campaign
	works     map[string]*models.Work
	users     map[string]*models.User
	outbox    []models.OutboxEntry

	enqueueErr   error
	staleReviews int
	reviewCalls  int
	lastFilter   models.CampaignFilter
}

func newMemState() *memState {
	company := "Acme Beauty"
	users := []*models.User{
		{ID: "brand-1", Username: "acme", FullName: "Acme Owner", CompanyName: &company, Role: models.RoleBrand, Active: true},
		{ID: "brand-2", Username: "globex", FullName: "Globex", Role: models.RoleBrand, Active: true},
		{ID: "kol-1", Username: "kolone", FullName: "Kol One", Role: models.RoleKOL, Active: true},
		{ID: "kol-2", Username: "koltwo", FullName: "Kol Two", Role: models.RoleKOL, Active: true},
		{ID: "user-1", Username: "plain", FullName: "Plain User", Role: models.RoleUser, Active: true},
	}
	state := &memState{
		campaigns: map[string]*models.Campaign{},
		works:     map[string]*models.Work{},
		users:     map[string]*models.User{},
	}
	for _, u := range users {
		state.users[u.ID] = u
	}
	return state
}

type memSnapshot struct {
	campaigns map[string]*models.Campaign
	works     map[string]*models.Work
	outbox    []models.OutboxEntry
}

func (s *memState) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		campaigns: make(map[string]*models.Campaign, len(s.campaigns)),
		works:     make(map[string]*models.Work, len(s.works)),
		outbox:    append([]models.OutboxEntry(nil), s.outbox...),
	}
	for id, c := range s.campaigns {
		snap.campaigns[id] = cloneCampaign(c)
	}
	for id, w := range s.works {
		snap.works[id] = cloneWork(w)
	}
	return snap
}

func (s *memState) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns, s.works, s.outbox = snap.campaigns, snap.works, snap.outbox
}

func (s *memState) entries(t models.NotificationType) []models.OutboxEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.OutboxEntry
	for _, e := range s.outbox {
		if e.Payload.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (s *memState) work(t *testing.T, id string) *models.Work {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.works[id]
	require.True(t, ok, "work %s missing", id)
	return cloneWork(w)
}

func (s *memState) campaign(t *testing.T, id string) *models.Campaign {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	require.True(t, ok, "campaign %s missing", id)
	return cloneCampaign(c)
}

func (s *memState) workCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.works)
}

func cloneCampaign(c *models.Campaign) *models.Campaign {
	cp := *c
	cp.SelectedKOLs = append([]string{}, c.SelectedKOLs...)
	cp.Requirements = append(models.Requirements{}, c.Requirements...)
	return &cp
}

func cloneWork(w *models.Work) *models.Work {
	cp := *w
	cp.Deliverables = make([]models.Deliverable, len(w.Deliverables))
	for i, d := range w.Deliverables {
		d.Submissions = append([]models.Submission{}, d.Submissions...)
		cp.Deliverables[i] = d
	}
	return &cp
}

type memTx struct{ *memState }

func (m memTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := m.snapshot()
	if err := fn(ctx); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memCampaigns struct{ *memState }

func (m memCampaigns) Create(ctx context.Context, campaign *models.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if campaign.ID == "" {
		campaign.ID = uuid.NewString()
	}
	m.campaigns[campaign.ID] = cloneCampaign(campaign)
	return nil
}

func (m memCampaigns) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cloneCampaign(c), nil
}

func (m memCampaigns) GetForUpdate(ctx context.Context, id string) (*models.Campaign, error) {
	return m.GetByID(ctx, id)
}

func (m memCampaigns) UpdateState(ctx context.Context, campaign *models.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.campaigns[campaign.ID]
	if !ok {
		return sql.ErrNoRows
	}
	stored.Status = campaign.Status
	stored.SelectedKOLs = append([]string{}, campaign.SelectedKOLs...)
	stored.IsDirectHire = campaign.IsDirectHire
	return nil
}

func (m memCampaigns) List(ctx context.Context, filter models.CampaignFilter) ([]models.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter
	var out []models.Campaign
	for _, c := range m.campaigns {
		if filter.BrandID != "" && c.BrandID != filter.BrandID {
			continue
		}
		if filter.SelectedKOL != "" && !c.HasKOL(filter.SelectedKOL) {
			continue
		}
		if filter.OpenOnly && c.Status != models.CampaignStatusOpen {
			continue
		}
		if filter.AppliesAfter != nil && c.ApplicationDeadline.Before(*filter.AppliesAfter) {
			continue
		}
		out = append(out, *cloneCampaign(c))
	}
	return out, len(out), nil
}

type memWorks struct{ *memState }

func (m memWorks) Create(ctx context.Context, work *models.Work) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if work.ID == "" {
		work.ID = uuid.NewString()
	}
	if work.Version == 0 {
		work.Version = 1
	}
	for i := range work.Deliverables {
		work.Deliverables[i].WorkID = work.ID
		work.Deliverables[i].Index = i
	}
	m.works[work.ID] = cloneWork(work)
	return nil
}

func (m memWorks) GetByID(ctx context.Context, id string) (*models.Work, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.works[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cloneWork(w), nil
}

func (m memWorks) FindByCampaignAndKOL(ctx context.Context, campaignID, kolID string) (*models.Work, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *models.Work
	for _, w := range m.works {
		if w.CampaignID == campaignID && w.KOLID == kolID {
			if found == nil || w.CreatedAt.After(found.CreatedAt) {
				found = w
			}
		}
	}
	if found == nil {
		return nil, sql.ErrNoRows
	}
	return cloneWork(found), nil
}

func (m memWorks) UpdateStatus(ctx context.Context, update repository.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.works[update.WorkID]
	if !ok || w.Status != update.From {
		return repository.ErrStaleVersion
	}
	w.Status = update.To
	if update.StartedAt != nil {
		w.StartedAt = update.StartedAt
	}
	if update.PaidAt != nil {
		w.PaidAt = update.PaidAt
	}
	if update.Earnings != nil {
		w.Earnings = *update.Earnings
	}
	w.Version++
	return nil
}

func (m memWorks) LockDeliverable(ctx context.Context, workID string, idx int) (*models.Deliverable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.works[workID]
	if !ok || idx < 0 || idx >= len(w.Deliverables) {
		return nil, sql.ErrNoRows
	}
	d := w.Deliverables[idx]
	return &d, nil
}

func (m memWorks) AppendSubmission(ctx context.Context, submission *models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.works[submission.WorkID]
	d := &w.Deliverables[submission.DeliverableIndex]
	submission.Index = len(d.Submissions)
	d.Submissions = append(d.Submissions, *submission)
	return nil
}

func (m memWorks) TouchWork(ctx context.Context, workID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.works[workID].UpdatedAt = time.Now().UTC()
	return nil
}

func (m memWorks) SaveReview(ctx context.Context, update repository.ReviewUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviewCalls++
	w := m.works[update.WorkID]
	if m.staleReviews > 0 {
		// Simulates a concurrent writer bumping the version first.
		m.staleReviews--
		w.Version++
		return repository.ErrStaleVersion
	}
	if w.Version != update.ExpectedVersion {
		return repository.ErrStaleVersion
	}
	sub := &w.Deliverables[update.DeliverableIndex].Submissions[update.SubmissionIndex]
	if sub.Status != models.SubmissionStatusPending {
		return sql.ErrNoRows
	}
	w.Status = update.WorkStatus
	w.Progress = update.Progress
	if update.CompletedAt != nil {
		w.CompletedAt = update.CompletedAt
	}
	w.Version++
	sub.Status = update.SubmissionStatus
	sub.Feedback = update.Feedback
	reviewed := update.ReviewedAt
	sub.ReviewedAt = &reviewed
	w.Deliverables[update.DeliverableIndex].Submitted = update.Submitted
	return nil
}

func (m memWorks) UpdateDetails(ctx context.Context, workID string, notes *string, actualEngagement *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.works[workID]
	if !ok {
		return sql.ErrNoRows
	}
	if notes != nil {
		w.Notes = *notes
	}
	if actualEngagement != nil {
		w.ActualEngagement = *actualEngagement
	}
	w.Version++
	return nil
}

func (m memWorks) List(ctx context.Context, filter models.WorkFilter) ([]models.Work, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Work
	for _, w := range m.works {
		if filter.KOLID != "" && w.KOLID != filter.KOLID {
			continue
		}
		if filter.BrandID != "" && w.BrandID != filter.BrandID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, w.Status) {
			continue
		}
		out = append(out, *cloneWork(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m memWorks) ListSubmissions(ctx context.Context, workID string, deliverableIdx *int) ([]models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.works[workID]
	if !ok {
		return nil, nil
	}
	var out []models.Submission
	for i, d := range w.Deliverables {
		if deliverableIdx != nil && *deliverableIdx != i {
			continue
		}
		out = append(out, d.Submissions...)
	}
	return out, nil
}

func containsStatus(list []models.WorkStatus, s models.WorkStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type memUsers struct{ *memState }

func (m memUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m memUsers) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, username) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m memUsers) FindByIDs(ctx context.Context, ids []string) (map[string]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]models.User{}
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out[id] = *u
		}
	}
	return out, nil
}

type memOutbox struct{ *memState }

func (m memOutbox) Enqueue(ctx context.Context, entry *models.OutboxEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	for _, e := range m.outbox {
		if e.DedupeKey == entry.DedupeKey {
			return nil
		}
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Status = models.OutboxStatusPending
	m.outbox = append(m.outbox, *entry)
	return nil
}

type pipelineFixture struct {
	state     *memState
	notifier  *NotificationService
	campaigns *CampaignService
	works     *WorkService
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	state := newMemState()
	notifier := NewNotificationService(memOutbox{state}, nil, memUsers{state}, nil, nil)
	tx := memTx{state}
	return &pipelineFixture{
		state:     state,
		notifier:  notifier,
		campaigns: NewCampaignService(memCampaigns{state}, memWorks{state}, memUsers{state}, tx, notifier, nil, nil, CampaignServiceConfig{}, nil),
		works:     NewWorkService(memWorks{state}, tx, notifier, nil, nil, time.Minute, nil),
	}
}

// acceptedWork runs the hire handshake and returns the active work id.
func (f *pipelineFixture) acceptedWork(t *testing.T, requirements ...dto.RequirementInput) string {
	t.Helper()
	ctx := context.Background()
	created, err := f.campaigns.Create(ctx, "brand-1", dto.CreateCampaignRequest{
		Title:        "Glow Serum Launch",
		Description:  "Show the serum in your morning routine",
		BudgetRange:  "Rp 1.000.000 - 3.000.000",
		Requirements: requirements,
		TargetKOLID:  "kol-1",
	}, dto.CampaignPathHire)
	require.NoError(t, err)
	resp, err := f.campaigns.Respond(ctx, created.Campaign.ID, "kol-1", dto.RespondCampaignRequest{Action: "accept"})
	require.NoError(t, err)
	require.NotNil(t, resp.Work)
	return resp.Work.ID
}

func intPtr(v int) *int { return &v }
