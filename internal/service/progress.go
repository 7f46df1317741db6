package service

import "github.com/noah-isme/kollect-api/internal/models"

// SubmittedCount is the number of approved submissions, capped at required.
func SubmittedCount(d models.Deliverable) int {
	approved := 0
	for _, s := range d.Submissions {
		if s.Status == models.SubmissionStatusApproved {
			approved++
		}
	}
	if approved > d.Required {
		return d.Required
	}
	return approved
}

// ProgressPercent is round-half-up of 100 * submitted / required across all
// deliverables, or 0 when nothing is required.
func ProgressPercent(deliverables []models.Deliverable) int {
	submitted, required := 0, 0
	for _, d := range deliverables {
		submitted += d.Submitted
		required += d.Required
	}
	if required <= 0 {
		return 0
	}
	return (200*submitted + required) / (2 * required)
}

// AllComplete reports whether every deliverable has reached its target.
// It holds for an empty list.
func AllComplete(deliverables []models.Deliverable) bool {
	for _, d := range deliverables {
		if d.Submitted < d.Required {
			return false
		}
	}
	return true
}

// RecomputeProgress refreshes each deliverable's submitted count and the
// work's progress from the submissions held in memory.
func RecomputeProgress(work *models.Work) {
	for i := range work.Deliverables {
		work.Deliverables[i].Submitted = SubmittedCount(work.Deliverables[i])
	}
	work.Progress = ProgressPercent(work.Deliverables)
}
