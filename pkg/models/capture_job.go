package models

import "time"

// JobStatus is the lifecycle status of a CaptureJob queue entry.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobDeleted    JobStatus = "deleted"
	JobFailed     JobStatus = "failed"
)

// CaptureJob is one queue entry driving a Link through the Capture
// Orchestrator. A job in JobInProgress older than the hard task timeout is
// reclaimable and must be marked failed before any new job is reserved.
type CaptureJob struct {
	LinkGUID         string
	Status           JobStatus
	Attempt          int
	CaptureStartTime time.Time
	StepCount        int
	StepDescription  string
}

// Reserve marks the job in_progress, bumps the attempt counter, and stamps
// the start time — mirroring the original's "capture_job.attempt += 1" on
// every run, not just the first.
func (j *CaptureJob) Reserve(now time.Time) {
	j.Status = JobInProgress
	j.Attempt++
	j.CaptureStartTime = now
}

// Step advances the progress-reporting fields surfaced to operators.
func (j *CaptureJob) Step(count int, description string) {
	j.StepCount = count
	j.StepDescription = description
}

// IsStale reports whether an in-progress job has exceeded the hard job
// timeout and should be reclaimed.
func (j *CaptureJob) IsStale(now time.Time, hardTimeout time.Duration) bool {
	return j.Status == JobInProgress && now.Sub(j.CaptureStartTime) > hardTimeout
}
