package models

import (
	"time"

	"github.com/google/uuid"
)

type JobState string

const (
	StateReceived     JobState = "received"
	StateValidated    JobState = "validated"
	StateDownloading  JobState = "downloading"
	StateTransforming JobState = "transforming"
	StateUploading    JobState = "uploading"
	StateNotified     JobState = "notified"
	StateCleaned      JobState = "cleaned"
	StateFailed       JobState = "failed"
)

func (s JobState) Terminal() bool {
	return s == StateCleaned || s == StateFailed
}

// PipelineJob is the mutable unit of work bound to one MediaRequest. Its temp paths
// and status handle belong to the job alone.
type PipelineJob struct {
	ID         string
	Request    MediaRequest
	State      JobState
	History    []JobState
	InputPath  string
	OutputPath string
	Status     *MessageHandle
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

func NewPipelineJob(req MediaRequest) *PipelineJob {
	return &PipelineJob{
		ID:        uuid.NewString(),
		Request:   req,
		State:     StateReceived,
		History:   []JobState{StateReceived},
		StartedAt: time.Now(),
	}
}

// Transition moves the job to s. Transitions out of a terminal state are ignored.
func (j *PipelineJob) Transition(s JobState) {
	if j.State.Terminal() {
		return
	}
	j.State = s
	j.History = append(j.History, s)
	if s.Terminal() {
		j.FinishedAt = time.Now()
	}
}

// Entered reports whether the job ever reached s.
func (j *PipelineJob) Entered(s JobState) bool {
	for _, h := range j.History {
		if h == s {
			return true
		}
	}
	return false
}

func (j *PipelineJob) Duration() time.Duration {
	if j.FinishedAt.IsZero() {
		return time.Since(j.StartedAt)
	}
	return j.FinishedAt.Sub(j.StartedAt)
}
