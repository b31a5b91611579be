package neural

import "github.com/google/uuid"

// Step is one backend synthesis call.
type Step struct {
	Index   int
	Segment Segment
	Voice   Voice
	Speed   float64
}

// Job is the ordered set of steps for one utterance.
type Job struct {
	ID    string
	Steps []*Step
}

func NewJob(segments []Segment, voice Voice, speed float64) *Job {
	job := &Job{ID: uuid.NewString(), Steps: make([]*Step, 0, len(segments))}
	for i, seg := range segments {
		seg.Index = i
		job.Steps = append(job.Steps, &Step{Index: i, Segment: seg, Voice: voice, Speed: speed})
	}
	return job
}

// StepResult is the outcome of one step. Samples are mono at the backend rate.
type StepResult struct {
	Index   int
	Samples []float32
	Err     error
}
