package internal

import "time"

// JobState is the externally visible lifecycle state of a download.
type JobState string

const (
	StateQueued      JobState = "queued"
	StateDownloading JobState = "downloading"
	StatePaused      JobState = "paused"
	StateCompleted   JobState = "completed"
	StateError       JobState = "error"
	StateCanceled    JobState = "canceled"
)

// Terminal reports whether no further transitions can happen from s.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateError || s == StateCanceled
}

// EventKind classifies the notifications a worker emits for its job.
type EventKind string

const (
	EventStarted        EventKind = "started"
	EventProgress       EventKind = "progress"
	EventWarning        EventKind = "warning"
	EventPostProcessing EventKind = "postprocessing"
	EventCompleted      EventKind = "completed"
	EventFailed         EventKind = "failed"
	EventCanceled       EventKind = "canceled"
)

// EventPayload carries the data attached to an Event. Fields are only
// meaningful for the kinds that set them.
type EventPayload struct {
	Percent  float64  `json:"percent,omitempty"`
	Speed    string   `json:"speed,omitempty"`
	ETA      string   `json:"eta,omitempty"`
	Filename string   `json:"filename,omitempty"`
	Message  string   `json:"message,omitempty"`
	LogTail  []string `json:"log_tail,omitempty"`
}

// Event is an immutable progress/status record for one job.
type Event struct {
	JobID     string       `json:"job_id"`
	Kind      EventKind    `json:"kind"`
	Payload   EventPayload `json:"payload"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewEvent stamps an event with the current time.
func NewEvent(jobID string, kind EventKind, payload EventPayload) Event {
	return Event{
		JobID:     jobID,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Options describes a single download request. It is immutable once
// the job has been submitted.
type Options struct {
	Format         string   `json:"format,omitempty"`
	AudioOnly      bool     `json:"audio_only,omitempty"`
	AudioFormat    string   `json:"audio_format,omitempty"`
	AudioQuality   string   `json:"audio_quality,omitempty"`
	OutputPath     string   `json:"output_path,omitempty"`
	OutputTemplate string   `json:"output_template,omitempty"`
	RateLimit      string   `json:"rate_limit,omitempty"`
	Retries        int      `json:"retries,omitempty"`
	Proxy          string   `json:"proxy,omitempty"`
	WriteSubs      bool     `json:"write_subs,omitempty"`
	SubsLang       string   `json:"subs_lang,omitempty"`
	EmbedSubs      bool     `json:"embed_subs,omitempty"`
	EmbedThumbnail bool     `json:"embed_thumbnail,omitempty"`
	AddMetadata    bool     `json:"add_metadata,omitempty"`
	ExtraArgs      []string `json:"extra_args,omitempty"`
}

// Progress is the live transfer state of a downloading job.
type Progress struct {
	Percent  float64 `json:"percent"`
	Speed    string  `json:"speed,omitempty"`
	ETA      string  `json:"eta,omitempty"`
	Filename string  `json:"filename,omitempty"`
}

// JobSnapshot is a read-only copy of a job handed to observers.
type JobSnapshot struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Options    Options   `json:"options"`
	State      JobState  `json:"state"`
	Progress   Progress  `json:"progress"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// DownloadRequest is the submission payload accepted from the
// collaborator surface.
type DownloadRequest struct {
	URL     string  `json:"url"`
	Options Options `json:"options"`
}
