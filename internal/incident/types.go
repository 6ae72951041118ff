// Package incident defines the canonical data model shared by the intake,
// pipeline, and dispatch layers, together with the schema-normalization
// helpers that turn loose provider output into validated structures.
package incident

import "time"

// Channel identifies the intake channel a report arrived on.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelApp      Channel = "app"
	ChannelVoice    Channel = "voice"
	ChannelUnknown  Channel = "unknown"
)

// ParseChannel maps a raw channel tag onto a known channel, defaulting to unknown.
func ParseChannel(raw string) Channel {
	switch Channel(raw) {
	case ChannelSMS, ChannelWhatsApp, ChannelApp, ChannelVoice:
		return Channel(raw)
	default:
		return ChannelUnknown
	}
}

// Modality is the media type of one input item.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
	ModalityVideo Modality = "video"
)

// MediaItem is one uploaded artifact, bytes base64-encoded for transport.
type MediaItem struct {
	Modality Modality `json:"modality"`
	Filename string   `json:"filename"`
	MimeType string   `json:"mime_type"`
	BytesB64 string   `json:"bytes_b64"`
}

// ImageMeta is the derived metadata for one image media item.
type ImageMeta struct {
	Width    int               `json:"width"`
	Height   int               `json:"height"`
	Format   string            `json:"format"`
	EXIF     map[string]string `json:"exif"`
	MimeType string            `json:"mime_type"`
}

// TranscriptSegment is one time-bounded slice of a transcript.
type TranscriptSegment struct {
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
	Text         string  `json:"text"`
}

// Transcript is the derived text for one audio or video media item.
type Transcript struct {
	Text     string              `json:"text"`
	Language string              `json:"language,omitempty"`
	Segments []TranscriptSegment `json:"segments,omitempty"`
}

// NormalizedIncident is the canonical intake unit. It is populated in three
// phases (raw fields, media list, derived metadata) and is treated as
// immutable once all three are complete; stages after Preprocess only read it.
type NormalizedIncident struct {
	Channel          Channel     `json:"channel"`
	Text             string      `json:"text"`
	Media            []MediaItem `json:"media"`
	ImagesMeta       []ImageMeta `json:"images_meta"`
	Transcripts      []Transcript `json:"transcripts"`
	Lat              *float64    `json:"lat,omitempty"`
	Lon              *float64    `json:"lon,omitempty"`
	DetectedLanguage string      `json:"detected_language,omitempty"`
	Notes            []string    `json:"notes"`
}

// Incident lifecycle status as seen by operators.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusVerified  Status = "verified"
	StatusRejected  Status = "rejected"
)

// PipelineStatus tracks how far the evaluation pipeline has progressed for an
// incident. Each transition is persisted before the next stage starts so a
// crash leaves a durable, resumable record.
type PipelineStatus string

const (
	PipelineIntake       PipelineStatus = "intake"
	PipelinePreprocessed PipelineStatus = "preprocessed"
	PipelineAnalyzed     PipelineStatus = "analyzed"
	PipelineJudged       PipelineStatus = "judged"
)

// AllocationStatus tracks whether a response team has been assigned.
type AllocationStatus string

const (
	AllocationNone     AllocationStatus = "none"
	AllocationAssigned AllocationStatus = "assigned"
)

// Record is the durable per-incident row the pipeline reads and writes across
// its stages. Summary is a JSON blob progressively merged stage by stage.
type Record struct {
	IncidentID       int64            `json:"incident_id"`
	VictimUserName   string           `json:"victim_user_name"`
	Lat              *float64         `json:"lat,omitempty"`
	Lon              *float64         `json:"lon,omitempty"`
	Status           Status           `json:"status"`
	PipelineStatus   PipelineStatus   `json:"pipeline_status"`
	AllocationStatus AllocationStatus `json:"allocation_status"`
	Summary          []byte           `json:"incident_summary"`
	CreatedDate      time.Time        `json:"created_date"`
	UpdatedDate      time.Time        `json:"updated_date"`
}

// JobState is the dispatch job state machine. Assigned and failed are terminal.
type JobState string

const (
	JobQueued     JobState = "queued"
	JobAllocating JobState = "allocating"
	JobAssigned   JobState = "assigned"
	JobFailed     JobState = "failed"
)

// DispatchJob is the audit row for one attempt to assign a team to an incident.
type DispatchJob struct {
	ID         string     `json:"id"`
	IncidentID int64      `json:"incident_id"`
	State      JobState   `json:"state"`
	TeamID     *int64     `json:"team_id,omitempty"`
	Priority   int        `json:"priority"`
	LastError  string     `json:"last_error,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Team is a response team that can be dispatched to an incident.
type Team struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Capacity     int     `json:"capacity"`
	Load         int     `json:"load"`
	Available    bool    `json:"available"`
	ContactEmail string  `json:"contact_email,omitempty"`
	ContactPhone string  `json:"contact_phone,omitempty"`
}
