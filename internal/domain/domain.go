package domain

type TeamStatusRecord struct {
	Team     Team   `json:"team" yaml:"team"`
	Status   Status `json:"status" yaml:"status"`
	Feedback string `json:"feedback,omitempty" yaml:"feedback,omitempty"`
}

// TeamStatusSet holds exactly one record per team in canonical team order.
type TeamStatusSet struct {
	ProductOrder string             `json:"product_order"`
	Records      []TeamStatusRecord `json:"records"`
	UpdatedAt    string             `json:"updated_at,omitempty" format:"date-time"`
}

// Record returns the record for team and whether it is present.
func (s TeamStatusSet) Record(team Team) (TeamStatusRecord, bool) {
	for _, r := range s.Records {
		if r.Team == team {
			return r, true
		}
	}
	return TeamStatusRecord{}, false
}

// Clone returns a copy that shares no backing array with s.
func (s TeamStatusSet) Clone() TeamStatusSet {
	out := s
	out.Records = append([]TeamStatusRecord(nil), s.Records...)
	return out
}

type FileRef struct {
	ID         string `json:"id" yaml:"id,omitempty"`
	Name       string `json:"name" yaml:"name"`
	URL        string `json:"url,omitempty" yaml:"url,omitempty"`
	UploadedAt string `json:"uploaded_at,omitempty" yaml:"uploaded_at,omitempty" format:"date-time"`
}

type Section struct {
	Position     int       `json:"position" yaml:"position"`
	Name         string    `json:"name" yaml:"name"`
	Description  string    `json:"description,omitempty" yaml:"description,omitempty"`
	Files        []FileRef `json:"files" yaml:"files,omitempty"`
	AssignedUser *string   `json:"assigned_user,omitempty" yaml:"assigned_user,omitempty"`
	Notes        *string   `json:"notes,omitempty" yaml:"notes,omitempty"`
	Required     bool      `json:"required" yaml:"required"`
	Teams        []Team    `json:"teams" yaml:"teams,omitempty"`
}

// TracerStream is the root aggregate for a product order's document sections.
type TracerStream struct {
	ID           string    `json:"id" yaml:"id,omitempty"`
	ProductOrder string    `json:"product_order" yaml:"product_order"`
	Name         string    `json:"name" yaml:"name"`
	Sections     []Section `json:"sections" yaml:"sections"`
	CreatedAt    string    `json:"created_at,omitempty" yaml:"-" format:"date-time"`
}

// Section returns the section at position and whether it exists.
func (s TracerStream) Section(position int) (Section, bool) {
	for _, sec := range s.Sections {
		if sec.Position == position {
			return sec, true
		}
	}
	return Section{}, false
}

type TeamsProgressPercentage struct {
	Planning int `json:"planning" minimum:"0" maximum:"100"`
	SAC      int `json:"sac" minimum:"0" maximum:"100"`
	NT       int `json:"nt" minimum:"0" maximum:"100"`
}

type StreamProgress struct {
	StreamID       string                  `json:"stream_id"`
	Teams          TeamsProgressPercentage `json:"teams"`
	Overall        float64                 `json:"overall"`
	OverallRounded bool                    `json:"overall_rounded"`
}

// Activity types recorded in the audit log.
const (
	ActivityStatusUpdated    = "team.status.updated"
	ActivityFeedbackUpdated  = "team.feedback.updated"
	ActivityStatusNormalized = "team.status.normalized"
	ActivityFileAttached     = "section.file.attached"
	ActivityFileDetached     = "section.file.detached"
	ActivitySectionUpdated   = "section.updated"
	ActivityStreamCreated    = "stream.created"
)

type ActivityLogEntry struct {
	ID                 int64  `json:"id"`
	UserID             string `json:"user_id"`
	ActivityType       string `json:"activity_type"`
	ProductOrderNumber string `json:"product_order"`
	Timestamp          string `json:"timestamp" format:"date-time"`
	Team               Team   `json:"team,omitempty"`
	TeamStatus         Status `json:"team_status,omitempty"`
	PreviousStatus     Status `json:"previous_status,omitempty"`
	Feedback           string `json:"feedback,omitempty"`
	TraceabilityStream string `json:"traceability_stream,omitempty"`
	Section            *int   `json:"section,omitempty"`
}
