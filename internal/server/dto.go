package server

import (
	"tracerline/internal/domain"
	"tracerline/internal/engine"
)

// Request payloads

type SetStatusRequest struct {
	Status   string  `json:"status" example:"Returned"`
	Feedback *string `json:"feedback,omitempty" example:"coverage map is outdated"`
}

type SetFeedbackRequest struct {
	Feedback string `json:"feedback"`
}

type FileRequest struct {
	Name string `json:"name" minLength:"1"`
	URL  string `json:"url,omitempty"`
}

type SectionRequest struct {
	Position     int           `json:"position"`
	Name         string        `json:"name" minLength:"1"`
	Description  string        `json:"description,omitempty"`
	AssignedUser *string       `json:"assigned_user,omitempty"`
	Notes        *string       `json:"notes,omitempty"`
	Required     bool          `json:"required,omitempty"`
	Teams        []string      `json:"teams,omitempty"`
	Files        []FileRequest `json:"files,omitempty"`
}

type CreateStreamRequest struct {
	ID       string           `json:"id,omitempty"`
	Name     string           `json:"name" minLength:"1"`
	Sections []SectionRequest `json:"sections,omitempty"`
}

type UpdateSectionRequest struct {
	Name         *string   `json:"name,omitempty"`
	Description  *string   `json:"description,omitempty"`
	AssignedUser *string   `json:"assigned_user,omitempty" nullable:"true"`
	Notes        *string   `json:"notes,omitempty" nullable:"true"`
	Required     *bool     `json:"required,omitempty"`
	Teams        *[]string `json:"teams,omitempty" nullable:"true"`
}

// Response payloads

type TeamStatusResponse struct {
	Team             string   `json:"team"`
	Status           string   `json:"status"`
	Feedback         string   `json:"feedback,omitempty"`
	RequiresFeedback bool     `json:"requires_feedback"`
	Vocabulary       []string `json:"vocabulary"`
}

type TeamStatusSetResponse struct {
	ProductOrder string               `json:"product_order"`
	Records      []TeamStatusResponse `json:"records"`
	UpdatedAt    string               `json:"updated_at,omitempty"`
}

type ChangeResponse struct {
	TeamStatusSetResponse
	Activity []domain.ActivityLogEntry `json:"activity"`
}

type StreamChangeResponse struct {
	Stream   domain.TracerStream       `json:"stream"`
	Activity []domain.ActivityLogEntry `json:"activity"`
}

type VocabularyResponse struct {
	Team     string   `json:"team"`
	Statuses []string `json:"statuses"`
	Initial  string   `json:"initial"`
}

type paginatedActivity struct {
	Items      []domain.ActivityLogEntry `json:"items"`
	NextCursor string                    `json:"next_cursor,omitempty"`
}

func teamStatusSetResponse(set domain.TeamStatusSet) TeamStatusSetResponse {
	resp := TeamStatusSetResponse{ProductOrder: set.ProductOrder, UpdatedAt: set.UpdatedAt, Records: []TeamStatusResponse{}}
	for _, r := range set.Records {
		vocab, _ := domain.Vocabulary(r.Team)
		resp.Records = append(resp.Records, TeamStatusResponse{
			Team:             string(r.Team),
			Status:           string(r.Status),
			Feedback:         r.Feedback,
			RequiresFeedback: engine.RequiresFeedback(r),
			Vocabulary:       statusStrings(vocab),
		})
	}
	return resp
}

func changeResponse(c engine.Change) ChangeResponse {
	activity := c.Activity
	if activity == nil {
		activity = []domain.ActivityLogEntry{}
	}
	return ChangeResponse{TeamStatusSetResponse: teamStatusSetResponse(c.Set), Activity: activity}
}

func streamChangeResponse(c engine.StreamChange) StreamChangeResponse {
	activity := c.Activity
	if activity == nil {
		activity = []domain.ActivityLogEntry{}
	}
	return StreamChangeResponse{Stream: c.Stream, Activity: activity}
}

func vocabularies() []VocabularyResponse {
	var out []VocabularyResponse
	for _, t := range domain.Teams {
		vocab, _ := domain.Vocabulary(t)
		initial, _ := domain.InitialStatus(t)
		out = append(out, VocabularyResponse{Team: string(t), Statuses: statusStrings(vocab), Initial: string(initial)})
	}
	return out
}

func statusStrings(in []domain.Status) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}

func parseTeams(in []string) ([]domain.Team, error) {
	out := make([]domain.Team, 0, len(in))
	for _, name := range in {
		t, err := domain.ParseTeam(name)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func streamFromRequest(productOrder string, req CreateStreamRequest) (domain.TracerStream, error) {
	s := domain.TracerStream{ID: req.ID, ProductOrder: productOrder, Name: req.Name}
	for _, sr := range req.Sections {
		teams, err := parseTeams(sr.Teams)
		if err != nil {
			return s, err
		}
		sec := domain.Section{
			Position:     sr.Position,
			Name:         sr.Name,
			Description:  sr.Description,
			AssignedUser: sr.AssignedUser,
			Notes:        sr.Notes,
			Required:     sr.Required,
			Teams:        teams,
		}
		for _, f := range sr.Files {
			sec.Files = append(sec.Files, domain.FileRef{Name: f.Name, URL: f.URL})
		}
		s.Sections = append(s.Sections, sec)
	}
	return s, nil
}
