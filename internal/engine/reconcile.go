package engine

import (
	"fmt"

	"tracerline/internal/domain"
)

// Initialize fills a team status set. A nil prior yields the defaults; a
// populated one keeps its records and only adds the missing team slots.
func Initialize(prior *domain.TeamStatusSet) (domain.TeamStatusSet, error) {
	var out domain.TeamStatusSet
	existing := map[domain.Team]domain.TeamStatusRecord{}
	if prior != nil {
		out.ProductOrder = prior.ProductOrder
		out.UpdatedAt = prior.UpdatedAt
		for _, r := range prior.Records {
			if !r.Team.Valid() {
				return domain.TeamStatusSet{}, fmt.Errorf("%w: %q", domain.ErrUnknownTeam, r.Team)
			}
			if _, dup := existing[r.Team]; dup {
				continue
			}
			existing[r.Team] = r
		}
	}
	out.Records = make([]domain.TeamStatusRecord, 0, len(domain.Teams))
	for _, team := range domain.Teams {
		if r, ok := existing[team]; ok {
			out.Records = append(out.Records, r)
			continue
		}
		initial, _ := domain.InitialStatus(team)
		out.Records = append(out.Records, domain.TeamStatusRecord{Team: team, Status: initial})
	}
	return out, nil
}

// SetStatus replaces the status of one team. On error the input set is
// returned as-is. The entry is nil when the status did not change.
func SetStatus(set domain.TeamStatusSet, team domain.Team, status domain.Status) (domain.TeamStatusSet, *domain.ActivityLogEntry, error) {
	ok, err := domain.Allows(team, status)
	if err != nil {
		return set, nil, err
	}
	if !ok {
		return set, nil, InvalidStatusError{Team: team, Status: status}
	}
	idx := indexOf(set, team)
	if idx < 0 {
		return set, nil, fmt.Errorf("%w: %q missing from set", domain.ErrUnknownTeam, team)
	}
	prev := set.Records[idx]
	if prev.Status == status {
		return set, nil, nil
	}
	out := set.Clone()
	out.Records[idx].Status = status
	entry := &domain.ActivityLogEntry{
		ActivityType:   domain.ActivityStatusUpdated,
		Team:           team,
		TeamStatus:     status,
		PreviousStatus: prev.Status,
	}
	if RequiresFeedback(out.Records[idx]) {
		entry.Feedback = out.Records[idx].Feedback
	}
	return out, entry, nil
}

// SetFeedback replaces the feedback text of one team. Whether the team is
// currently Returned is not checked here.
func SetFeedback(set domain.TeamStatusSet, team domain.Team, feedback string) (domain.TeamStatusSet, *domain.ActivityLogEntry, error) {
	if !team.Valid() {
		return set, nil, fmt.Errorf("%w: %q", domain.ErrUnknownTeam, team)
	}
	idx := indexOf(set, team)
	if idx < 0 {
		return set, nil, fmt.Errorf("%w: %q missing from set", domain.ErrUnknownTeam, team)
	}
	if set.Records[idx].Feedback == feedback {
		return set, nil, nil
	}
	out := set.Clone()
	out.Records[idx].Feedback = feedback
	return out, &domain.ActivityLogEntry{
		ActivityType: domain.ActivityFeedbackUpdated,
		Team:         team,
		TeamStatus:   out.Records[idx].Status,
		Feedback:     feedback,
	}, nil
}

// Normalize forces a Delivery status outside the Delivery vocabulary back to
// Not Sent. Every other record is left alone.
func Normalize(set domain.TeamStatusSet) (domain.TeamStatusSet, []domain.ActivityLogEntry) {
	var (
		out     domain.TeamStatusSet
		cloned  bool
		entries []domain.ActivityLogEntry
	)
	out = set
	for i, r := range set.Records {
		if r.Team != domain.TeamDelivery {
			continue
		}
		if ok, _ := domain.Allows(r.Team, r.Status); ok {
			continue
		}
		if !cloned {
			out = set.Clone()
			cloned = true
		}
		out.Records[i].Status = domain.StatusNotSent
		entries = append(entries, domain.ActivityLogEntry{
			ActivityType:   domain.ActivityStatusNormalized,
			Team:           r.Team,
			TeamStatus:     domain.StatusNotSent,
			PreviousStatus: r.Status,
		})
	}
	return out, entries
}

// RequiresFeedback reports whether the record is in the Returned state.
func RequiresFeedback(r domain.TeamStatusRecord) bool {
	return r.Status == domain.StatusReturned
}

func indexOf(set domain.TeamStatusSet, team domain.Team) int {
	for i, r := range set.Records {
		if r.Team == team {
			return i
		}
	}
	return -1
}
