package engine

import (
	"fmt"
	"math"
	"slices"

	"tracerline/internal/domain"
)

// IsSatisfied reports whether a section has at least one file attached.
func IsSatisfied(s domain.Section) bool {
	return len(s.Files) > 0
}

func BelongsToTeam(s domain.Section, team domain.Team) bool {
	return slices.Contains(s.Teams, team)
}

// TeamPercentage is the rounded share of the team's required sections that are
// satisfied. A team with no required sections is at 0.
func TeamPercentage(stream domain.TracerStream, team domain.Team) (int, error) {
	if !team.Valid() {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownTeam, team)
	}
	var required, satisfied int
	for _, s := range stream.Sections {
		if !BelongsToTeam(s, team) || !s.Required {
			continue
		}
		required++
		if IsSatisfied(s) {
			satisfied++
		}
	}
	if required == 0 {
		return 0, nil
	}
	// round half up: floor(100*n/d + 1/2)
	return (200*satisfied + required) / (2 * required), nil
}

// TeamsProgress computes Planning, SAC and NT percentages.
func TeamsProgress(stream domain.TracerStream) domain.TeamsProgressPercentage {
	planning, _ := TeamPercentage(stream, domain.TeamPlanning)
	sac, _ := TeamPercentage(stream, domain.TeamSAC)
	nt, _ := TeamPercentage(stream, domain.TeamNT)
	return domain.TeamsProgressPercentage{Planning: planning, SAC: sac, NT: nt}
}

// OverallPercentage is the share of all sections that are satisfied, with no
// filter on Required.
func OverallPercentage(stream domain.TracerStream, round bool) (float64, error) {
	if len(stream.Sections) == 0 {
		return 0, ErrEmptyStream
	}
	satisfied := 0
	for _, s := range stream.Sections {
		if IsSatisfied(s) {
			satisfied++
		}
	}
	pct := 100 * float64(satisfied) / float64(len(stream.Sections))
	if round {
		pct = math.Floor(pct + 0.5)
	}
	return pct, nil
}

// StreamProgress bundles the per-team and overall figures for stream.
func StreamProgress(stream domain.TracerStream, round bool) (domain.StreamProgress, error) {
	overall, err := OverallPercentage(stream, round)
	if err != nil {
		return domain.StreamProgress{}, err
	}
	return domain.StreamProgress{
		StreamID:       stream.ID,
		Teams:          TeamsProgress(stream),
		Overall:        overall,
		OverallRounded: round,
	}, nil
}
