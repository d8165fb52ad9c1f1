package domain

import (
	"errors"
	"fmt"
	"strings"
)

type Team string

const (
	TeamPlanning Team = "Planning"
	TeamSAC      Team = "SAC"
	TeamNT       Team = "NT"
	TeamDelivery Team = "Delivery"
)

// Teams lists every team in canonical order.
var Teams = []Team{TeamPlanning, TeamSAC, TeamNT, TeamDelivery}

type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
	StatusReturned   Status = "Returned"
	StatusAccomplish Status = "Accomplish"
	StatusPendingPOP Status = "Pending POP"
	StatusSent       Status = "Sent"
	StatusNotSent    Status = "Not Sent"
)

var ErrUnknownTeam = errors.New("unknown team")

var (
	genericVocabulary  = []Status{StatusPending, StatusInProgress, StatusCompleted, StatusReturned}
	planningVocabulary = []Status{StatusPending, StatusInProgress, StatusCompleted, StatusReturned, StatusAccomplish, StatusPendingPOP}
	deliveryVocabulary = []Status{StatusSent, StatusNotSent}
)

// ParseTeam resolves a team name case-insensitively.
func ParseTeam(name string) (Team, error) {
	name = strings.TrimSpace(name)
	for _, t := range Teams {
		if strings.EqualFold(string(t), name) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTeam, name)
}

// Valid reports whether t is one of the four known teams.
func (t Team) Valid() bool {
	for _, known := range Teams {
		if t == known {
			return true
		}
	}
	return false
}

// Vocabulary returns the legal statuses for team. The slice is a copy.
func Vocabulary(team Team) ([]Status, error) {
	var v []Status
	switch team {
	case TeamPlanning:
		v = planningVocabulary
	case TeamSAC, TeamNT:
		v = genericVocabulary
	case TeamDelivery:
		v = deliveryVocabulary
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTeam, team)
	}
	return append([]Status(nil), v...), nil
}

// InitialStatus returns the status a team starts in.
func InitialStatus(team Team) (Status, error) {
	switch team {
	case TeamPlanning, TeamSAC, TeamNT:
		return StatusPending, nil
	case TeamDelivery:
		return StatusNotSent, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTeam, team)
}

// Allows reports whether status belongs to team's vocabulary.
func Allows(team Team, status Status) (bool, error) {
	v, err := Vocabulary(team)
	if err != nil {
		return false, err
	}
	for _, s := range v {
		if s == status {
			return true, nil
		}
	}
	return false, nil
}
