package engine_test

import (
	"errors"
	"testing"

	"tracerline/internal/domain"
	"tracerline/internal/engine"
)

func section(pos int, required bool, files int, teams ...domain.Team) domain.Section {
	s := domain.Section{Position: pos, Name: "section", Required: required, Teams: teams}
	for i := 0; i < files; i++ {
		s.Files = append(s.Files, domain.FileRef{ID: "f", Name: "doc.pdf"})
	}
	return s
}

func TestIsSatisfiedAndBelongsToTeam(t *testing.T) {
	s := section(1, false, 1, domain.TeamSAC)
	if !engine.IsSatisfied(s) {
		t.Fatalf("section with a file should be satisfied")
	}
	if engine.IsSatisfied(section(2, true, 0)) {
		t.Fatalf("section without files should not be satisfied")
	}
	if !engine.BelongsToTeam(s, domain.TeamSAC) || engine.BelongsToTeam(s, domain.TeamNT) {
		t.Fatalf("unexpected team membership")
	}
}

func TestTeamPercentageCountsRequiredOnly(t *testing.T) {
	stream := domain.TracerStream{ID: "s1", Sections: []domain.Section{
		section(1, true, 1, domain.TeamPlanning),
		section(2, true, 0, domain.TeamPlanning),
		section(5, false, 1, domain.TeamPlanning),
		section(9, false, 0, domain.TeamPlanning),
	}}
	got, err := engine.TeamPercentage(stream, domain.TeamPlanning)
	if err != nil {
		t.Fatal(err)
	}
	if got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
}

func TestTeamPercentageZeroDenominator(t *testing.T) {
	stream := domain.TracerStream{Sections: []domain.Section{section(1, true, 1, domain.TeamPlanning)}}
	got, err := engine.TeamPercentage(stream, domain.TeamSAC)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestTeamPercentageRoundsHalfUp(t *testing.T) {
	cases := []struct {
		required, satisfied, want int
	}{
		{3, 1, 33},
		{3, 2, 67},
		{8, 1, 13},
		{8, 3, 38},
		{200, 1, 1},
		{4, 4, 100},
	}
	for _, tc := range cases {
		var sections []domain.Section
		for i := 0; i < tc.required; i++ {
			files := 0
			if i < tc.satisfied {
				files = 1
			}
			sections = append(sections, section(i, true, files, domain.TeamNT))
		}
		got, _ := engine.TeamPercentage(domain.TracerStream{Sections: sections}, domain.TeamNT)
		if got != tc.want {
			t.Fatalf("%d/%d: got %d want %d", tc.satisfied, tc.required, got, tc.want)
		}
	}
}

func TestTeamPercentageUnknownTeam(t *testing.T) {
	if _, err := engine.TeamPercentage(domain.TracerStream{}, "QA"); !errors.Is(err, domain.ErrUnknownTeam) {
		t.Fatalf("expected ErrUnknownTeam, got %v", err)
	}
}

func TestTeamsProgress(t *testing.T) {
	stream := domain.TracerStream{Sections: []domain.Section{
		section(1, true, 1, domain.TeamPlanning, domain.TeamSAC),
		section(2, true, 0, domain.TeamSAC),
		section(3, true, 1, domain.TeamDelivery),
	}}
	got := engine.TeamsProgress(stream)
	want := domain.TeamsProgressPercentage{Planning: 100, SAC: 50, NT: 0}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestOverallPercentageIgnoresRequired(t *testing.T) {
	stream := domain.TracerStream{Sections: []domain.Section{
		section(1, false, 1),
		section(2, true, 0),
		section(3, true, 1, domain.TeamSAC),
	}}
	got, err := engine.OverallPercentage(stream, false)
	if err != nil {
		t.Fatal(err)
	}
	if got < 66.66 || got > 66.67 {
		t.Fatalf("expected ~66.67, got %f", got)
	}
	rounded, _ := engine.OverallPercentage(stream, true)
	if rounded != 67 {
		t.Fatalf("expected 67, got %f", rounded)
	}
}

func TestOverallPercentageEmptyStream(t *testing.T) {
	if _, err := engine.OverallPercentage(domain.TracerStream{}, false); !errors.Is(err, engine.ErrEmptyStream) {
		t.Fatalf("expected ErrEmptyStream, got %v", err)
	}
	if _, err := engine.StreamProgress(domain.TracerStream{}, true); !errors.Is(err, engine.ErrEmptyStream) {
		t.Fatalf("expected ErrEmptyStream, got %v", err)
	}
}

func TestProgressIsDeterministic(t *testing.T) {
	stream := domain.TracerStream{ID: "s", Sections: []domain.Section{
		section(1, true, 1, domain.TeamPlanning),
		section(2, true, 0, domain.TeamNT),
	}}
	a, _ := engine.StreamProgress(stream, false)
	b, _ := engine.StreamProgress(stream, false)
	if a != b {
		t.Fatalf("progress differs between calls: %+v %+v", a, b)
	}
}
