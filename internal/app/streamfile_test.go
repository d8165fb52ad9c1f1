package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tracerline/internal/domain"
)

const sampleStream = `product_order: PO-1001
name: Main
sections:
  - position: 10
    name: Site survey
    required: true
    teams: [planning, SAC]
    files:
      - name: survey.pdf
        url: s3://bucket/survey.pdf
  - position: 20
    name: Photos
    teams: [NT]
`

func TestLoadStreamFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.yml")
	if err := os.WriteFile(path, []byte(sampleStream), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadStreamFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.ProductOrder != "PO-1001" || len(s.Sections) != 2 {
		t.Fatalf("unexpected stream %+v", s)
	}
	first := s.Sections[0]
	if !first.Required || first.Teams[0] != domain.TeamPlanning || first.Files[0].URL != "s3://bucket/survey.pdf" {
		t.Fatalf("unexpected first section %+v", first)
	}
	if s.Sections[1].Required {
		t.Fatalf("required should default to false")
	}
}

func TestParseStreamRejectsUnknownTeam(t *testing.T) {
	_, err := ParseStream([]byte("product_order: PO-1\nname: x\nsections:\n  - position: 1\n    name: a\n    teams: [QA]\n"))
	if !errors.Is(err, domain.ErrUnknownTeam) {
		t.Fatalf("expected ErrUnknownTeam, got %v", err)
	}
}

func TestParseStreamRejectsUnknownFields(t *testing.T) {
	if _, err := ParseStream([]byte("product_order: PO-1\nname: x\nowner: bob\n")); err == nil {
		t.Fatal("expected unknown field error")
	}
}
