package app

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tracerline/internal/domain"
)

// ParseStream decodes a stream definition. Team names are matched
// case-insensitively and unknown keys are rejected.
func ParseStream(data []byte) (domain.TracerStream, error) {
	var s domain.TracerStream
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return domain.TracerStream{}, fmt.Errorf("parse stream: %w", err)
	}
	for i := range s.Sections {
		for j, t := range s.Sections[i].Teams {
			team, err := domain.ParseTeam(string(t))
			if err != nil {
				return domain.TracerStream{}, fmt.Errorf("section %d: %w", s.Sections[i].Position, err)
			}
			s.Sections[i].Teams[j] = team
		}
	}
	return s, nil
}

// LoadStreamFile reads and parses a stream definition from disk.
func LoadStreamFile(path string) (domain.TracerStream, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.TracerStream{}, err
	}
	return ParseStream(data)
}
