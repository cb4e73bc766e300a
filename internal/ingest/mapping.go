package ingest

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Logical field names a mapping may bind. Anything not mapped is absent from
// the imported record; columns are never guessed from header names.
const (
	FieldExternalID   = "external_id"
	FieldRating       = "rating"
	FieldText         = "text"
	FieldAuthor       = "author"
	FieldPublishedAt  = "published_at"
	FieldReplyText    = "reply_text"
	FieldVerified     = "verified"
	FieldBusinessID   = "business_id"
	FieldBusinessName = "business_name"
	FieldPlaceID      = "place_id"
)

var knownFields = map[string]bool{
	FieldExternalID:   true,
	FieldRating:       true,
	FieldText:         true,
	FieldAuthor:       true,
	FieldPublishedAt:  true,
	FieldReplyText:    true,
	FieldVerified:     true,
	FieldBusinessID:   true,
	FieldBusinessName: true,
	FieldPlaceID:      true,
}

// Mapping binds logical review fields to source column names.
type Mapping struct {
	// Fields maps logical field name to the source column header.
	Fields map[string]string `yaml:"fields" json:"fields"`
	// Source tags imported records, e.g. "partner-export".
	Source string `yaml:"source" json:"source"`
}

// LoadMapping reads a YAML mapping file.
func LoadMapping(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read mapping %s", path)
	}
	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "ingest: parse mapping")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate rejects unknown logical fields and mappings that could never
// produce an importable record.
func (m *Mapping) Validate() error {
	if len(m.Fields) == 0 {
		return eris.New("ingest: mapping binds no fields")
	}
	for field := range m.Fields {
		if !knownFields[field] {
			return eris.Errorf("ingest: unknown logical field %q", field)
		}
	}
	if m.Fields[FieldRating] == "" {
		return eris.Errorf("ingest: mapping must bind %q", FieldRating)
	}
	if m.Fields[FieldBusinessID] == "" && m.Fields[FieldBusinessName] == "" && m.Fields[FieldPlaceID] == "" {
		return eris.New("ingest: mapping must bind a business resolution field (business_id, business_name, or place_id)")
	}
	return nil
}

// columnIndex resolves the mapping against a concrete header row. Mapped
// columns missing from the header are an error; the mapping promised them.
func (m *Mapping) columnIndex(header []string) (map[string]int, error) {
	byName := make(map[string]int, len(header))
	for i, col := range header {
		byName[strings.TrimSpace(col)] = i
	}

	idx := make(map[string]int, len(m.Fields))
	for field, col := range m.Fields {
		i, ok := byName[col]
		if !ok {
			return nil, eris.Errorf("ingest: mapped column %q (field %s) not in header", col, field)
		}
		idx[field] = i
	}
	return idx, nil
}
