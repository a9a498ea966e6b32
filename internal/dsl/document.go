package dsl

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Top-level section names.
const (
	SectionMeta     = "meta"
	SectionCanvas   = "canvas"
	SectionAssets   = "assets"
	SectionEntities = "entities"
	SectionTimeline = "timeline"
)

// Document is a parsed scene specification.
type Document struct {
	Meta     Meta     `yaml:"meta" json:"meta"`
	Canvas   Canvas   `yaml:"canvas" json:"canvas"`
	Assets   []Asset  `yaml:"assets" json:"assets"`
	Entities []Entity `yaml:"entities" json:"entities"`
	Timeline []Event  `yaml:"timeline" json:"timeline"`
}

// Meta carries identity and replay metadata.
type Meta struct {
	Title       string `yaml:"title" json:"title"`
	IdeaID      int64  `yaml:"idea_id,omitempty" json:"idea_id,omitempty"`
	SpecVersion string `yaml:"spec_version,omitempty" json:"spec_version,omitempty"`
	Seed        int64  `yaml:"seed,omitempty" json:"seed,omitempty"`
	Degraded    bool   `yaml:"degraded,omitempty" json:"degraded,omitempty"`
}

// Canvas describes the output frame.
type Canvas struct {
	Width      int     `yaml:"width" json:"width"`
	Height     int     `yaml:"height" json:"height"`
	FPS        int     `yaml:"fps" json:"fps"`
	Duration   float64 `yaml:"duration" json:"duration"`
	Background string  `yaml:"background,omitempty" json:"background,omitempty"`
}

// Asset is an external resource referenced by entities.
type Asset struct {
	ID     string `yaml:"id" json:"id"`
	Kind   string `yaml:"kind" json:"kind"`
	Source string `yaml:"source,omitempty" json:"source,omitempty"`
}

// Entity is a drawable element built from a grammar primitive.
type Entity struct {
	ID        string         `yaml:"id" json:"id"`
	Primitive string         `yaml:"primitive" json:"primitive"`
	Asset     string         `yaml:"asset,omitempty" json:"asset,omitempty"`
	Props     map[string]any `yaml:"props,omitempty" json:"props,omitempty"`
}

// Event applies an action to an entity over a time window.
type Event struct {
	At       float64        `yaml:"at" json:"at"`
	Duration float64        `yaml:"duration" json:"duration"`
	Target   string         `yaml:"target" json:"target"`
	Action   string         `yaml:"action" json:"action"`
	Params   map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// ErrEmpty is returned when a document has no content.
var ErrEmpty = errors.New("empty document")

// Decode parses a YAML or JSON document into a generic tree.
func Decode(text string) (map[string]any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmpty
	}
	var tree map[string]any
	if err := yaml.Unmarshal([]byte(text), &tree); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if tree == nil {
		return nil, ErrEmpty
	}
	return tree, nil
}

// Parse decodes text into a typed Document.
func Parse(text string) (*Document, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmpty
	}
	var doc Document
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &doc, nil
}

// Canonical encodes doc with stable field and key order.
func Canonical(doc *Document) ([]byte, error) {
	if doc == nil {
		return nil, ErrEmpty
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// ContentHash returns the hex SHA-256 of the canonical encoding.
func ContentHash(doc *Document) (string, error) {
	data, err := Canonical(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// EntityIDs returns the declared entity identifiers.
func (d *Document) EntityIDs() map[string]bool {
	ids := make(map[string]bool, len(d.Entities))
	for _, e := range d.Entities {
		ids[e.ID] = true
	}
	return ids
}

// AssetIDs returns the declared asset identifiers.
func (d *Document) AssetIDs() map[string]bool {
	ids := make(map[string]bool, len(d.Assets))
	for _, a := range d.Assets {
		ids[a.ID] = true
	}
	return ids
}
