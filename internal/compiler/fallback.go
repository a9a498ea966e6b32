package compiler

import (
	"fmt"
	"os"
	"strings"

	"specforge/internal/dsl"
	"specforge/internal/specreg"
)

// fallbackDocument builds the degraded document used when every attempt
// failed validation. A configured template wins over the built-in title card.
func fallbackDocument(g *specreg.Grammar, templatePath, title string) (*dsl.Document, error) {
	if path := strings.TrimSpace(templatePath); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read fallback template: %w", err)
		}
		doc, err := dsl.Parse(string(data))
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(doc.Meta.Title) == "" {
			doc.Meta.Title = title
		}
		return doc, nil
	}
	if !g.HasPrimitive("text") || !g.HasAction("appear") {
		return nil, fmt.Errorf("grammar %s lacks the text primitive or appear action", g.Version)
	}
	duration := min(5.0, g.Limits.MaxDuration)
	return &dsl.Document{
		Meta: dsl.Meta{Title: title},
		Canvas: dsl.Canvas{
			Width:      min(1280, g.Limits.MaxWidth),
			Height:     min(720, g.Limits.MaxHeight),
			FPS:        min(30, g.Limits.MaxFPS),
			Duration:   duration,
			Background: "#000000",
		},
		Assets: []dsl.Asset{},
		Entities: []dsl.Entity{{
			ID:        "title",
			Primitive: "text",
			Props:     map[string]any{"text": title, "color": "#ffffff"},
		}},
		Timeline: []dsl.Event{{At: 0, Duration: duration, Target: "title", Action: "appear"}},
	}, nil
}

// baseTemplate returns the configured template text for prompting, if any.
func baseTemplate(path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
