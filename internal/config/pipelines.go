package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PipelineDef describes one content pipeline's external listing: where it
// lives and which selectors pull entries out of a listing page. The
// listing is assumed to be paginated and reverse-chronological.
type PipelineDef struct {
	Type          string `yaml:"type"`
	ListURL       string `yaml:"list_url"`
	PageParam     string `yaml:"page_param"`
	EntrySelector string `yaml:"entry_selector"`
	KeySelector   string `yaml:"key_selector"`
	KeyAttr       string `yaml:"key_attr"`
	TitleSelector string `yaml:"title_selector"`
	MediaSelector string `yaml:"media_selector"`
	MediaAttr     string `yaml:"media_attr"`

	// ExtractionKind selects the extraction mode for this pipeline's
	// media ("transcript" or "scan"). Defaults to "transcript".
	ExtractionKind string `yaml:"extraction_kind"`

	// Boundary detection is only meaningful for pipelines whose raw
	// extraction contains surrounding material (e.g. a full service
	// recording around the sermon).
	BoundaryDetection bool `yaml:"boundary_detection"`
}

type PipelinesFile struct {
	Pipelines []PipelineDef `yaml:"pipelines"`
}

// LoadPipelines reads the per-pipeline listing definitions. Every task
// type the HTTP surface accepts must have an entry here.
func LoadPipelines(path string) (map[string]PipelineDef, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from config, not user input
	if err != nil {
		return nil, fmt.Errorf("read pipelines file: %w", err)
	}

	var file PipelinesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse pipelines file: %w", err)
	}

	defs := make(map[string]PipelineDef, len(file.Pipelines))
	for _, def := range file.Pipelines {
		if def.Type == "" {
			return nil, fmt.Errorf("pipeline definition missing type")
		}
		if def.ListURL == "" {
			return nil, fmt.Errorf("pipeline %s: missing list_url", def.Type)
		}
		if _, dup := defs[def.Type]; dup {
			return nil, fmt.Errorf("pipeline %s: duplicate definition", def.Type)
		}
		defs[def.Type] = def
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("pipelines file defines no pipelines")
	}
	return defs, nil
}
