package agents

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Descriptor is the on-disk definition of an agent. Descriptors live as YAML
// files in the configured directory and are loaded in filename order, which
// fixes the routing tie-break order.
type Descriptor struct {
	Name         string   `yaml:"name"`
	Kind         string   `yaml:"kind"` // "llm", "code", "search", "documents"
	Keywords     []string `yaml:"keywords"`
	Phrases      []string `yaml:"phrases"`
	SystemPrompt string   `yaml:"system_prompt"`
	Fallback     bool     `yaml:"fallback"`
}

func (d *Descriptor) validate() error {
	if d.Name == "" {
		return fmt.Errorf("agent descriptor missing name")
	}
	switch d.Kind {
	case "llm", "code", "search", "documents":
	default:
		return fmt.Errorf("agent %s has unknown kind %q", d.Name, d.Kind)
	}
	return nil
}

// LoadDescriptors reads all *.yaml descriptors from dir. A missing or empty
// directory returns nil so the caller can fall back to the built-in set.
func LoadDescriptors(dir string) ([]Descriptor, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read agents directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	descriptors := make([]Descriptor, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read agent descriptor %s: %w", name, err)
		}
		var d Descriptor
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("failed to parse agent descriptor %s: %w", name, err)
		}
		if err := d.validate(); err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

// DefaultDescriptors is the built-in agent set used when no descriptor
// directory is configured.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{
			Name:     "general",
			Kind:     "llm",
			Fallback: true,
			Keywords: []string{"explain", "help", "question", "why", "how"},
			SystemPrompt: "You are a helpful assistant for a document knowledge base. " +
				"Answer concisely and note when a question is outside the indexed corpus.",
		},
		{
			Name:     "code",
			Kind:     "code",
			Keywords: []string{"code", "function", "bug", "error", "implement", "golang", "python", "javascript"},
			Phrases:  []string{"write a", "code review", "stack trace"},
			SystemPrompt: "You are a precise programming assistant. " +
				"Put complete code in fenced blocks with a language tag and keep prose outside them.",
		},
		{
			Name:     "documents",
			Kind:     "documents",
			Keywords: []string{"document", "ingest", "pipeline", "upload", "corpus", "index"},
			Phrases:  []string{"how many documents", "ingestion status"},
		},
		{
			Name:     "search",
			Kind:     "search",
			Keywords: []string{"search", "find", "lookup", "locate", "where"},
			Phrases:  []string{"search for", "look up"},
		},
	}
}
