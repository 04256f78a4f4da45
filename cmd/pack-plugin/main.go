// Command pack-plugin bundles a directory of source files into a single
// importable TiddlyWiki plugin tiddler, driven by a manifest.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
)

type cli struct {
	Manifest string `arg:"" help:"Path to the plugin manifest JSON." type:"existingfile"`
	Output   string `arg:"" help:"Path the packed plugin is written to."`
}

// manifest describes the plugin and the shadow tiddlers it bundles.
type manifest struct {
	Title       string        `json:"title"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Author      string        `json:"author"`
	Version     string        `json:"version"`
	PluginType  string        `json:"plugin-type"`
	Tiddlers    []shadowEntry `json:"tiddlers"`
}

// shadowEntry names one bundled source file plus any extra tiddler fields
// (module-type, tags and so on) set alongside it.
type shadowEntry struct {
	Title  string
	File   string
	Fields map[string]any
}

func (e *shadowEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	title, ok := raw["title"].(string)
	if !ok {
		return fmt.Errorf("shadow tiddler entry is missing a title")
	}
	file, ok := raw["file"].(string)
	if !ok {
		return fmt.Errorf("shadow tiddler %q is missing a file", title)
	}
	delete(raw, "title")
	delete(raw, "file")
	e.Title = title
	e.File = file
	e.Fields = raw
	return nil
}

func main() {
	var flags cli
	kong.Parse(&flags,
		kong.Name("pack-plugin"),
		kong.Description("Bundle source files into a TiddlyWiki plugin tiddler."),
	)
	if err := run(flags); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(flags cli) error {
	raw, err := os.ReadFile(flags.Manifest)
	if err != nil {
		return err
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("parsing manifest: %w", err)
	}
	if m.Title == "" {
		return fmt.Errorf("manifest is missing a title")
	}

	fmt.Printf("packing plugin: %s\n", m.Title)

	// Bundled file paths are resolved relative to the manifest.
	baseDir := filepath.Dir(flags.Manifest)

	shadows := make(map[string]map[string]any, len(m.Tiddlers))
	for _, entry := range m.Tiddlers {
		path := filepath.Join(baseDir, entry.File)
		fmt.Printf("  reading %s -> %s\n", entry.File, entry.Title)

		text, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		tiddler := map[string]any{"text": string(text)}
		for k, v := range entry.Fields {
			tiddler[k] = v
		}
		shadows[entry.Title] = tiddler
	}

	// A plugin is itself a tiddler whose text field is a JSON string
	// holding every shadow tiddler keyed by title.
	inner, err := json.Marshal(map[string]any{"tiddlers": shadows})
	if err != nil {
		return fmt.Errorf("encoding shadow tiddlers: %w", err)
	}

	plugin := map[string]any{
		"title":       m.Title,
		"name":        defaultString(m.Name, "Custom Plugin"),
		"description": m.Description,
		"author":      defaultString(m.Author, "wikibag"),
		"version":     defaultString(m.Version, "0.0.1"),
		"plugin-type": defaultString(m.PluginType, "plugin"),
		"type":        "application/json",
		"text":        string(inner),
	}

	// Emitted as a one-element array, the shape TiddlyWiki's importer expects.
	out, err := json.MarshalIndent([]any{plugin}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding plugin: %w", err)
	}
	if err := os.WriteFile(flags.Output, out, 0o644); err != nil {
		return err
	}

	fmt.Printf("plugin saved to %s\n", flags.Output)
	return nil
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
