// Package manifest extracts dependency names from the nine dependency
// manifest formats RepoRadar probes for.
//
// Every parser returns lowercase names with versions, extras and markers
// removed, in the order they appear in the file.
package manifest

import (
	"fmt"

	"github.com/fyrsmithlabs/reporadar/internal/repository"
)

// Filenames is the fixed list of manifests probed in every repository.
var Filenames = []string{
	"requirements.txt",
	"pyproject.toml",
	"package.json",
	"Cargo.toml",
	"pubspec.yaml",
	"go.mod",
	"Gemfile",
	"pom.xml",
	"build.gradle",
}

type parserFunc func(content string) ([]string, error)

var parsers = map[string]parserFunc{
	"requirements.txt": parseRequirements,
	"pyproject.toml":   parsePyproject,
	"package.json":     parsePackageJSON,
	"Cargo.toml":       parseCargo,
	"pubspec.yaml":     parsePubspec,
	"go.mod":           parseGoMod,
	"Gemfile":          parseGemfile,
	"pom.xml":          parsePom,
	"build.gradle":     parseGradle,
}

// supported reports whether filename has a parser.
func supported(filename string) bool {
	_, ok := parsers[filename]
	return ok
}

// Extract parses content as the manifest kind named by filename.
// Unknown filenames yield nil and no error. Malformed structured content
// (TOML, JSON, YAML) returns the parser's error.
func Extract(content, filename string) ([]string, error) {
	parse, ok := parsers[filename]
	if !ok {
		return nil, nil
	}
	return parse(content)
}

// ExtractAll extracts every entry and dedupes the concatenated result,
// keeping the first occurrence of each name.
//
// With lenient false a malformed manifest fails the whole call. With lenient
// true it contributes no dependencies.
func ExtractAll(entries []repository.ManifestEntry, lenient bool) ([]string, error) {
	var all []string
	for _, e := range entries {
		deps, err := Extract(e.Content, e.Filename)
		if err != nil {
			if lenient {
				continue
			}
			return nil, fmt.Errorf("parsing %s: %w", e.Filename, err)
		}
		all = append(all, deps...)
	}
	return Dedupe(all), nil
}

// Dedupe removes repeated names, preserving first-seen order.
func Dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
