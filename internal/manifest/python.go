package manifest

import (
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

var (
	extrasPattern      = regexp.MustCompile(`\[.*?\]`)
	versionSpecPattern = regexp.MustCompile(`[><=!~]+.*$`)
	pep508Cut          = regexp.MustCompile(`[><=!~;]`)
)

// parseRequirements handles pip requirement lists.
func parseRequirements(content string) ([]string, error) {
	var deps []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-r") || strings.HasPrefix(line, "--") {
			continue
		}
		if i := strings.Index(line, " #"); i >= 0 {
			line = line[:i]
		}
		// environment markers: "pywin32; sys_platform == 'win32'"
		if i := strings.Index(line, ";"); i >= 0 {
			line = line[:i]
		}
		line = extrasPattern.ReplaceAllString(line, "")
		name := strings.TrimSpace(versionSpecPattern.ReplaceAllString(line, ""))
		if name != "" {
			deps = append(deps, strings.ToLower(name))
		}
	}
	return deps, nil
}

type pyprojectFile struct {
	Project struct {
		Dependencies []string `toml:"dependencies"`
	} `toml:"project"`
}

// parsePyproject reads PEP 621 project.dependencies and the Poetry
// dependency table. Poetry's "python" entry is the interpreter constraint.
func parsePyproject(content string) ([]string, error) {
	var doc pyprojectFile
	md, err := toml.Decode(content, &doc)
	if err != nil {
		return nil, err
	}

	var deps []string
	for _, spec := range doc.Project.Dependencies {
		if name := stripPEP508(spec); name != "" {
			deps = append(deps, strings.ToLower(name))
		}
	}

	for _, name := range tableKeys(md, "tool", "poetry", "dependencies") {
		if strings.EqualFold(name, "python") {
			continue
		}
		deps = append(deps, strings.ToLower(name))
	}
	return deps, nil
}

func stripPEP508(spec string) string {
	spec = extrasPattern.ReplaceAllString(spec, "")
	if loc := pep508Cut.FindStringIndex(spec); loc != nil {
		spec = spec[:loc[0]]
	}
	return strings.TrimSpace(spec)
}

// tableKeys returns the direct child keys of the TOML table at path, in
// document order. Inline tables and dotted sub-keys count once.
func tableKeys(md toml.MetaData, path ...string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, key := range md.Keys() {
		if len(key) <= len(path) || !hasPrefix(key, path) {
			continue
		}
		name := key[len(path)]
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

func hasPrefix(key toml.Key, path []string) bool {
	for i, p := range path {
		if key[i] != p {
			return false
		}
	}
	return true
}
