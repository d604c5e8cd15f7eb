package manifest

import (
	"regexp"
	"slices"
	"strings"
)

var (
	goRequireBlock  = regexp.MustCompile(`(?s)require\s*\((.*?)\)`)
	goRequireSingle = regexp.MustCompile(`(?m)^\s*require\s+([^\s(]\S*)`)
	gemfileGem      = regexp.MustCompile(`gem\s+['"]([^'"]+)['"]`)
	pomDependency   = regexp.MustCompile(`(?s)<dependency>(.*?)</dependency>`)
	pomArtifactID   = regexp.MustCompile(`<artifactId>\s*(.*?)\s*</artifactId>`)
	gradleDep       = regexp.MustCompile(`(?:implementation|compile|api|testImplementation)\s*[('"]([^'"()]+)['")\s]`)
)

// parseGoMod reads require blocks first, then single-line requires.
func parseGoMod(content string) ([]string, error) {
	var deps []string
	for _, m := range goRequireBlock.FindAllStringSubmatch(content, -1) {
		for _, line := range strings.Split(m[1], "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "//") {
				continue
			}
			if fields := strings.Fields(line); len(fields) > 0 {
				deps = append(deps, strings.ToLower(fields[0]))
			}
		}
	}
	for _, m := range goRequireSingle.FindAllStringSubmatch(content, -1) {
		mod := strings.ToLower(m[1])
		if !slices.Contains(deps, mod) {
			deps = append(deps, mod)
		}
	}
	return deps, nil
}

func parseGemfile(content string) ([]string, error) {
	var deps []string
	for _, m := range gemfileGem.FindAllStringSubmatch(content, -1) {
		deps = append(deps, strings.ToLower(m[1]))
	}
	return deps, nil
}

// parsePom returns the artifactId of every <dependency> block.
func parsePom(content string) ([]string, error) {
	var deps []string
	for _, block := range pomDependency.FindAllStringSubmatch(content, -1) {
		if m := pomArtifactID.FindStringSubmatch(block[1]); m != nil {
			deps = append(deps, strings.ToLower(strings.TrimSpace(m[1])))
		}
	}
	return deps, nil
}

// parseGradle keeps group:name from coordinate strings and drops the version.
func parseGradle(content string) ([]string, error) {
	var deps []string
	for _, m := range gradleDep.FindAllStringSubmatch(content, -1) {
		raw := strings.TrimSpace(m[1])
		if parts := strings.Split(raw, ":"); len(parts) >= 2 {
			raw = parts[0] + ":" + parts[1]
		}
		deps = append(deps, strings.ToLower(raw))
	}
	return deps, nil
}
