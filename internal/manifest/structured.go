package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

var pubspecSkip = map[string]bool{"flutter": true, "flutter_test": true}

// parsePackageJSON reads dependencies then devDependencies. Object keys are
// read off the token stream so file order survives.
func parsePackageJSON(content string) ([]string, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, err
	}

	var deps []string
	for _, section := range []string{"dependencies", "devDependencies"} {
		raw, ok := doc[section]
		if !ok {
			continue
		}
		keys, err := objectKeys(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", section, err)
		}
		for _, k := range keys {
			deps = append(deps, strings.ToLower(k))
		}
	}
	return deps, nil
}

// objectKeys lists the top-level keys of a JSON object in order. A null
// value has no keys.
func objectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("expected an object")
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.New("expected an object key")
		}
		keys = append(keys, key)

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return keys, nil
}

// parseCargo reads [dependencies] then [dev-dependencies].
func parseCargo(content string) ([]string, error) {
	var doc map[string]any
	md, err := toml.Decode(content, &doc)
	if err != nil {
		return nil, err
	}

	var deps []string
	for _, section := range []string{"dependencies", "dev-dependencies"} {
		for _, name := range tableKeys(md, section) {
			deps = append(deps, strings.ToLower(name))
		}
	}
	return deps, nil
}

// parsePubspec reads dependencies then dev_dependencies, skipping the
// Flutter SDK entries.
func parsePubspec(content string) ([]string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(content), &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, nil
	}

	var deps []string
	for _, section := range []string{"dependencies", "dev_dependencies"} {
		node := mappingValue(doc, section)
		if node == nil || node.Kind != yaml.MappingNode {
			continue
		}
		for i := 0; i+1 < len(node.Content); i += 2 {
			name := strings.ToLower(node.Content[i].Value)
			if pubspecSkip[name] {
				continue
			}
			deps = append(deps, name)
		}
	}
	return deps, nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}
