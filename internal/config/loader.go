package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeKey names a sibling file whose values are merged in before the
// current document. Paths are relative to the including file.
const includeKey = "$include"

// loader resolves a config file and its $include chain into one raw map.
// The stack tracks the chain of files being resolved so a cycle error can
// report the full path back to the offending file.
type loader struct {
	stack []string
}

func loadMerged(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	l := &loader{}
	return l.resolve(path)
}

func (l *loader) resolve(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	for _, in := range l.stack {
		if in == abs {
			return nil, fmt.Errorf("config include cycle: %s -> %s", strings.Join(l.stack, " -> "), abs)
		}
	}
	l.stack = append(l.stack, abs)
	defer func() { l.stack = l.stack[:len(l.stack)-1] }()

	doc, err := readDocument(abs)
	if err != nil {
		return nil, err
	}

	includes, err := popIncludes(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	out := map[string]any{}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		sub, err := l.resolve(inc)
		if err != nil {
			return nil, err
		}
		out = deepMerge(out, sub)
	}
	return deepMerge(out, doc), nil
}

// readDocument reads one config file, expands ${VAR} references from the
// environment, and decodes it by extension. .json and .json5 go through the
// json5 decoder; everything else is treated as YAML.
func readDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = []byte(os.ExpandEnv(string(data)))

	doc := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return doc, nil
}

// popIncludes removes the $include entry from doc and returns its paths.
// The value may be a single path or a list of paths.
func popIncludes(doc map[string]any) ([]string, error) {
	val, ok := doc[includeKey]
	if !ok {
		return nil, nil
	}
	delete(doc, includeKey)

	switch v := val.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []any:
		paths := make([]string, 0, len(v))
		for _, entry := range v {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings, got %T", includeKey, entry)
			}
			if strings.TrimSpace(s) != "" {
				paths = append(paths, s)
			}
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("%s must be a string or list of strings, got %T", includeKey, val)
	}
}

// deepMerge overlays src onto dst. Maps merge recursively; any other value
// in src replaces the one in dst.
func deepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		sub, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		if existing, ok := dst[k].(map[string]any); ok {
			dst[k] = deepMerge(existing, sub)
		} else {
			dst[k] = sub
		}
	}
	return dst
}

// decodeStrict round-trips the merged map through YAML into Config so that
// keys unknown to the schema are rejected rather than silently dropped.
func decodeStrict(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
