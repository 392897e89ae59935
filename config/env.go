package config

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix marks the environment variables overlaid on the tree.
const EnvPrefix = "CONFIG_"

// Overlay applies CONFIG_ variables from environ, given as KEY=value pairs
// like os.Environ. After the prefix, "_" separates path segments and "__"
// stands for a literal underscore; segments are lower-cased. Values are
// parsed as YAML, so numbers, booleans, lists and JSON objects keep their
// type:
//
//	CONFIG_REWIRE_MAX__CONCURRENCY=8   rewire.max_concurrency: 8
//	CONFIG_DB_HOSTS=[a, b]             db.hosts: [a, b]
//
// CONFIG_FILE itself is not overlaid.
func (s *Source) Overlay(environ []string) error {
	for _, kv := range environ {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok || key == FileEnv || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}

		path := EnvPath(strings.TrimPrefix(key, EnvPrefix))
		if path == "" {
			continue
		}
		s.Set(path, envValue(raw))
	}
	return nil
}

// EnvPath converts the part of a variable name after CONFIG_ into a dotted
// path.
func EnvPath(name string) string {
	const placeholder = "\x00"

	name = strings.ReplaceAll(name, "__", placeholder)
	segments := strings.Split(name, "_")
	out := segments[:0]
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		seg = strings.ReplaceAll(seg, placeholder, "_")
		out = append(out, strings.ToLower(seg))
	}
	return strings.Join(out, ".")
}

func envValue(raw string) any {
	if raw == "" {
		return ""
	}

	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	return normalize(v)
}

// normalize turns the map[string]any/[]any produced by yaml.v3 for nested
// values into the tree's own shapes. Keys that are not strings are dropped.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = normalize(item)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, item := range t {
			if ks, ok := k.(string); ok {
				m[ks] = normalize(item)
			}
		}
		return m
	case []any:
		for i, item := range t {
			t[i] = normalize(item)
		}
		return t
	default:
		return v
	}
}
