// Package config loads YAML configuration, overlays CONFIG_ environment
// variables and turns configuration sections into rewire nodes.
//
// A file may use two tags:
//
//	password: !env DB_PASSWORD
//	region: !env AWS_REGION:eu-west-1
//	limits: !include limits.yaml
//
// !env reads a variable, with an optional default after the first colon.
// !include loads another file, relative to the including one.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// FileEnv names the variable holding the default configuration file.
	FileEnv     = "CONFIG_FILE"
	DefaultFile = "./config.yaml"

	maxIncludeDepth = 16
)

var (
	ErrEnvRequired = errors.New("environment variable required")
	ErrNotFound    = errors.New("configuration path not found")
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Source is a configuration tree. Maps are map[string]any, sequences []any.
// A Source is safe for concurrent reads once loaded.
type Source struct {
	mu   sync.RWMutex
	root map[string]any
	file string
}

// New returns an empty Source.
func New() *Source {
	return &Source{root: make(map[string]any)}
}

// File returns the file the source was loaded from, if any.
func (s *Source) File() string {
	return s.file
}

// LoadDefault loads the file named by CONFIG_FILE, or ./config.yaml, and
// overlays the process environment. A missing default file yields an empty
// tree.
func LoadDefault() (*Source, error) {
	file := os.Getenv(FileEnv)
	if file == "" {
		file = DefaultFile
	}

	s, err := LoadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		s = New()
	} else if err != nil {
		return nil, err
	}

	if err := s.Overlay(os.Environ()); err != nil {
		return nil, err
	}
	return s, nil
}

// Load loads file and overlays the process environment.
func Load(file string) (*Source, error) {
	s, err := LoadFile(file)
	if err != nil {
		return nil, err
	}
	if err := s.Overlay(os.Environ()); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadFile parses file without the environment overlay.
func LoadFile(file string) (*Source, error) {
	l := &loader{lookupEnv: os.LookupEnv}
	v, err := l.load(file, 0)
	if err != nil {
		return nil, err
	}

	s := New()
	s.file = file
	if err := s.setRoot(v); err != nil {
		return nil, fmt.Errorf("config %s: %w", file, err)
	}
	return s, nil
}

// Parse parses YAML data. Includes are resolved relative to dir.
func Parse(data []byte, dir string) (*Source, error) {
	l := &loader{lookupEnv: os.LookupEnv}
	v, err := l.parse(data, dir, 0)
	if err != nil {
		return nil, err
	}

	s := New()
	if err := s.setRoot(v); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) setRoot(v any) error {
	switch root := v.(type) {
	case nil:
	case map[string]any:
		s.root = root
	default:
		return fmt.Errorf("top level must be a mapping, got %T", v)
	}
	return nil
}

// Get returns the value at a dotted path. The empty path is the whole tree.
func (s *Source) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cur any = s.root
	for _, key := range splitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set stores v at a dotted path, creating intermediate mappings and
// replacing scalars in the way.
func (s *Source) Set(path string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := splitPath(path)
	if len(keys) == 0 {
		if m, ok := v.(map[string]any); ok {
			s.root = m
		}
		return
	}

	cur := s.root
	for _, key := range keys[:len(keys)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[key] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = v
}

// Merge deep-merges patch into the tree: mappings merge key by key, any
// other value replaces what was there.
func (s *Source) Merge(patch map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.root = merge(s.root, patch).(map[string]any)
}

func merge(dst, src any) any {
	dm, dok := dst.(map[string]any)
	sm, sok := src.(map[string]any)
	if !dok || !sok {
		return src
	}

	out := make(map[string]any, len(dm)+len(sm))
	for k, v := range dm {
		out[k] = v
	}
	for k, v := range sm {
		out[k] = merge(out[k], v)
	}
	return out
}

// Decode decodes the subtree at path into out and validates the result with
// `validate` struct tags. A missing path leaves out untouched but still
// validates it, so required fields are reported.
func (s *Source) Decode(path string, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("config: decode target must be a non-nil pointer, got %T", out)
	}

	if v, ok := s.Get(path); ok && v != nil {
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("config %q: %w", path, err)
		}
	}

	target := rv
	for target.Kind() == reflect.Pointer {
		if target.IsNil() {
			return nil
		}
		target = target.Elem()
	}
	if target.Kind() != reflect.Struct {
		return nil
	}
	if err := validatorInstance().Struct(target.Interface()); err != nil {
		return fmt.Errorf("config %q: %w", path, err)
	}
	return nil
}

// MustExist is Decode that fails with ErrNotFound when path is missing.
func (s *Source) MustExist(path string, out any) error {
	if _, ok := s.Get(path); !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	return s.Decode(path, out)
}

// YAML renders the tree.
func (s *Source) YAML() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return yaml.Marshal(s.root)
}

func splitPath(path string) []string {
	path = strings.Trim(path, ".")
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

type loader struct {
	lookupEnv func(string) (string, bool)
}

func (l *loader) load(file string, depth int) (any, error) {
	if depth > maxIncludeDepth {
		return nil, fmt.Errorf("config %s: includes nested deeper than %d", file, maxIncludeDepth)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	v, err := l.parse(data, filepath.Dir(file), depth)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", file, err)
	}
	return v, nil
}

func (l *loader) parse(data []byte, dir string, depth int) (any, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 {
		return nil, nil
	}
	return l.value(&doc, dir, depth)
}

func (l *loader) value(n *yaml.Node, dir string, depth int) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return l.value(n.Content[0], dir, depth)

	case yaml.AliasNode:
		return l.value(n.Alias, dir, depth)

	case yaml.MappingNode:
		m := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			if key.Tag == "!!merge" {
				base, err := l.value(val, dir, depth)
				if err != nil {
					return nil, err
				}
				if bm, ok := base.(map[string]any); ok {
					for k, v := range bm {
						if _, exists := m[k]; !exists {
							m[k] = v
						}
					}
				}
				continue
			}
			v, err := l.value(val, dir, depth)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key.Value, err)
			}
			m[key.Value] = v
		}
		return m, nil

	case yaml.SequenceNode:
		out := make([]any, len(n.Content))
		for i, item := range n.Content {
			v, err := l.value(item, dir, depth)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = v
		}
		return out, nil

	case yaml.ScalarNode:
		switch n.Tag {
		case "!env":
			return l.env(n.Value)
		case "!include":
			file := n.Value
			if !filepath.IsAbs(file) {
				file = filepath.Join(dir, file)
			}
			return l.load(file, depth+1)
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	}

	return nil, fmt.Errorf("line %d: unsupported node kind %d", n.Line, n.Kind)
}

func (l *loader) env(ref string) (any, error) {
	name, def, hasDefault := strings.Cut(ref, ":")
	if v, ok := l.lookupEnv(name); ok {
		return v, nil
	}
	if hasDefault {
		return def, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrEnvRequired, name)
}
