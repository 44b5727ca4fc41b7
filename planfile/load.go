package planfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
)

// LoadOptions contains options for loading a plan document.
type LoadOptions struct {
	base string
}

// LoadOption is a function type for setting LoadOptions.
type LoadOption func(*LoadOptions)

// WithBase merges a base plan document underneath the loaded one: fields
// the loaded document leaves unset are filled from the base. Lists are not
// concatenated; a document that declares its own signals keeps them.
func WithBase(path string) LoadOption {
	return func(o *LoadOptions) {
		o.base = path
	}
}

// Load reads a plan document from a file. The .yaml extension is optional.
func Load(path string, opts ...LoadOption) (*Definition, error) {
	raw, err := readYAMLFile(resolvePath(path))
	if err != nil {
		return nil, err
	}
	return load(raw, opts...)
}

// LoadYAML parses a plan document from bytes.
func LoadYAML(data []byte, opts ...LoadOption) (*Definition, error) {
	raw, err := unmarshalData(data)
	if err != nil {
		return nil, err
	}
	return load(raw, opts...)
}

func load(raw map[string]any, opts ...LoadOption) (*Definition, error) {
	var cfg LoadOptions
	for _, opt := range opts {
		opt(&cfg)
	}

	def, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}

	if cfg.base != "" {
		baseRaw, err := readYAMLFile(resolvePath(cfg.base))
		if err != nil {
			return nil, err
		}
		baseDef, err := decode(baseRaw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base plan: %w", err)
		}
		if err := merge(def, baseDef); err != nil {
			return nil, fmt.Errorf("failed to merge base plan: %w", err)
		}
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// resolvePath allows plan files to be named without their extension.
func resolvePath(path string) string {
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		return path
	}
	return path + ".yaml"
}

// readYAMLFile reads the contents of the file into a map.
func readYAMLFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file %q: %w", path, err)
	}
	return unmarshalData(data)
}

// unmarshalData unmarshals the data into a map.
func unmarshalData(data []byte) (map[string]any, error) {
	var cm map[string]any
	err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&cm)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return cm, err
}

// decode decodes the raw document map into a Definition. Unknown keys are
// rejected so typos surface instead of silently dropping configuration.
func decode(raw map[string]any) (*Definition, error) {
	def := new(Definition)
	md, _ := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      def,
		DecodeHook:  durationHook(),
	})
	err := md.Decode(raw)
	return def, err
}

// durationHook converts duration tokens like "2s", "500ms" or "1d" while
// decoding. Numbers are rejected; a bare 30 is ambiguous.
func durationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}
		token, ok := data.(string)
		if !ok {
			return nil, fmt.Errorf("duration must be a string token, got %T", data)
		}
		return ParseDuration(token)
	}
}

// merge merges the base definition into the destination, filling only
// fields the destination leaves unset.
func merge(dst, src *Definition) error {
	return mergo.Merge(dst, src)
}
