// Package schema generates JSON schemas from Go struct definitions at
// runtime and validates raw JSON documents against them, so the schema and
// the struct can never drift apart. Used to check the config file before
// it is decoded.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/swaggest/jsonschema-go"
	"github.com/xeipuuv/gojsonschema"
)

// Schema labels for registered types.
const (
	LabelConfig  = "config"
	LabelProject = "project"
)

var (
	registry    = make(map[string]any)
	registryMu  sync.RWMutex
	schemaCache = make(map[string]string)
	cacheMu     sync.RWMutex
)

// Register adds a type to the schema registry. The schema is generated on
// first use.
func Register(label string, v any) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[label] = v
}

// Get returns the JSON schema string for a registered label.
func Get(label string) (string, error) {
	cacheMu.RLock()
	if cached, ok := schemaCache[label]; ok {
		cacheMu.RUnlock()
		return cached, nil
	}
	cacheMu.RUnlock()

	registryMu.RLock()
	v, ok := registry[label]
	registryMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown schema label: %s", label)
	}

	generated, err := GenerateJSON(v)
	if err != nil {
		return "", fmt.Errorf("failed to generate schema for %s: %w", label, err)
	}

	cacheMu.Lock()
	schemaCache[label] = generated
	cacheMu.Unlock()
	return generated, nil
}

// Labels returns all registered schema labels.
func Labels() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	labels := make([]string, 0, len(registry))
	for label := range registry {
		labels = append(labels, label)
	}
	return labels
}

// Validate checks a raw JSON document against a registered schema and
// returns one error summarizing every violation.
func Validate(label string, document []byte) error {
	schemaStr, err := Get(label)
	if err != nil {
		return err
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaStr),
		gojsonschema.NewBytesLoader(document),
	)
	if err != nil {
		return fmt.Errorf("schema validation of %s failed: %w", label, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s does not match schema: %s", label, strings.Join(msgs, "; "))
}

// GenerateJSON generates a JSON schema string from a Go type using its
// struct tags.
func GenerateJSON(v any) (string, error) {
	r := jsonschema.Reflector{}
	s, err := r.Reflect(v, jsonschema.InlineRefs)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
