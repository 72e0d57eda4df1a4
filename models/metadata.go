package models

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// MarshalMetadata renders a validated payload as YAML with fields in
// schema order, so rewriting the same record always yields identical
// bytes.
func MarshalMetadata(schema MetadataSchema, payload map[string]any) (string, error) {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, f := range schema.Fields {
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: f.Name}
		val := &yaml.Node{}
		v, ok := payload[f.Name]
		if !ok || v == nil {
			val.Kind = yaml.ScalarNode
			val.Tag = "!!null"
			val.Value = "null"
		} else if err := val.Encode(v); err != nil {
			return "", fmt.Errorf("failed to encode metadata field %q: %w", f.Name, err)
		}
		doc.Content = append(doc.Content, key, val)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(out), nil
}
