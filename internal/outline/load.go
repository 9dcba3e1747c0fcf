package outline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"json2csv/internal/jsonvalue"
)

// Format is the text format of an outline file.
type Format int

const (
	// FormatJSON accepts JSON with // and /* */ comments and trailing commas.
	FormatJSON Format = iota
	FormatYAML
)

// FormatFromPath picks the format from the file extension; anything that is
// not .yaml or .yml is read as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Load reads and compiles the outline file at path.
func Load(path string) (*Outline, []Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read outline: %w", err)
	}
	o, issues, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, issues, fmt.Errorf("%s: %w", path, err)
	}
	return o, issues, nil
}

// Parse compiles outline text in the given format.
func Parse(data []byte, format Format) (*Outline, []Issue, error) {
	var (
		root jsonvalue.Value
		err  error
	)
	switch format {
	case FormatYAML:
		root, err = parseYAML(data)
	default:
		root, err = parseJSONC(data)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidOutline, err)
	}
	return CompileValue(root)
}

func parseJSONC(data []byte) (jsonvalue.Value, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return jsonvalue.Value{}, fmt.Errorf("strip comments: %w", err)
	}
	return jsonvalue.Parse(std)
}

func parseYAML(data []byte) (jsonvalue.Value, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return jsonvalue.Value{}, fmt.Errorf("yaml: %w", err)
	}
	if doc.Kind == 0 {
		return jsonvalue.Value{}, fmt.Errorf("yaml: empty document")
	}
	return valueFromYAML(&doc)
}

// valueFromYAML converts a YAML node tree, keeping mapping key order.
func valueFromYAML(n *yaml.Node) (jsonvalue.Value, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return jsonvalue.NullValue(), nil
		}
		return valueFromYAML(n.Content[0])

	case yaml.AliasNode:
		return valueFromYAML(n.Alias)

	case yaml.MappingNode:
		m := jsonvalue.NewMapSize(len(n.Content) / 2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return jsonvalue.Value{}, fmt.Errorf("yaml: line %d: mapping key must be a scalar", k.Line)
			}
			val, err := valueFromYAML(v)
			if err != nil {
				return jsonvalue.Value{}, err
			}
			m.Set(k.Value, val)
		}
		return jsonvalue.ObjectValue(m), nil

	case yaml.SequenceNode:
		items := make([]jsonvalue.Value, 0, len(n.Content))
		for _, c := range n.Content {
			val, err := valueFromYAML(c)
			if err != nil {
				return jsonvalue.Value{}, err
			}
			items = append(items, val)
		}
		return jsonvalue.ArrayValue(items...), nil

	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			return jsonvalue.NullValue(), nil
		case "!!bool", "!!int", "!!float":
			var x any
			if err := n.Decode(&x); err != nil {
				return jsonvalue.Value{}, fmt.Errorf("yaml: line %d: %w", n.Line, err)
			}
			return jsonvalue.FromInterface(x)
		default:
			// Strings, timestamps and binary stay as written.
			return jsonvalue.StringValue(n.Value), nil
		}
	}
	return jsonvalue.Value{}, fmt.Errorf("yaml: line %d: unsupported node", n.Line)
}
