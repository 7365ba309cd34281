package jsontree

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ParseYAML decodes a YAML document into a tree, keeping mapping order.
func ParseYAML(data []byte) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 {
		return NewObject(), nil
	}
	return fromYAML(&doc)
}

func fromYAML(y *yaml.Node) (*Node, error) {
	switch y.Kind {
	case yaml.DocumentNode:
		if len(y.Content) == 0 {
			return NewObject(), nil
		}
		return fromYAML(y.Content[0])
	case yaml.AliasNode:
		return fromYAML(y.Alias)
	case yaml.MappingNode:
		obj := NewObject()
		for i := 0; i+1 < len(y.Content); i += 2 {
			v, err := fromYAML(y.Content[i+1])
			if err != nil {
				return nil, err
			}
			obj.obj.Set(y.Content[i].Value, v)
		}
		return obj, nil
	case yaml.SequenceNode:
		arr := NewArray()
		for _, c := range y.Content {
			v, err := fromYAML(c)
			if err != nil {
				return nil, err
			}
			arr.arr = append(arr.arr, v)
		}
		return arr, nil
	case yaml.ScalarNode:
		switch y.ShortTag() {
		case "!!null":
			return NewNull(), nil
		case "!!bool":
			b, err := strconv.ParseBool(y.Value)
			if err != nil {
				var v bool
				if err := y.Decode(&v); err != nil {
					return nil, err
				}
				b = v
			}
			return NewBool(b), nil
		case "!!int", "!!float":
			var f any
			if err := y.Decode(&f); err != nil {
				return nil, err
			}
			b, err := json.Marshal(f)
			if err != nil {
				return nil, err
			}
			return NewNumber(json.Number(b)), nil
		}
		return NewString(y.Value), nil
	}
	return nil, fmt.Errorf("jsontree: unsupported yaml node kind %d", y.Kind)
}
