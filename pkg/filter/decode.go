package filter

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

var valueType = reflect.TypeOf(Value{})

// DecodeSpecification builds a Specification from a loosely typed map, as
// found in YAML configuration. The "op" key is accepted in place of
// "operator".
func DecodeSpecification(raw map[string]interface{}) (Specification, error) {
	var spec Specification
	if len(raw) == 0 {
		return spec, nil
	}

	normalized := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		normalized[k] = v
	}
	if exprs, ok := raw["expressions"].([]interface{}); ok {
		out := make([]interface{}, len(exprs))
		for i, e := range exprs {
			out[i] = normalizeExpression(e)
		}
		normalized["expressions"] = out
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  scalarToValueHook,
		ErrorUnused: true,
		Result:      &spec,
	})
	if err != nil {
		return spec, fmt.Errorf("failed to create filter decoder: %w", err)
	}

	if err := decoder.Decode(normalized); err != nil {
		return spec, fmt.Errorf("failed to decode filter specification: %w", err)
	}
	return spec, nil
}

func normalizeExpression(e interface{}) interface{} {
	m, ok := toStringMap(e)
	if !ok {
		return e
	}
	if op, has := m["op"]; has {
		if _, dup := m["operator"]; !dup {
			m["operator"] = op
		}
		delete(m, "op")
	}
	return m
}

func toStringMap(e interface{}) (map[string]interface{}, bool) {
	switch t := e.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, v := range t {
			out[k] = v
		}
		return out, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, v := range t {
			out[fmt.Sprint(k)] = v
		}
		return out, true
	}
	return nil, false
}

func scalarToValueHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != valueType || from == valueType {
		return data, nil
	}
	return ValueOf(data)
}
