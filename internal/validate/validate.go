// Package validate implements the JSON-Schema subset checker described
// in spec.md §4.3. It is pure and side-effect free: given a descriptor
// schema and a candidate argument map, it either returns nil or a
// *protocol.CodedError carrying −32602.
package validate

import (
	"fmt"
	"regexp"

	"github.com/hearthd/hearthd/internal/protocol"
	"github.com/hearthd/hearthd/internal/registry"
)

// Args validates args against schema per spec.md §4.3, checks 1-5, in
// order. The first violation found is returned; callers don't need
// more than one error to reject the call.
func Args(schema registry.Schema, args map[string]interface{}) error {
	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			return invalid(fmt.Sprintf("missing required argument %q", name))
		}
	}

	for name, value := range args {
		propSchema, declared := schema.Properties[name]
		if !declared {
			continue
		}
		if err := checkType(name, propSchema.Type, value); err != nil {
			return err
		}
		if len(propSchema.Enum) > 0 && !inEnum(value, propSchema.Enum) {
			return invalid(fmt.Sprintf("argument %q must be one of %v", name, propSchema.Enum))
		}
		if propSchema.Pattern != "" {
			if s, ok := value.(string); ok {
				re, err := regexp.Compile(propSchema.Pattern)
				if err != nil {
					return invalid(fmt.Sprintf("argument %q has an invalid pattern schema", name))
				}
				if !re.MatchString(s) {
					return invalid(fmt.Sprintf("argument %q does not match required pattern", name))
				}
			}
		}
		if propSchema.Minimum != nil || propSchema.Maximum != nil {
			if n, ok := numeric(value); ok {
				if propSchema.Minimum != nil && n < *propSchema.Minimum {
					return invalid(fmt.Sprintf("argument %q is below minimum %v", name, *propSchema.Minimum))
				}
				if propSchema.Maximum != nil && n > *propSchema.Maximum {
					return invalid(fmt.Sprintf("argument %q is above maximum %v", name, *propSchema.Maximum))
				}
			}
		}
	}

	return nil
}

func invalid(msg string) error {
	return protocol.NewCodedError(protocol.CodeInvalidParams, msg, nil)
}

func checkType(name, declared string, value interface{}) error {
	if declared == "" {
		return nil
	}
	ok := false
	switch declared {
	case "string":
		_, ok = value.(string)
	case "boolean":
		_, ok = value.(bool)
	case "integer":
		n, isNum := numeric(value)
		ok = isNum && n == float64(int64(n))
	case "number":
		_, ok = numeric(value)
	case "object":
		_, ok = value.(map[string]interface{})
	case "array":
		_, ok = value.([]interface{})
	default:
		ok = true // unknown declared type: don't reject
	}
	if !ok {
		return invalid(fmt.Sprintf("argument %q must be of type %s", name, declared))
	}
	return nil
}

func numeric(value interface{}) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func inEnum(value interface{}, enum []interface{}) bool {
	for _, e := range enum {
		if fmt.Sprint(e) == fmt.Sprint(value) {
			return true
		}
	}
	return false
}
