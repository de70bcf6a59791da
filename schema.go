package appagent

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// validateAgainstSchema checks a decoded JSON object against a minimal subset
// of JSON schema: "required", per-property "type", and
// "additionalProperties". The catalogue is closed and the schemas are authored
// in this repo, so anything beyond that subset is rejected loudly rather than
// silently accepted.
func validateAgainstSchema(schema map[string]any, value map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	required, err := schemaRequiredFields(schema["required"])
	if err != nil {
		return err
	}
	for _, field := range required {
		if _, ok := value[field]; !ok {
			return errors.Errorf("missing required field %q", field)
		}
	}

	properties, hasProperties := asObject(schema["properties"])
	additionalAllowed := true
	if raw, ok := schema["additionalProperties"]; ok {
		flag, isBool := raw.(bool)
		if !isBool {
			return errors.New(`schema "additionalProperties" must be a bool`)
		}
		additionalAllowed = flag
	}

	for _, key := range sortedKeys(value) {
		propertySchema, hasProperty := properties[key]
		if !hasProperty {
			if hasProperties && !additionalAllowed {
				return errors.Errorf("unexpected field %q", key)
			}
			continue
		}
		propertyMap, ok := asObject(propertySchema)
		if !ok {
			return errors.Errorf("schema property %q must be an object", key)
		}
		if err := validateSchemaValue(key, propertyMap, value[key]); err != nil {
			return err
		}
	}
	return nil
}

func validateSchemaValue(key string, propertySchema map[string]any, value any) error {
	rawType, ok := propertySchema["type"]
	if !ok {
		return nil
	}
	typeName, ok := rawType.(string)
	if !ok {
		return errors.Errorf("schema property %q type must be a string", key)
	}
	if !matchesSchemaType(typeName, value) {
		return errors.Errorf("field %q must be of type %q", key, typeName)
	}
	if typeName == "object" {
		nested, _ := asObject(value)
		nestedSchema := propertySchema
		return validateAgainstSchema(nestedSchema, nested)
	}
	return nil
}

func matchesSchemaType(expected string, value any) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		return isJSONNumber(value)
	case "integer":
		switch v := value.(type) {
		case float64:
			return v == math.Trunc(v)
		case int, int32, int64:
			return true
		default:
			return false
		}
	case "object":
		_, ok := asObject(value)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	default:
		return true
	}
}

func isJSONNumber(value any) bool {
	switch value.(type) {
	case float64, float32, int, int32, int64:
		return true
	default:
		return false
	}
}

func schemaRequiredFields(raw any) ([]string, error) {
	switch value := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		return value, nil
	case []any:
		out := make([]string, 0, len(value))
		for _, item := range value {
			field, ok := item.(string)
			if !ok {
				return nil, errors.New(`schema "required" entries must be strings`)
			}
			out = append(out, field)
		}
		return out, nil
	default:
		return nil, errors.New(`schema "required" must be an array`)
	}
}

func asObject(raw any) (map[string]any, bool) {
	value, ok := raw.(map[string]any)
	if !ok || value == nil {
		return nil, false
	}
	return value, true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
