package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/gclaussn/go-external-task/worker"
)

// mapVariables maps variable values, provided as strings, to typed variable values.
//
// If no type is specified for a variable, the type is derived from the value: a boolean, an integer, a decimal, null,
// a JSON object or array and a string otherwise.
func mapVariables(valueMap map[string]string, typeMap map[string]string) (map[string]engine.VariableValue, error) {
	for name := range typeMap {
		if _, ok := valueMap[name]; !ok {
			return nil, fmt.Errorf("variable %s: no value defined", name)
		}
	}

	variables := worker.Variables{}
	for name, value := range valueMap {
		typeName, ok := typeMap[name]
		if !ok {
			variables.Put(name, parseValue(value))
			continue
		}

		valueType, err := parseValueType(typeName)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %v", name, err)
		}

		typedValue, err := parseTypedValue(valueType, value)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %v", name, err)
		}

		variables.PutTyped(name, valueType, typedValue)
	}

	return variables.Encode()
}

func parseValue(s string) any {
	switch s {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}
	return s
}

func parseTypedValue(valueType engine.ValueType, s string) (any, error) {
	switch valueType {
	case engine.ValueBoolean:
		return strconv.ParseBool(s)
	case engine.ValueDate:
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			t, err = time.Parse(engine.TimeLayout, s)
		}
		return t, err
	case engine.ValueDouble:
		return strconv.ParseFloat(s, 64)
	case engine.ValueInteger:
		i, err := strconv.ParseInt(s, 10, 32)
		return int32(i), err
	case engine.ValueLong:
		return strconv.ParseInt(s, 10, 64)
	case engine.ValueNull:
		return nil, nil
	case engine.ValueJson, engine.ValueObject:
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("invalid JSON value: %v", err)
		}
		return v, nil
	default:
		return s, nil
	}
}
