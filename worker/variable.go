package worker

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/gclaussn/go-external-task/engine"
)

// Variable is a typed variable. If the type is empty, it is derived from the value when the variable is encoded.
type Variable struct {
	Name      string
	Type      engine.ValueType
	Value     any // Go value or, if fetched from an engine, the raw JSON value.
	ValueInfo map[string]any
}

// Decode decodes the variable's value into v.
//
// Json and Object values, which are serialized as a JSON string, are decoded from the serialized value.
// Date values are decoded into a [time.Time], when v is a *time.Time.
func (v Variable) Decode(value any) error {
	raw, ok := v.Value.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(v.Value)
		if err != nil {
			return fmt.Errorf("failed to encode variable %s: %v", v.Name, err)
		}
		raw = b
	}

	switch v.Type {
	case engine.ValueJson, engine.ValueObject:
		var serialized string
		if err := json.Unmarshal(raw, &serialized); err == nil {
			raw = json.RawMessage(serialized)
		}
	case engine.ValueDate:
		if t, ok := value.(*time.Time); ok {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("failed to decode variable %s: %v", v.Name, err)
			}

			var engineTime engine.Time
			if err := engineTime.UnmarshalJSON([]byte(fmt.Sprintf("%q", s))); err != nil {
				return fmt.Errorf("failed to decode variable %s: %v", v.Name, err)
			}

			*t = time.Time(engineTime)
			return nil
		}
	}

	if err := json.Unmarshal(raw, value); err != nil {
		return fmt.Errorf("failed to decode variable %s: %v", v.Name, err)
	}
	return nil
}

// Variables is used to get and set typed variables of an external task.
type Variables map[string]Variable

// NewVariables creates variables from the typed variable values of a fetched external task.
func NewVariables(values map[string]engine.VariableValue) Variables {
	variables := make(Variables, len(values))
	for name, value := range values {
		variables[name] = Variable{
			Name:      name,
			Type:      value.Type,
			Value:     value.Value,
			ValueInfo: value.ValueInfo,
		}
	}
	return variables
}

// Decode decodes the value of a named variable into value.
func (v Variables) Decode(name string, value any) error {
	variable, ok := v[name]
	if !ok {
		return fmt.Errorf("variable %s does not exist", name)
	}
	return variable.Decode(value)
}

// Put sets a variable, whose type is derived from the value.
func (v Variables) Put(name string, value any) {
	if name != "" {
		v[name] = Variable{Name: name, Value: value}
	}
}

// PutTyped sets a variable with an explicit type - e.g. to set an Object variable.
func (v Variables) PutTyped(name string, valueType engine.ValueType, value any) {
	if name != "" {
		v[name] = Variable{Name: name, Type: valueType, Value: value}
	}
}

func (v Variables) Set(variable Variable) {
	if variable.Name != "" {
		v[variable.Name] = variable
	}
}

// Encode encodes the variables to typed variable values, as expected by an engine.
func (v Variables) Encode() (map[string]engine.VariableValue, error) {
	return encodeVariables(v)
}

func encodeVariables(variables Variables) (map[string]engine.VariableValue, error) {
	if len(variables) == 0 {
		return nil, nil
	}

	values := make(map[string]engine.VariableValue, len(variables))
	for name, variable := range variables {
		value, err := encodeVariable(variable)
		if err != nil {
			return nil, fmt.Errorf("failed to encode variable %s: %v", name, err)
		}
		values[name] = value
	}

	return values, nil
}

func encodeVariable(variable Variable) (engine.VariableValue, error) {
	valueType := variable.Type
	if valueType == "" {
		valueType = valueTypeOf(variable.Value)
	}

	value := variable.Value
	valueInfo := variable.ValueInfo

	if raw, ok := value.(json.RawMessage); ok {
		return engine.VariableValue{Type: valueType, Value: raw, ValueInfo: valueInfo}, nil
	}

	switch valueType {
	case engine.ValueDate:
		switch t := value.(type) {
		case time.Time:
			value = engine.Time(t).String()
		case *time.Time:
			value = engine.Time(*t).String()
		}
	case engine.ValueJson, engine.ValueObject:
		if _, ok := value.(string); !ok {
			b, err := json.Marshal(value)
			if err != nil {
				return engine.VariableValue{}, err
			}
			value = string(b)
		}

		if valueType == engine.ValueObject && valueInfo == nil {
			valueInfo = map[string]any{
				"objectTypeName":          fmt.Sprintf("%T", variable.Value),
				"serializationDataFormat": "application/json",
			}
		}
	case engine.ValueNull:
		value = nil
	}

	b, err := json.Marshal(value)
	if err != nil {
		return engine.VariableValue{}, err
	}

	return engine.VariableValue{Type: valueType, Value: b, ValueInfo: valueInfo}, nil
}

func valueTypeOf(value any) engine.ValueType {
	switch v := value.(type) {
	case nil:
		return engine.ValueNull
	case string:
		return engine.ValueString
	case bool:
		return engine.ValueBoolean
	case int8, int16, int32, uint8, uint16:
		return engine.ValueInteger
	case int:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return engine.ValueInteger
		}
		return engine.ValueLong
	case int64, uint32:
		return engine.ValueLong
	case float32, float64:
		return engine.ValueDouble
	case time.Time, *time.Time:
		return engine.ValueDate
	default:
		return engine.ValueJson
	}
}
