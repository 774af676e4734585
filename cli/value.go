package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gclaussn/go-external-task/engine"
)

// retriesValue is a custom flag value for optional retries. If not set, the engine keeps the current retries.
type retriesValue struct {
	retries *int
}

func (v *retriesValue) Set(s string) error {
	retries, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid retries %s", s)
	}
	if retries < 0 {
		return fmt.Errorf("retries %d must be greater than or equal to 0", retries)
	}

	v.retries = &retries
	return nil
}

func (v retriesValue) String() string {
	if v.retries == nil {
		return ""
	}
	return strconv.Itoa(*v.retries)
}

func (v retriesValue) Type() string {
	return "int"
}

type timeValue time.Time

func (v *timeValue) Set(s string) error {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}

	*v = timeValue(t)
	return nil
}

func (v timeValue) String() string {
	if time.Time(v).IsZero() {
		return ""
	}
	return time.Time(v).Format(time.RFC3339)
}

func (v timeValue) Type() string {
	return "time"
}

// valueTypeValue is a custom flag value for the type of a variable value.
type valueTypeValue engine.ValueType

func (v *valueTypeValue) Set(s string) error {
	valueType, err := parseValueType(s)
	if err != nil {
		return err
	}

	*v = valueTypeValue(valueType)
	return nil
}

func (v valueTypeValue) String() string {
	return string(v)
}

func (v valueTypeValue) Type() string {
	return "valueType"
}

func parseValueType(s string) (engine.ValueType, error) {
	switch valueType := engine.ValueType(s); valueType {
	case engine.ValueBoolean,
		engine.ValueDate,
		engine.ValueDouble,
		engine.ValueInteger,
		engine.ValueJson,
		engine.ValueLong,
		engine.ValueNull,
		engine.ValueObject,
		engine.ValueString:
		return valueType, nil
	default:
		return "", fmt.Errorf("invalid value type %s", s)
	}
}
