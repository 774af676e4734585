package common

import (
	"fmt"
	"strings"
)

// Exception types of the REST API.
const (
	ExceptionInvalidRequest = "InvalidRequestException"
	ExceptionProcessEngine  = "ProcessEngineException"
	ExceptionRest           = "RestException"
)

// Exception is the body of HTTP 4xx and 5xx error responses.
type Exception struct {
	Status int `json:"-"` // HTTP status code.

	Type    string  `json:"type" validate:"required"`    // Exception type - e.g. InvalidRequestException.
	Message string  `json:"message" validate:"required"` // Human-readable message.
	Code    int     `json:"code"`                        // Error code - 0, if not specified.
	Errors  []Error `json:"errors,omitempty"`            // Validation errors.
}

func (v Exception) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("HTTP %d: %s: %s", v.Status, v.Type, v.Message))

	for i := range v.Errors {
		sb.WriteRune('\n')
		sb.WriteString(v.Errors[i].String())
	}

	return sb.String()
}

// Error represents a failed validation, pointing on a JSON property.
type Error struct {
	// A pointer, locating the invalid JSON property - e.g. #/topics/0/lockDuration.
	Pointer string `json:"pointer" validate:"required"`
	// Error type.
	//
	// Values:
	//   - `gte`: value must be greater than or equal to
	//   - `lte`: value must be less than or equal to
	//   - `max`: array or map exceeds a maximum of number of items
	//   - `required`: value is required
	//   - `variable_name`: key is not a valid variable name
	Type string `json:"type" validate:"required"`
	// Human-readable, detailed information about the error.
	Detail string `json:"detail" validate:"required"`
	// Value or key that caused the validation error.
	Value string `json:"value,omitempty"`
}

func (v Error) String() string {
	return fmt.Sprintf("%s: %s", v.Pointer, v.Detail)
}
