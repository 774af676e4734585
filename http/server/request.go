package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/gclaussn/go-external-task/http/common"
	"github.com/go-playground/validator/v10"
)

var (
	RegexpVariableName = regexp.MustCompile("^[a-zA-Z0-9_.-]+$")

	validate = newValidate()
)

func newValidate() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0] // e.g. `json:"lockDuration,omitempty"` -> lockDuration
	})

	validate.RegisterValidation("variable_name", func(fl validator.FieldLevel) bool {
		return RegexpVariableName.MatchString(fl.Field().String())
	})

	return validate
}

func newInvalidRequest(status int, message string) common.Exception {
	return common.Exception{
		Status:  status,
		Type:    common.ExceptionInvalidRequest,
		Message: message,
	}
}

// decodeJSONRequestBody decodes the request body using v and validates it.
// Media type, request body or validation related errors are returned as an [common.Exception].
//
// inspired by https://www.alexedwards.net/blog/how-to-properly-parse-a-json-request-body
func decodeJSONRequestBody(w http.ResponseWriter, r *http.Request, v any) error {
	if contentType := r.Header.Get(common.HeaderContentType); contentType != "" {
		mediaType := strings.TrimSpace(strings.Split(contentType, ";")[0])
		if mediaType != common.ContentTypeJson {
			return newInvalidRequest(http.StatusUnsupportedMediaType, fmt.Sprintf("media type %s is not supported", mediaType))
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1048576) // 1mb = 1024 * 1024

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&v); err != nil {
		var (
			syntaxError        *json.SyntaxError
			unmarshalTypeError *json.UnmarshalTypeError
			maxBytesError      *http.MaxBytesError

			message string
		)

		switch {
		case errors.As(err, &syntaxError):
			message = fmt.Sprintf("malformed JSON at position %d", syntaxError.Offset)
		case errors.Is(err, io.ErrUnexpectedEOF):
			message = "unexpected end of JSON"
		case errors.As(err, &unmarshalTypeError):
			message = fmt.Sprintf("JSON field %s has an invalid value at position %d", unmarshalTypeError.Field, unmarshalTypeError.Offset)
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			fieldName := strings.TrimPrefix(err.Error(), "json: unknown field ")
			message = fmt.Sprintf("unknown JSON field %s", fieldName)
		case errors.Is(err, io.EOF):
			message = "request body is empty"
		case errors.As(err, &maxBytesError):
			message = "request body size must not exceed 1MB"
		default:
			message = fmt.Sprintf("failed to unmarshal JSON: %v", err)
		}

		return newInvalidRequest(http.StatusBadRequest, "invalid request body: "+message)
	}

	if err := validate.Struct(v); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return fmt.Errorf("failed to validate request body: %v", err)
		}

		exception := newInvalidRequest(http.StatusBadRequest, "invalid request body: failed to validate request body")
		for _, fieldError := range validationErrors {
			exception.Errors = append(exception.Errors, newError(fieldError))
		}
		return exception
	}

	return nil
}

// newError maps a field error to an error, pointing on the invalid JSON property.
func newError(fieldError validator.FieldError) common.Error {
	var (
		pointerBuilder strings.Builder
		next           rune
	)
	for _, r := range fieldError.Namespace() {
		if pointerBuilder.Len() == 0 {
			// skip until first dot
			if r == '.' {
				pointerBuilder.WriteString("#/")
			}
			continue
		}

		switch r {
		case '.':
			if next != '/' {
				next = '/'
			} else {
				next = '.'
			}
		case '[':
			next = '/'
		case ']':
			continue
		default:
			next = r
		}

		pointerBuilder.WriteRune(next)
	}

	var (
		detail string
		value  string
	)
	switch fieldError.Tag() {
	case "gte":
		detail = fmt.Sprintf("must be greater than or equal to %s", fieldError.Param())
		value = fmt.Sprintf("%d", fieldError.Value())
	case "lte":
		detail = fmt.Sprintf("must be less than or equal to %s", fieldError.Param())
		value = fmt.Sprintf("%d", fieldError.Value())
	case "max":
		detail = fmt.Sprintf("exceeds a maximum of %s", fieldError.Param())
	case "required":
		detail = "is required"
	// custom validation
	case "variable_name":
		detail = fmt.Sprintf("must match regex %s", RegexpVariableName)
		value = fmt.Sprintf("%s", fieldError.Value())
	default:
		detail = "unknown error"
		value = fmt.Sprintf("%v", fieldError.Value())
	}

	return common.Error{
		Pointer: pointerBuilder.String(),
		Type:    fieldError.Tag(),
		Detail:  detail,
		Value:   value,
	}
}

func parseId(r *http.Request) (string, error) {
	id := r.PathValue("id")
	if strings.TrimSpace(id) == "" {
		return "", newInvalidRequest(http.StatusBadRequest, "invalid path parameter id: must not be empty or blank")
	}
	return id, nil
}

func parseQueryOptions(r *http.Request) (engine.QueryOptions, error) {
	firstResult, err := parseQueryInt(r, common.QueryFirstResult)
	if err != nil {
		return engine.QueryOptions{}, err
	}

	maxResults, err := parseQueryInt(r, common.QueryMaxResults)
	if err != nil {
		return engine.QueryOptions{}, err
	}

	return engine.QueryOptions{
		Limit:  maxResults,
		Offset: firstResult,
	}, nil
}

func parseQueryInt(r *http.Request, name string) (int, error) {
	values, ok := r.URL.Query()[name]
	if !ok {
		return 0, nil
	}

	v, err := strconv.ParseInt(values[0], 10, 32)
	if err != nil {
		return 0, newInvalidRequest(http.StatusBadRequest, fmt.Sprintf("invalid query parameter %s: failed to parse value %s", name, values[0]))
	}
	if v < 0 {
		return 0, newInvalidRequest(http.StatusBadRequest, fmt.Sprintf("invalid query parameter %s: %d must be greater than or equal to 0", name, v))
	}

	return int(v), nil
}
