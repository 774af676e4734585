package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/gclaussn/go-external-task/http/common"
)

// newException maps an error to an exception.
//
// Engine errors are mapped as follows:
//   - validation: HTTP 400 InvalidRequestException
//   - not found: HTTP 404 InvalidRequestException
//   - conflict: HTTP 500 ProcessEngineException (e.g. task is not locked or locked by another worker)
//   - any other error: HTTP 500 RestException
func newException(err error) (common.Exception, bool) {
	var exception common.Exception
	if errors.As(err, &exception) {
		return exception, true
	}

	var engineErr engine.Error
	if !errors.As(err, &engineErr) {
		return common.Exception{
			Status:  http.StatusInternalServerError,
			Type:    common.ExceptionRest,
			Message: "unexpected error occurred: see server logs",
		}, false
	}

	exception = common.Exception{Message: engineErr.Title + ": " + engineErr.Detail}

	switch engineErr.Type {
	case engine.ErrorValidation:
		exception.Status = http.StatusBadRequest
		exception.Type = common.ExceptionInvalidRequest
	case engine.ErrorNotFound:
		exception.Status = http.StatusNotFound
		exception.Type = common.ExceptionInvalidRequest
	case engine.ErrorConflict:
		exception.Status = http.StatusInternalServerError
		exception.Type = common.ExceptionProcessEngine
	default:
		exception.Status = http.StatusInternalServerError
		exception.Type = common.ExceptionRest
	}

	return exception, true
}

func encodeJSONExceptionResponseBody(w http.ResponseWriter, r *http.Request, err error) {
	exception, ok := newException(err)
	if !ok {
		log.Printf("%s %s: unexpected error occurred: %v", r.Method, r.RequestURI, err)
	}

	w.Header().Set(common.HeaderContentType, common.ContentTypeJson)
	w.WriteHeader(exception.Status)

	if err := json.NewEncoder(w).Encode(exception); err != nil {
		log.Printf("%s %s: failed to create JSON exception response body: %v", r.Method, r.RequestURI, err)
	}
}

func encodeJSONResponseBody(w http.ResponseWriter, r *http.Request, v any, statusCode int) {
	w.Header().Set(common.HeaderContentType, common.ContentTypeJson)
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("%s %s: failed to create JSON response body: %v", r.Method, r.RequestURI, err)
	}
}
