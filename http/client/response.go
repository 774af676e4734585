package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/gclaussn/go-external-task/http/common"
)

func decodeJSONResponseBody(res *http.Response, v any) error {
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return decodeException(res)
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode JSON response body: %v", err)
	}

	return nil
}

// decodeException maps an error response to an [engine.Error].
//
// Mapping:
//   - HTTP 400: validation
//   - HTTP 404: not found
//   - HTTP 409 or HTTP 500 ProcessEngineException: conflict (e.g. task is not locked by the worker)
//   - any other status: bug
func decodeException(res *http.Response) error {
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%s %s: HTTP %d: %v", res.Request.Method, res.Request.URL.Path, res.StatusCode, err)
	}

	exception := common.Exception{Status: res.StatusCode}

	contentType := res.Header.Get(common.HeaderContentType)
	if strings.HasPrefix(contentType, common.ContentTypeJson) && len(b) != 0 {
		if err := json.Unmarshal(b, &exception); err != nil {
			return fmt.Errorf("%s %s: HTTP %d: failed to decode JSON exception response body: %v", res.Request.Method, res.Request.URL.Path, res.StatusCode, err)
		}
	} else {
		exception.Message = strings.TrimSpace(string(b))
	}

	var errorType engine.ErrorType
	switch {
	case res.StatusCode == http.StatusBadRequest:
		errorType = engine.ErrorValidation
	case res.StatusCode == http.StatusNotFound:
		errorType = engine.ErrorNotFound
	case res.StatusCode == http.StatusConflict:
		errorType = engine.ErrorConflict
	case res.StatusCode == http.StatusInternalServerError && exception.Type == common.ExceptionProcessEngine:
		errorType = engine.ErrorConflict
	default:
		errorType = engine.ErrorBug
	}

	title, detail, ok := strings.Cut(exception.Message, ": ")
	if !ok {
		title = fmt.Sprintf("%s %s: HTTP %d", res.Request.Method, res.Request.URL.Path, res.StatusCode)
		detail = exception.Message
	}

	for i := range exception.Errors {
		detail = detail + "; " + exception.Errors[i].String()
	}

	return engine.Error{
		Type:   errorType,
		Title:  title,
		Detail: detail,
	}
}
