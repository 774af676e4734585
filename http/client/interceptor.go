package client

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gclaussn/go-external-task/http/common"
)

// RequestConfig describes a HTTP request, before it is sent.
type RequestConfig struct {
	Method  string
	URL     string
	Header  http.Header
	Timeout time.Duration // Time limit for the request. An interceptor can only shorten it.
}

// Interceptor transforms the configuration of a request - e.g. to add an authorization header.
type Interceptor func(RequestConfig) RequestConfig

// ComposeInterceptors returns an interceptor, which applies the given interceptors from left to right.
func ComposeInterceptors(interceptors ...Interceptor) Interceptor {
	return func(config RequestConfig) RequestConfig {
		for _, interceptor := range interceptors {
			if interceptor != nil {
				config = interceptor(config)
			}
		}
		return config
	}
}

// BasicAuth returns an interceptor, which sets an Authorization header for basic authentication.
func BasicAuth(username string, password string) Interceptor {
	credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return Header(common.HeaderAuthorization, "Basic "+credentials)
}

// BearerToken returns an interceptor, which sets an Authorization header with the given token.
func BearerToken(token string) Interceptor {
	return Header(common.HeaderAuthorization, "Bearer "+token)
}

// Header returns an interceptor, which sets a header.
func Header(key string, value string) Interceptor {
	return func(config RequestConfig) RequestConfig {
		header := config.Header.Clone()
		if header == nil {
			header = make(http.Header)
		}
		header.Set(key, value)

		config.Header = header
		return config
	}
}
