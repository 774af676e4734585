package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/gclaussn/go-external-task/http/common"
)

func New(url string, customizers ...func(*Options)) (engine.Engine, error) {
	if url == "" {
		return nil, errors.New("URL is empty")
	}

	options := NewOptions()
	for _, customizer := range customizers {
		customizer(&options)
	}

	if err := options.Validate(); err != nil {
		return nil, err
	}

	httpClient := http.Client{}

	if options.Configure != nil {
		options.Configure(&httpClient)
	}

	client := client{
		httpClient:  &httpClient,
		url:         strings.TrimSuffix(url, "/"),
		interceptor: ComposeInterceptors(options.Interceptors...),
		options:     options,
	}

	return &client, nil
}

func NewOptions() Options {
	return Options{
		Timeout: 40 * time.Second,
	}
}

type Options struct {
	// Time limit for requests made by the HTTP client. For fetch and lock requests, the async response timeout is added.
	Timeout time.Duration

	// Interceptors, applied from left to right to every request before it is sent.
	Interceptors []Interceptor
	// OnResponse is an optional function that accepts a [*http.Response]. It is called after a HTTP response is returned.
	OnResponse func(*http.Response) error

	Configure func(*http.Client) // Optional function, used to configure the underlying HTTP client.
}

func (o Options) Validate() error {
	if o.Timeout <= 0 {
		return errors.New("timeout must be greater than 0")
	}
	return nil
}

// TransportError is returned, when a request could not be sent or no response was received - e.g. due to a network
// failure, a timeout or an interceptor that exceeded the request's timeout.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e TransportError) Unwrap() error {
	return e.Err
}

type client struct {
	httpClient  *http.Client
	url         string
	interceptor Interceptor
	options     Options
}

func (c *client) Complete(ctx context.Context, cmd engine.CompleteCmd) error {
	return c.doPost(ctx, resolve(common.PathExternalTasksComplete, cmd.Id), c.options.Timeout, cmd, nil)
}

func (c *client) CreateExternalTask(ctx context.Context, cmd engine.CreateExternalTaskCmd) (engine.ExternalTask, error) {
	var externalTask engine.ExternalTask
	if err := c.doPost(ctx, common.PathExternalTasksCreate, c.options.Timeout, cmd, &externalTask); err != nil {
		return engine.ExternalTask{}, err
	}
	return externalTask, nil
}

func (c *client) ExtendLock(ctx context.Context, cmd engine.ExtendLockCmd) error {
	return c.doPost(ctx, resolve(common.PathExternalTasksExtendLock, cmd.Id), c.options.Timeout, cmd, nil)
}

func (c *client) FetchAndLock(ctx context.Context, cmd engine.FetchAndLockCmd) ([]engine.ExternalTask, error) {
	timeout := c.options.Timeout + time.Duration(cmd.AsyncResponseTimeout)*time.Millisecond

	var externalTasks []engine.ExternalTask
	if err := c.doPost(ctx, common.PathExternalTasksFetchAndLock, timeout, cmd, &externalTasks); err != nil {
		return nil, err
	}
	return externalTasks, nil
}

func (c *client) HandleBpmnError(ctx context.Context, cmd engine.HandleBpmnErrorCmd) error {
	return c.doPost(ctx, resolve(common.PathExternalTasksBpmnError, cmd.Id), c.options.Timeout, cmd, nil)
}

func (c *client) HandleFailure(ctx context.Context, cmd engine.HandleFailureCmd) error {
	return c.doPost(ctx, resolve(common.PathExternalTasksFailure, cmd.Id), c.options.Timeout, cmd, nil)
}

func (c *client) QueryExternalTasks(ctx context.Context, criteria engine.ExternalTaskCriteria, options engine.QueryOptions) ([]engine.ExternalTask, error) {
	var results []engine.ExternalTask
	if err := c.doPost(ctx, common.PathExternalTasks+encodeQueryOptions(options), c.options.Timeout, criteria, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *client) SetTime(ctx context.Context, cmd engine.SetTimeCmd) error {
	return c.do(ctx, http.MethodPatch, common.PathTime, c.options.Timeout, cmd, nil)
}

func (c *client) Unlock(ctx context.Context, cmd engine.UnlockCmd) error {
	return c.do(ctx, http.MethodPost, resolve(common.PathExternalTasksUnlock, cmd.Id), c.options.Timeout, nil, nil)
}

func (c *client) Shutdown() {
	c.httpClient.CloseIdleConnections()
}

func (c *client) doPost(ctx context.Context, path string, timeout time.Duration, reqBody any, resBody any) error {
	return c.do(ctx, http.MethodPost, path, timeout, reqBody, resBody)
}

// do sends a request, after the interceptors have been applied.
// If reqBody is nil, the request is sent without body. If resBody is nil, the response body is discarded.
func (c *client) do(ctx context.Context, method string, path string, timeout time.Duration, reqBody any, resBody any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	header := make(http.Header)

	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to create JSON request body: %v", err)
		}

		body = bytes.NewReader(b)
		header.Set(common.HeaderContentType, common.ContentTypeJson)
	}

	config, err := c.intercept(ctx, RequestConfig{
		Method:  method,
		URL:     c.url + path,
		Header:  header,
		Timeout: timeout,
	})
	if err != nil {
		return TransportError{Method: method, Path: path, Err: err}
	}

	// zero means, the interceptors did not set a timeout
	if config.Timeout > 0 && config.Timeout < timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, config.Method, config.URL, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %v", method, err)
	}

	req.Header = config.Header

	res, err := c.httpClient.Do(req)
	if err != nil {
		return TransportError{Method: method, Path: path, Err: err}
	}

	if c.options.OnResponse != nil {
		if err := c.options.OnResponse(res); err != nil {
			res.Body.Close()
			return err
		}
	}

	return decodeJSONResponseBody(res, resBody)
}

// intercept applies the interceptors under the request's timeout context.
func (c *client) intercept(ctx context.Context, config RequestConfig) (RequestConfig, error) {
	configC := make(chan RequestConfig, 1)
	go func() {
		configC <- c.interceptor(config)
	}()

	select {
	case <-ctx.Done():
		return RequestConfig{}, fmt.Errorf("failed to apply interceptors: %w", ctx.Err())
	case config := <-configC:
		if config.Header == nil {
			config.Header = make(http.Header)
		}
		return config, nil
	}
}
