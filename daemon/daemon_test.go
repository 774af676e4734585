package daemon

import (
	"bytes"
	"log"
	"testing"
	"time"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/gclaussn/go-external-task/http/server"
	"github.com/stretchr/testify/assert"
)

func TestConf(t *testing.T) {
	assert := assert.New(t)

	t.Run("get engine options", func(t *testing.T) {
		conf := newConf()
		conf.opts[optDefaultQueryLimit].defaultValue = "500"
		conf.opts[optEngineId].defaultValue = "engine-id"
		conf.opts[optLongPollingInterval].defaultValue = (250 * time.Millisecond).String()
		conf.opts[optMaxAsyncResponseTime].defaultValue = "45s"

		var options engine.Options
		conf.getEngineOptions(&options)

		assert.Equal(500, options.DefaultQueryLimit)
		assert.Equal("engine-id", options.EngineId)
		assert.Equal(250*time.Millisecond, options.LongPollingInterval)
		assert.Equal(45*time.Second, options.MaxAsyncResponseTime)

		assert.Equal(0, listConfErrors(conf))
	})

	t.Run("get engine options when values are invalid", func(t *testing.T) {
		conf := newConf()
		conf.opts[optDefaultQueryLimit].defaultValue = "invalid-default-query-limit"
		conf.opts[optEngineId].defaultValue = ""
		conf.opts[optLongPollingInterval].defaultValue = "invalid-long-polling-interval"
		conf.opts[optMaxAsyncResponseTime].defaultValue = "invalid-max-async-response-time"

		conf.getEngineOptions(&engine.Options{})

		assert.NotNil(conf.opts[optDefaultQueryLimit].err)
		assert.NotNil(conf.opts[optEngineId].err)
		assert.NotNil(conf.opts[optLongPollingInterval].err)
		assert.NotNil(conf.opts[optMaxAsyncResponseTime].err)

		buffer := bytes.NewBufferString("")
		log.SetOutput(buffer)

		assert.Equal(1, listConfErrors(conf))

		assert.Contains(buffer.String(), "GO_EXTERNAL_TASK_DEFAULT_QUERY_LIMIT=invalid-default-query-limit: ")
		assert.Contains(buffer.String(), "GO_EXTERNAL_TASK_ENGINE_ID: ")
		assert.Contains(buffer.String(), "GO_EXTERNAL_TASK_LONG_POLLING_INTERVAL=invalid-long-polling-interval: ")
		assert.Contains(buffer.String(), "GO_EXTERNAL_TASK_MAX_ASYNC_RESPONSE_TIME=invalid-max-async-response-time: ")
	})

	t.Run("get server options", func(t *testing.T) {
		conf := newConf()
		conf.opts[optHttpBasicAuthUsername].defaultValue = "test-username"
		conf.opts[optHttpBasicAuthPassword].defaultValue = "test-password"
		conf.opts[optHttpBindAddress].defaultValue = "192.168.0.10:8080"
		conf.opts[optHttpHandlerTimeout].defaultValue = "75s"
		conf.opts[optHttpReadTimeout].defaultValue = "5s"
		conf.opts[optHttpWriteTimeout].defaultValue = "80s"
		conf.opts[optMetricsEnabled].defaultValue = "true"
		conf.opts[optSetTimeEnabled].defaultValue = "true"

		var options server.Options
		conf.getServerOptions(&options)

		assert.Equal("test-username", options.BasicAuthUsername)
		assert.Equal("test-password", options.BasicAuthPassword)
		assert.Equal("192.168.0.10:8080", options.BindAddress)
		assert.Equal(75*time.Second, options.HandlerTimeout)
		assert.Equal(5*time.Second, options.ReadTimeout)
		assert.Equal(80*time.Second, options.WriteTimeout)
		assert.True(options.MetricsEnabled)
		assert.True(options.SetTimeEnabled)

		assert.Equal(0, listConfErrors(conf))
	})

	t.Run("get server options without basic auth", func(t *testing.T) {
		conf := newConf()
		conf.setServerOptions(server.NewOptions())

		var options server.Options
		conf.getServerOptions(&options)

		assert.Empty(options.BasicAuthUsername)
		assert.Empty(options.BasicAuthPassword)

		assert.Equal(0, listConfErrors(conf))
	})

	t.Run("get server options when values are invalid", func(t *testing.T) {
		conf := newConf()
		conf.opts[optHttpBasicAuthUsername].defaultValue = "test-username"
		conf.opts[optHttpBindAddress].defaultValue = ""
		conf.opts[optMetricsEnabled].defaultValue = "invalid"
		conf.opts[optSetTimeEnabled].defaultValue = "invalid"

		conf.getServerOptions(&server.Options{})

		assert.NotNil(conf.opts[optHttpBasicAuthPassword].err)
		assert.NotNil(conf.opts[optHttpBindAddress].err)
		assert.NotNil(conf.opts[optHttpHandlerTimeout].err)
		assert.NotNil(conf.opts[optMetricsEnabled].err)
		assert.NotNil(conf.opts[optSetTimeEnabled].err)

		buffer := bytes.NewBufferString("")
		log.SetOutput(buffer)

		assert.Equal(1, listConfErrors(conf))

		assert.Contains(buffer.String(), "GO_EXTERNAL_TASK_HTTP_BASIC_AUTH_PASSWORD: is empty")
		assert.Contains(buffer.String(), "GO_EXTERNAL_TASK_HTTP_BIND_ADDRESS: ")
		assert.Contains(buffer.String(), "GO_EXTERNAL_TASK_HTTP_HANDLER_TIMEOUT: ")
		assert.Contains(buffer.String(), "GO_EXTERNAL_TASK_HTTP_READ_TIMEOUT: ")
		assert.Contains(buffer.String(), "GO_EXTERNAL_TASK_HTTP_WRITE_TIMEOUT: ")
		assert.Contains(buffer.String(), "GO_EXTERNAL_TASK_METRICS_ENABLED=invalid: ")
		assert.Contains(buffer.String(), "GO_EXTERNAL_TASK_SET_TIME_ENABLED=invalid: ")
	})
}

func TestNewEngineOptions(t *testing.T) {
	// given
	serverOptions := server.NewOptions()

	// when
	options := newEngineOptions(engine.Options{EngineId: "test-engine"})

	// then
	assert.Equal(t, "test-engine", options.EngineId)
	assert.Equal(t, time.Minute, options.MaxAsyncResponseTime)
	assert.True(t, options.MaxAsyncResponseTime < serverOptions.HandlerTimeout)
}
