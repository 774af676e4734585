package daemon

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/gclaussn/go-external-task/http/server"
)

const (
	envPrefix = "GO_EXTERNAL_TASK_"

	optDefaultQueryLimit    = "DEFAULT_QUERY_LIMIT"
	optEngineId             = "ENGINE_ID"
	optLongPollingInterval  = "LONG_POLLING_INTERVAL"
	optMaxAsyncResponseTime = "MAX_ASYNC_RESPONSE_TIME"

	optHttpBasicAuthPassword = "HTTP_BASIC_AUTH_PASSWORD"
	optHttpBasicAuthUsername = "HTTP_BASIC_AUTH_USERNAME"
	optHttpBindAddress       = "HTTP_BIND_ADDRESS"
	optHttpHandlerTimeout    = "HTTP_HANDLER_TIMEOUT"
	optHttpReadTimeout       = "HTTP_READ_TIMEOUT"
	optHttpWriteTimeout      = "HTTP_WRITE_TIMEOUT"
	optMetricsEnabled        = "METRICS_ENABLED"
	optSetTimeEnabled        = "SET_TIME_ENABLED"
)

var (
	version = "unknown-version"
)

// newEngineOptions returns the common engine options, used by the daemons. The max async response time is limited to a
// minute, since long polling requests must be answered before the HTTP handler times out.
func newEngineOptions(options engine.Options) engine.Options {
	options.MaxAsyncResponseTime = time.Minute
	return options
}

func newConf() *conf {
	env := env{}
	for _, value := range os.Environ() {
		env.Set(value)
	}

	conf := conf{
		envFile: envFile{env},
		opts:    make(map[string]*confOpt),
	}

	conf.addEngineOption(
		optDefaultQueryLimit,
		"limit for queries, executed without an explicit limit",
		func(o engine.Options) string {
			return strconv.Itoa(o.DefaultQueryLimit)
		},
		func(o *engine.Options, co *confOpt) error {
			defaultQueryLimit, err := strconv.ParseInt(co.value(), 10, 32)
			o.DefaultQueryLimit = int(defaultQueryLimit)
			return err
		},
	)
	conf.addEngineOption(
		optEngineId,
		"ID of the engine",
		func(o engine.Options) string {
			return o.EngineId
		},
		func(o *engine.Options, co *confOpt) error {
			engineId := co.value()
			if engineId == "" {
				return errors.New("is empty")
			}

			o.EngineId = engineId
			return nil
		},
	)
	conf.addEngineOption(
		optLongPollingInterval,
		"interval for rechecking available external tasks, while a fetch and lock request waits",
		func(o engine.Options) string {
			return o.LongPollingInterval.String()
		},
		func(o *engine.Options, co *confOpt) error {
			longPollingInterval, err := time.ParseDuration(co.value())
			o.LongPollingInterval = longPollingInterval
			return err
		},
	)
	conf.addEngineOption(
		optMaxAsyncResponseTime,
		"upper bound for the async response timeout of fetch and lock requests - must be less than "+envPrefix+optHttpHandlerTimeout,
		func(o engine.Options) string {
			return o.MaxAsyncResponseTime.String()
		},
		func(o *engine.Options, co *confOpt) error {
			maxAsyncResponseTime, err := time.ParseDuration(co.value())
			o.MaxAsyncResponseTime = maxAsyncResponseTime
			return err
		},
	)

	conf.addServerOption(
		optHttpBasicAuthUsername,
		"username for basic authentication - if empty, authentication is disabled",
		func(o server.Options) string {
			return ""
		},
		func(o *server.Options, co *confOpt) error {
			o.BasicAuthUsername = co.value()
			return nil
		},
	)
	conf.addServerOption(
		optHttpBasicAuthPassword,
		"password for basic authentication",
		func(o server.Options) string {
			return ""
		},
		func(o *server.Options, co *confOpt) error {
			password := co.value()
			if password == "" && conf.opts[optHttpBasicAuthUsername].value() != "" {
				return errors.New("is empty")
			}

			o.BasicAuthPassword = password
			return nil
		},
	)
	conf.addServerOption(
		optHttpBindAddress,
		"TCP address of the engine's HTTP API to listen on",
		func(o server.Options) string {
			return o.BindAddress
		},
		func(o *server.Options, co *confOpt) error {
			bindAddress := co.value()
			if bindAddress == "" {
				return errors.New("is empty")
			}

			o.BindAddress = bindAddress
			return nil
		},
	)
	conf.addServerOption(
		optHttpHandlerTimeout,
		"time limit for HTTP handlers, including long polling",
		func(o server.Options) string {
			return o.HandlerTimeout.String()
		},
		func(o *server.Options, co *confOpt) error {
			handlerTimeout, err := time.ParseDuration(co.value())
			o.HandlerTimeout = handlerTimeout
			return err
		},
	)
	conf.addServerOption(
		optHttpReadTimeout,
		"maximum duration for reading the entire request - see http.Server#ReadTimeout",
		func(o server.Options) string {
			return o.ReadTimeout.String()
		},
		func(o *server.Options, co *confOpt) error {
			readTimeout, err := time.ParseDuration(co.value())
			o.ReadTimeout = readTimeout
			return err
		},
	)
	conf.addServerOption(
		optHttpWriteTimeout,
		"maximum duration before timing out writing the response - see http.Server#WriteTimeout",
		func(o server.Options) string {
			return o.WriteTimeout.String()
		},
		func(o *server.Options, co *confOpt) error {
			writeTimeout, err := time.ParseDuration(co.value())
			o.WriteTimeout = writeTimeout
			return err
		},
	)
	conf.addServerOption(
		optMetricsEnabled,
		"enable or disable HTTP request metrics, exposed in Prometheus format at /metrics",
		func(o server.Options) string {
			return strconv.FormatBool(o.MetricsEnabled)
		},
		func(o *server.Options, co *confOpt) error {
			metricsEnabled, err := strconv.ParseBool(co.value())
			o.MetricsEnabled = metricsEnabled
			return err
		},
	)
	conf.addServerOption(
		optSetTimeEnabled,
		"enable or disable the setTime operation",
		func(o server.Options) string {
			return strconv.FormatBool(o.SetTimeEnabled)
		},
		func(o *server.Options, co *confOpt) error {
			setTimeEnabled, err := strconv.ParseBool(co.value())
			o.SetTimeEnabled = setTimeEnabled
			return err
		},
	)

	return &conf
}

// parseFlags parses the common daemon flags. If the returned code is not -1, the daemon must exit with it.
func parseFlags(name string, conf *conf, args []string) int {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(log.Writer())

	flags.Var(&conf.envFile.env, "env", "set environment variables")
	flags.Var(&conf.envFile, "env-file", "read in a file of environment variables")

	var doListConfOpts bool
	flags.BoolVar(&doListConfOpts, "list-conf-opts", false, "list configuration options")
	var doListConf bool
	flags.BoolVar(&doListConf, "list-conf", false, "list configuration")
	var doVersion bool
	flags.BoolVar(&doVersion, "version", false, "show version")

	if err := flags.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		} else {
			return 1
		}
	}

	if doListConfOpts {
		return listConfOpts(conf)
	}
	if doListConf {
		return listConf(conf)
	}
	if doVersion {
		return showVersion()
	}

	return -1
}

// serve serves the engine via HTTP, until an interrupt or termination signal is received.
func serve(e engine.Engine, serverOptions server.Options) int {
	s, err := server.New(e, func(o *server.Options) {
		*o = serverOptions
	})
	if err != nil {
		log.Printf("failed to create HTTP server: %v", err)
		return 1
	}

	s.ListenAndServe()

	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGTERM)

	<-signalC

	s.Shutdown()
	log.Println("engine shut down")

	return 0
}

func listConf(conf *conf) int {
	opts := conf.sortedOpts()

	log.SetFlags(0)
	for _, opt := range opts {
		log.Printf("%s=%s", opt.key, opt.value())
	}

	return 0
}

func listConfErrors(conf *conf) int {
	var opts []*confOpt
	for _, opt := range conf.sortedOpts() {
		if opt.err != nil {
			opts = append(opts, opt)
		}
	}

	if len(opts) == 0 {
		return 0
	}

	log.SetFlags(0)
	for _, opt := range opts {
		value := opt.value()
		if value == "" {
			log.Printf("%s: %v", opt.key, opt.err)
		} else {
			log.Printf("%s=%s: %v", opt.key, value, opt.err)
		}
	}

	return 1
}

func listConfOpts(conf *conf) int {
	opts := conf.sortedOpts()

	maxKeyLength := 0
	for _, opt := range opts {
		keyLength := len(opt.key)
		if opt.required {
			keyLength++
		}

		if keyLength > maxKeyLength {
			maxKeyLength = keyLength
		}
	}

	var sb strings.Builder
	for _, opt := range opts {
		sb.WriteString(opt.key)

		l := len(opt.key)
		if opt.required {
			sb.WriteRune('*')
			l++
		}

		sb.WriteString(strings.Repeat(" ", maxKeyLength-l))
		sb.WriteString("   ")
		sb.WriteString(opt.description)

		if opt.defaultValue != "" {
			sb.WriteString(fmt.Sprintf(" - default: %s", opt.defaultValue))
		}

		sb.WriteRune('\n')
	}

	log.SetFlags(0)
	log.Print(sb.String())

	return 0
}

func showVersion() int {
	log.Println(version)
	return 0
}

type conf struct {
	envFile envFile
	opts    map[string]*confOpt
}

func (c *conf) addEngineOption(
	key string,
	description string,
	getOption func(engine.Options) string,
	setOption func(*engine.Options, *confOpt) error,
) *confOpt {
	co := confOpt{
		env:         c.envFile.env,
		key:         envPrefix + key,
		description: description,

		getEngineOption: getOption,
		setEngineOption: setOption,
	}

	c.opts[key] = &co
	return &co
}

func (c *conf) addOption(key string, description string) *confOpt {
	co := confOpt{
		env:         c.envFile.env,
		key:         envPrefix + key,
		description: description,
	}

	c.opts[key] = &co
	return &co
}

func (c *conf) addServerOption(
	key string,
	description string,
	getOption func(server.Options) string,
	setOption func(*server.Options, *confOpt) error,
) *confOpt {
	co := confOpt{
		env:         c.envFile.env,
		key:         envPrefix + key,
		description: description,

		getServerOption: getOption,
		setServerOption: setOption,
	}

	c.opts[key] = &co
	return &co
}

func (c *conf) getEngineOptions(options *engine.Options) {
	for _, opt := range c.opts {
		if opt.setEngineOption != nil {
			if err := opt.setEngineOption(options, opt); err != nil {
				opt.err = err
			}
		}
	}
}

func (c *conf) getServerOptions(options *server.Options) {
	for _, opt := range c.opts {
		if opt.setServerOption != nil {
			if err := opt.setServerOption(options, opt); err != nil {
				opt.err = err
			}
		}
	}
}

func (c *conf) setEngineOptions(options engine.Options) {
	for _, opt := range c.opts {
		if opt.getEngineOption != nil {
			opt.defaultValue = opt.getEngineOption(options)
		}
	}
}

func (c *conf) setServerOptions(options server.Options) {
	for _, opt := range c.opts {
		if opt.getServerOption != nil {
			opt.defaultValue = opt.getServerOption(options)
		}
	}
}

func (c *conf) sortedOpts() []*confOpt {
	opts := make([]*confOpt, 0, len(c.opts))
	for _, opt := range c.opts {
		opts = append(opts, opt)
	}

	slices.SortFunc(opts, func(a *confOpt, b *confOpt) int {
		return strings.Compare(a.key, b.key)
	})

	return opts
}

type confOpt struct {
	env env

	key          string
	description  string
	required     bool
	defaultValue string

	getEngineOption func(engine.Options) string
	getServerOption func(server.Options) string
	setEngineOption func(*engine.Options, *confOpt) error
	setServerOption func(*server.Options, *confOpt) error

	err error
}

func (o *confOpt) value() string {
	value := o.env[o.key]
	if value != "" {
		return value
	} else {
		return o.defaultValue
	}
}

type env map[string]string

func (v env) Set(value string) error {
	s := strings.SplitN(value, "=", 2)
	if len(s) != 2 {
		return fmt.Errorf("required format %s", v)
	}
	v[s[0]] = s[1]
	return nil
}

func (v env) String() string {
	return "<key>=<value>"
}

type envFile struct {
	env env
}

func (v envFile) Set(value string) error {
	file, err := os.Open(value)
	if err != nil {
		return err
	}

	defer file.Close()

	scanner := bufio.NewScanner(file)

	i := 0
	for scanner.Scan() {
		i++
		line := scanner.Text()
		if err := v.env.Set(line); err != nil {
			return fmt.Errorf("wrong format in line %d: required format %s", i, v.env)
		}
	}

	return nil
}

func (v envFile) String() string {
	return "<file>"
}
