package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/gclaussn/go-external-task/http/client"
	"github.com/gclaussn/go-external-task/http/common"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	envLookupAllowed = "envLookupAllowed" // flag level annotation that allows an environment variable lookup
	envPrefix        = "GO_EXTERNAL_TASK_"
	noEngineRequired = "noEngineRequired" // annotation, indicating that no engine is required to run the command
	program          = "go-external-task"

	envAuthorization         = envPrefix + "AUTHORIZATION"
	envHttpBasicAuthUsername = envPrefix + "HTTP_BASIC_AUTH_USERNAME"
	envHttpBasicAuthPassword = envPrefix + "HTTP_BASIC_AUTH_PASSWORD"
)

func New(version string) *Cli {
	cli := Cli{version: version}

	cli.rootCmd = newRootCmd(&cli)

	return &cli
}

type Cli struct {
	version string

	rootCmd *cobra.Command

	e            engine.Engine
	debugEnabled bool
	workerId     string
}

func (c *Cli) Execute() int {
	if err := c.rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func (c *Cli) help(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}

func newRootCmd(cli *Cli) *cobra.Command {
	var (
		url     string
		timeout time.Duration
	)

	c := cobra.Command{
		Use:   program,
		Short: "A client for external task HTTP servers",
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			c.SilenceUsage = true

			if _, ok := c.Annotations[noEngineRequired]; ok {
				return nil
			}

			if cli.e != nil {
				return nil // skip client creation when testing
			}

			c.Flags().VisitAll(func(f *pflag.Flag) {
				if f.Changed {
					return
				}
				if _, ok := f.Annotations[envLookupAllowed]; !ok {
					return
				}

				// e.g. worker-id -> GO_EXTERNAL_TASK_WORKER_ID
				key := envPrefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")

				if value, ok := os.LookupEnv(key); ok {
					f.Value.Set(value)
				}
			})

			var interceptors []client.Interceptor
			if authorization := os.Getenv(envAuthorization); authorization != "" {
				interceptors = append(interceptors, client.Header(common.HeaderAuthorization, authorization))
			} else if username := os.Getenv(envHttpBasicAuthUsername); username != "" {
				interceptors = append(interceptors, client.BasicAuth(username, os.Getenv(envHttpBasicAuthPassword)))
			}

			if cli.debugEnabled {
				interceptors = append(interceptors, debugRequest)
			}

			e, err := client.New(url, func(o *client.Options) {
				o.Interceptors = interceptors
				o.Timeout = timeout

				if cli.debugEnabled {
					o.OnResponse = debugResponse
				}
			})
			if err != nil {
				return fmt.Errorf("failed to create HTTP client: %v", err)
			}

			cli.e = e
			return nil
		},
		RunE: cli.help,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if cli.e != nil {
				cli.e.Shutdown()
			}
		},
		Annotations: map[string]string{noEngineRequired: ""},
	}

	c.PersistentFlags().StringVar(&url, "url", "", "HTTP server URL - e.g. http://localhost:8080/engine-rest")
	c.PersistentFlags().StringVar(&cli.workerId, "worker-id", program, "Worker ID")
	c.PersistentFlags().DurationVar(&timeout, "timeout", 40*time.Second, "Time limit for requests made by the HTTP client")
	c.PersistentFlags().BoolVar(&cli.debugEnabled, "debug", false, "Log HTTP requests and responses")

	c.PersistentFlags().SetAnnotation("url", envLookupAllowed, nil)
	c.PersistentFlags().SetAnnotation("worker-id", envLookupAllowed, nil)
	c.PersistentFlags().SetAnnotation("timeout", envLookupAllowed, nil)
	c.PersistentFlags().SetAnnotation("debug", envLookupAllowed, nil)

	c.AddCommand(newExternalTaskCmd(cli))
	c.AddCommand(newSetTimeCmd(cli))
	c.AddCommand(newVersionCmd(cli))

	return &c
}

func newSetTimeCmd(cli *Cli) *cobra.Command {
	var (
		timeV timeValue

		cmd engine.SetTimeCmd
	)

	c := cobra.Command{
		Use:   "set-time",
		Short: "Set the engine's time",
		RunE: func(c *cobra.Command, _ []string) error {
			cmd.Time = time.Time(timeV)

			return cli.e.SetTime(context.Background(), cmd)
		},
	}

	c.Flags().Var(&timeV, "time", "A future point in time")

	c.MarkFlagRequired("time")

	return &c
}

func newVersionCmd(cli *Cli) *cobra.Command {
	c := cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(c *cobra.Command, _ []string) {
			c.Println(cli.version)
		},
		Annotations: map[string]string{noEngineRequired: ""},
	}

	return &c
}

func debugRequest(config client.RequestConfig) client.RequestConfig {
	log.Printf("%s %s", config.Method, config.URL)
	return config
}

func debugResponse(res *http.Response) error {
	log.Printf("status code: %d", res.StatusCode)

	log.Println("response headers:")
	for name, values := range res.Header {
		log.Printf("%s: %s", name, strings.Join(values, ", "))
	}

	resBody := res.Body
	defer resBody.Close()

	b, err := io.ReadAll(resBody)
	if err != nil {
		log.Printf("failed to read response body: %v", err)
		return err
	}

	res.Body = io.NopCloser(bytes.NewReader(b)) // make body readable again

	if len(b) == 0 {
		return nil
	}

	resBodyStr := string(b)
	if strings.HasPrefix(res.Header.Get(common.HeaderContentType), common.ContentTypeJson) {
		buf := &bytes.Buffer{}
		if err := json.Indent(buf, b, "", "  "); err == nil {
			resBodyStr = buf.String()
		}
	}

	log.Printf("response body:\n%s", resBodyStr)
	return nil
}
