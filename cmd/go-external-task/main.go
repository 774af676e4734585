/*
go-external-task is a CLI for interacting with an external task engine via HTTP.

Usage:

	go-external-task [flags]
	go-external-task [command]

Available Commands:

	completion    Generate the autocompletion script for the specified shell
	external-task Manage and query external tasks
	help          Help about any command
	set-time      Set the engine's time
	version       Show version

Flags:

	    --debug              Log HTTP requests and responses
	-h, --help               help for go-external-task
	    --timeout duration   Time limit for requests made by the HTTP client (default 40s)
	    --url string         HTTP server URL - e.g. http://localhost:8080/engine-rest
	    --worker-id string   Worker ID (default "go-external-task")

Use "go-external-task [command] --help" for more information about a command.

Flags can also be set via environment variables, prefixed with GO_EXTERNAL_TASK_ - e.g. GO_EXTERNAL_TASK_URL.
An Authorization header is set via GO_EXTERNAL_TASK_AUTHORIZATION or, alternatively, basic authentication via
GO_EXTERNAL_TASK_HTTP_BASIC_AUTH_USERNAME and GO_EXTERNAL_TASK_HTTP_BASIC_AUTH_PASSWORD.
*/
package main

import (
	"os"

	"github.com/gclaussn/go-external-task/cli"
)

var (
	version = "unknown-version"
)

func main() {
	cli := cli.New(version)
	os.Exit(cli.Execute())
}
