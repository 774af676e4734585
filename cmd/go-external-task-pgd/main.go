/*
go-external-task-pgd is a daemon, running a PostgreSQL based external task engine that is accessible via HTTP.

Usage:

	-env value
		set environment variables
	-env-file value
		read in a file of environment variables
	-list-conf
		list configuration
	-list-conf-opts
		list configuration options
	-version
		show version
*/
package main

import (
	"log"
	"os"

	"github.com/gclaussn/go-external-task/daemon"
)

func main() {
	log.SetOutput(os.Stdout)

	code := daemon.RunPg(os.Args[1:])
	os.Exit(code)
}
