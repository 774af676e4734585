package daemon

import (
	"errors"
	"log"
	"time"

	"github.com/gclaussn/go-external-task/engine/pg"
	"github.com/gclaussn/go-external-task/http/server"
)

const (
	optPgDatabaseUrl = "PG_DATABASE_URL"
	optPgTimeout     = "PG_TIMEOUT"
)

func RunPg(args []string) int {
	engineOptions := pg.NewOptions()
	engineOptions.Common = newEngineOptions(engineOptions.Common)
	serverOptions := server.NewOptions()

	conf := newConf()

	pgDatabaseUrl := conf.addOption(optPgDatabaseUrl, "format: postgres://<username>:<password>@<host>:<port>/<database>?search_path=<schema>")
	pgDatabaseUrl.required = true

	pgTimeout := conf.addOption(optPgTimeout, "time limit for database transactions")
	pgTimeout.defaultValue = engineOptions.Timeout.String()

	conf.setEngineOptions(engineOptions.Common)
	conf.setServerOptions(serverOptions)

	if code := parseFlags("go-external-task-pgd", conf, args); code != -1 {
		return code
	}

	conf.getEngineOptions(&engineOptions.Common)
	conf.getServerOptions(&serverOptions)

	if pgDatabaseUrl.value() == "" {
		pgDatabaseUrl.err = errors.New("is empty")
	}

	timeout, err := time.ParseDuration(pgTimeout.value())
	if err != nil {
		pgTimeout.err = err
	}

	if code := listConfErrors(conf); code != 0 {
		return code
	}

	engineStartTime := time.Now()

	e, err := pg.New(pgDatabaseUrl.value(), func(o *pg.Options) {
		*o = engineOptions
		o.Timeout = timeout
	})
	if err != nil {
		log.Printf("failed to create pg engine: %v", err)
		return 1
	}

	log.Printf("pg engine started in %dms", time.Since(engineStartTime).Milliseconds())

	return serve(e, serverOptions)
}
