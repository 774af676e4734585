package daemon

import (
	"log"

	"github.com/gclaussn/go-external-task/engine/mem"
	"github.com/gclaussn/go-external-task/http/server"
)

func RunMem(args []string) int {
	engineOptions := mem.NewOptions()
	engineOptions.Common = newEngineOptions(engineOptions.Common)
	serverOptions := server.NewOptions()

	conf := newConf()
	conf.setEngineOptions(engineOptions.Common)
	conf.setServerOptions(serverOptions)

	if code := parseFlags("go-external-task-memd", conf, args); code != -1 {
		return code
	}

	conf.getEngineOptions(&engineOptions.Common)
	conf.getServerOptions(&serverOptions)

	if code := listConfErrors(conf); code != 0 {
		return code
	}

	e, err := mem.New(func(o *mem.Options) {
		*o = engineOptions
	})
	if err != nil {
		log.Printf("failed to create mem engine: %v", err)
		return 1
	}

	return serve(e, serverOptions)
}
