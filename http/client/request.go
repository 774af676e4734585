package client

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/gclaussn/go-external-task/http/common"
)

func encodeQueryOptions(options engine.QueryOptions) string {
	values := make(url.Values)

	if options.Offset > 0 {
		values.Add(common.QueryFirstResult, strconv.Itoa(options.Offset))
	}
	if options.Limit > 0 {
		values.Add(common.QueryMaxResults, strconv.Itoa(options.Limit))
	}

	if len(values) == 0 {
		return ""
	}

	return "?" + values.Encode()
}

func resolve(path string, id string) string {
	return strings.Replace(path, "{id}", url.PathEscape(id), 1)
}
