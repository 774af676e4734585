package pg

import (
	"strings"
	"text/template"
)

var (
	sqlTemplateFunctions = template.FuncMap{
		"joinString":  joinString,
		"quoteString": quoteString,
	}

	sqlExternalTaskLock  *template.Template = newSqlTemplate("external_task_lock.sql")
	sqlExternalTaskQuery *template.Template = newSqlTemplate("external_task_query.sql")
)

func newSqlTemplate(name string) *template.Template {
	return template.Must(template.New(name).Funcs(sqlTemplateFunctions).ParseFS(resources, "sql/"+name))
}

func joinString(values []string) string {
	s := make([]string, len(values))
	for i, v := range values {
		s[i] = quoteString(v)
	}
	return strings.Join(s, ",")
}

// copied from https://github.com/jackc/pgx/blob/v5.5.0/internal/sanitize/sanitize.go#L90
func quoteString(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
