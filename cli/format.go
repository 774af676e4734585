package cli

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gclaussn/go-external-task/engine"
)

func formatRetries(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatTime(v engine.Time) string {
	if time.Time(v).IsZero() {
		return ""
	}
	return time.Time(v).Format(time.RFC3339)
}

func formatTimeOrNil(v *engine.Time) string {
	if v == nil {
		return ""
	}
	return formatTime(*v)
}

func newTable(headers []string) table {
	rows := make([][]string, 2)
	rows[0] = headers
	rows[1] = make([]string, len(headers))

	return table{rows: rows}
}

type table struct {
	rows [][]string
}

func (t *table) addRow(row []string) {
	t.rows = append(t.rows, row)
}

func (t *table) format() string {
	rows := t.rows

	columns := make([]int, len(rows[0]))
	for i := 0; i < len(rows); i++ {
		for j := 0; j < len(columns); j++ {
			l := utf8.RuneCountInString(rows[i][j])
			if columns[j] < l {
				columns[j] = l
			}
		}
	}

	var sb strings.Builder
	for i := 0; i < len(rows); i++ {
		for j := 0; j < len(columns); j++ {
			if j != 0 {
				sb.WriteString("   ")
			}

			value := rows[i][j]
			sb.WriteString(value)

			l := utf8.RuneCountInString(value)
			for k := 0; k < columns[j]-l; k++ {
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}

	return sb.String()
}

func externalTaskTable(externalTasks []engine.ExternalTask) table {
	table := newTable([]string{
		"ID",
		"TOPIC",
		"PRIORITY",
		"RETRIES",
		"WORKER ID",
		"LOCK EXPIRATION TIME",
		"CREATE TIME",
		"COMPLETION TIME",
		"BUSINESS KEY",
	})

	for _, externalTask := range externalTasks {
		table.addRow([]string{
			externalTask.Id,
			externalTask.TopicName,
			strconv.FormatInt(externalTask.Priority, 10),
			formatRetries(externalTask.Retries),
			externalTask.WorkerId,
			formatTimeOrNil(externalTask.LockExpirationTime),
			formatTime(externalTask.CreateTime),
			formatTimeOrNil(externalTask.CompletionTime),
			externalTask.BusinessKey,
		})
	}

	return table
}
