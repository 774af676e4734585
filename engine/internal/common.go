package internal

import (
	"maps"
	"time"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/jackc/pgx/v5/pgtype"
)

// millis converts a duration in milliseconds, as used by the REST API, into a [time.Duration].
func millis(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func mergeVariables(variables ...map[string]engine.VariableValue) map[string]engine.VariableValue {
	var merged map[string]engine.VariableValue
	for _, v := range variables {
		if len(v) == 0 {
			continue
		}
		if merged == nil {
			merged = make(map[string]engine.VariableValue, len(v))
		}
		maps.Copy(merged, v)
	}
	return merged
}

func timeOrNil(v pgtype.Timestamp) *engine.Time {
	if !v.Valid {
		return nil
	}
	t := engine.Time(v.Time)
	return &t
}
