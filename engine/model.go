package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout is the date format of the engine's REST API - e.g. 2025-10-06T16:34:42.000+0200.
const TimeLayout = "2006-01-02T15:04:05.000-0700"

// ExternalTask is a unit of work, which is fetched and locked by a worker for a specific topic.
type ExternalTask struct {
	Id string `json:"id"` // External task ID.

	ActivityId           string                   `json:"activityId,omitempty"`           // ID of the related BPMN activity.
	BpmnErrorCode        string                   `json:"bpmnErrorCode,omitempty"`        // Code of the reported BPMN error.
	BusinessKey          string                   `json:"businessKey,omitempty"`          // Business key of the process instance.
	CompletionTime       *Time                    `json:"completionTime,omitempty"`       // Point in time, when the task was completed or a BPMN error was reported.
	CreateTime           Time                     `json:"createTime"`                     // Creation time.
	ErrorDetails         string                   `json:"errorDetails,omitempty"`         // Details of the last reported failure.
	ErrorMessage         string                   `json:"errorMessage,omitempty"`         // Message of the last reported failure.
	ExtensionProperties  map[string]string        `json:"extensionProperties,omitempty"`  // Extension properties of the BPMN activity.
	LockExpirationTime   *Time                    `json:"lockExpirationTime,omitempty"`   // Point in time, when the lock expires.
	Priority             int64                    `json:"priority"`                       // Priority - tasks with a higher priority are fetched first.
	ProcessDefinitionKey string                   `json:"processDefinitionKey,omitempty"` // Key of the process definition.
	ProcessInstanceId    string                   `json:"processInstanceId,omitempty"`    // ID of the process instance.
	Retries              *int                     `json:"retries"`                        // Remaining retries, nil when no failure has been reported yet.
	TenantId             string                   `json:"tenantId,omitempty"`             // Tenant ID.
	TopicName            string                   `json:"topicName"`                      // Topic name.
	Variables            map[string]VariableValue `json:"variables,omitempty"`            // Fetched variables.
	WorkerId             string                   `json:"workerId,omitempty"`             // ID of the worker, which holds or held the lock.
}

// IsLocked determines if the task is locked by a worker at the given point in time.
func (v ExternalTask) IsLocked(now time.Time) bool {
	return v.LockExpirationTime != nil && time.Time(*v.LockExpirationTime).After(now)
}

func (v ExternalTask) String() string {
	return fmt.Sprintf("%s:%s", v.TopicName, v.Id)
}

// ExternalTaskCriteria specifies the results, returned by an external task query.
type ExternalTaskCriteria struct {
	ExternalTaskId    string `json:"externalTaskId,omitempty"`    // External task ID filter.
	BusinessKey       string `json:"businessKey,omitempty"`       // Business key filter.
	Completed         bool   `json:"completed,omitempty"`         // Only completed tasks - by default, completed tasks are excluded.
	Locked            bool   `json:"locked,omitempty"`            // Only tasks with an active lock.
	NoRetriesLeft     bool   `json:"noRetriesLeft,omitempty"`     // Only tasks whose retries are 0.
	NotLocked         bool   `json:"notLocked,omitempty"`         // Only tasks without an active lock.
	ProcessInstanceId string `json:"processInstanceId,omitempty"` // Process instance ID filter.
	TopicName         string `json:"topicName,omitempty"`         // Topic name filter.
	WithRetriesLeft   bool   `json:"withRetriesLeft,omitempty"`   // Only tasks, which have retries left or no retries set.
	WorkerId          string `json:"workerId,omitempty"`          // Worker ID filter.
}

// Time is a point in time, which is encoded using [TimeLayout].
// When decoding, RFC 3339 is accepted as well.
type Time time.Time

func (v Time) MarshalJSON() ([]byte, error) {
	if time.Time(v).IsZero() {
		return []byte("null"), nil
	}
	return []byte(fmt.Sprintf("%q", v.String())), nil
}

func (v Time) String() string {
	return time.Time(v).Format(TimeLayout)
}

func (v *Time) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return nil
	}

	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("invalid time data %s", s)
	}

	t, err := time.Parse(TimeLayout, value)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, value)
	}
	if err != nil {
		return fmt.Errorf("failed to parse time %s", value)
	}

	*v = Time(t)
	return nil
}

// ValueType is the type of a typed variable value.
type ValueType string

const (
	ValueBoolean ValueType = "Boolean"
	ValueDate    ValueType = "Date"
	ValueDouble  ValueType = "Double"
	ValueInteger ValueType = "Integer"
	ValueJson    ValueType = "Json"
	ValueLong    ValueType = "Long"
	ValueNull    ValueType = "Null"
	ValueObject  ValueType = "Object"
	ValueString  ValueType = "String"
)

// VariableValue is a typed variable value.
//
// Value holds the raw JSON of the value. For Json and Object values, the value is a JSON string, containing the serialized
// value. ValueInfo carries type specific information like the serialization format of an Object value.
type VariableValue struct {
	Type      ValueType       `json:"type"`
	Value     json.RawMessage `json:"value"`
	ValueInfo map[string]any  `json:"valueInfo,omitempty"`
}
