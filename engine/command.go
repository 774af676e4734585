package engine

import (
	"time"
)

// CompleteCmd provides data for the completion of a locked external task.
type CompleteCmd struct {
	// External task ID.
	Id string `json:"-"`

	// Variables to set at process instance scope.
	Variables map[string]VariableValue `json:"variables,omitempty" validate:"max=100,dive,keys,variable_name,endkeys"`
	// Variables to set at the scope of the external task's execution.
	LocalVariables map[string]VariableValue `json:"localVariables,omitempty" validate:"max=100,dive,keys,variable_name,endkeys"`
	// ID of the worker that locked the external task.
	WorkerId string `json:"workerId" validate:"required"`
}

// CreateExternalTaskCmd provides data for the creation of an external task.
type CreateExternalTaskCmd struct {
	// ID of the related BPMN activity.
	ActivityId string `json:"activityId,omitempty"`
	// Business key of the process instance.
	BusinessKey string `json:"businessKey,omitempty"`
	// Extension properties of the BPMN activity.
	ExtensionProperties map[string]string `json:"extensionProperties,omitempty" validate:"max=100"`
	// Priority - tasks with a higher priority are fetched first, if the worker requests it.
	Priority int64 `json:"priority,omitempty"`
	// Key of the process definition.
	ProcessDefinitionKey string `json:"processDefinitionKey,omitempty"`
	// ID of the process instance.
	ProcessInstanceId string `json:"processInstanceId,omitempty"`
	// Optional initial retries.
	Retries *int `json:"retries,omitempty" validate:"omitempty,gte=0"`
	// Tenant ID.
	TenantId string `json:"tenantId,omitempty"`
	// Name of the topic.
	TopicName string `json:"topicName" validate:"required"`
	// Process instance variables, available for fetching.
	Variables map[string]VariableValue `json:"variables,omitempty" validate:"max=100,dive,keys,variable_name,endkeys"`
}

// ExtendLockCmd provides data for extending the lock of an external task.
type ExtendLockCmd struct {
	// External task ID.
	Id string `json:"-"`

	// New lock duration in milliseconds, starting from the engine's time.
	NewDuration int64 `json:"newDuration" validate:"required,gte=1"`
	// ID of the worker that locked the external task.
	WorkerId string `json:"workerId" validate:"required"`
}

// FetchAndLockCmd provides data for fetching and locking external tasks of one or more topics.
type FetchAndLockCmd struct {
	// Time in milliseconds to wait for external tasks, when none is available. If `0`, the engine responds immediately.
	AsyncResponseTimeout int64 `json:"asyncResponseTimeout,omitempty" validate:"gte=0"`
	// Maximum number of external tasks to lock.
	MaxTasks int `json:"maxTasks" validate:"required,gte=1,lte=1000"`
	// Topics to fetch external tasks for.
	Topics []FetchTopic `json:"topics" validate:"required,max=100,dive"`
	// Determines if external tasks with a higher priority are fetched first.
	UsePriority bool `json:"usePriority"`
	// ID of the worker that fetches and locks.
	WorkerId string `json:"workerId" validate:"required"`
}

// FetchTopic specifies a topic and filters of a [FetchAndLockCmd].
type FetchTopic struct {
	// Business key filter.
	BusinessKey string `json:"businessKey,omitempty"`
	// Determines if Object variables are returned deserialized.
	DeserializeValues bool `json:"deserializeValues,omitempty"`
	// Determines if extension properties are included.
	IncludeExtensionProperties bool `json:"includeExtensionProperties,omitempty"`
	// Determines if only local variables are fetched.
	LocalVariables bool `json:"localVariables,omitempty"`
	// Lock duration in milliseconds.
	LockDuration int64 `json:"lockDuration" validate:"required,gte=1"`
	// Process definition key filter.
	ProcessDefinitionKey string `json:"processDefinitionKey,omitempty"`
	// Process definition keys filter.
	ProcessDefinitionKeyIn []string `json:"processDefinitionKeyIn,omitempty"`
	// Tenant IDs filter.
	TenantIdIn []string `json:"tenantIdIn,omitempty"`
	// Name of the topic.
	TopicName string `json:"topicName" validate:"required"`
	// Names of the variables to fetch. If empty, all variables are fetched.
	Variables []string `json:"variables,omitempty"`
	// Determines if only tasks without tenant ID are fetched.
	WithoutTenantId bool `json:"withoutTenantId,omitempty"`
}

// HandleBpmnErrorCmd provides data for reporting a business error.
type HandleBpmnErrorCmd struct {
	// External task ID.
	Id string `json:"-"`

	// Code of the BPMN error, used to determine the error boundary event.
	ErrorCode string `json:"errorCode" validate:"required"`
	// Optional error message.
	ErrorMessage string `json:"errorMessage,omitempty"`
	// Variables to set at process instance scope.
	Variables map[string]VariableValue `json:"variables,omitempty" validate:"max=100,dive,keys,variable_name,endkeys"`
	// ID of the worker that locked the external task.
	WorkerId string `json:"workerId" validate:"required"`
}

// HandleFailureCmd provides data for reporting a technical failure.
type HandleFailureCmd struct {
	// External task ID.
	Id string `json:"-"`

	// Details of the failure - e.g. a stack trace.
	ErrorDetails string `json:"errorDetails,omitempty"`
	// Message of the failure.
	ErrorMessage string `json:"errorMessage,omitempty"`
	// Number of remaining retries. If nil, the current retries are kept.
	Retries *int `json:"retries,omitempty" validate:"omitempty,gte=0"`
	// Timeout in milliseconds, before the external task can be fetched again.
	RetryTimeout int64 `json:"retryTimeout,omitempty" validate:"gte=0"`
	// ID of the worker that locked the external task.
	WorkerId string `json:"workerId" validate:"required"`
}

// SetTimeCmd is a command for increasing the engine's time for testing purposes.
type SetTimeCmd struct {
	// A future point in time.
	Time time.Time `json:"time" validate:"required"`
}

// UnlockCmd is a command for releasing the lock of an external task.
type UnlockCmd struct {
	// External task ID.
	Id string `json:"-"`
}
