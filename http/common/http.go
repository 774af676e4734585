package common

const (
	ContentTypeJson = "application/json"

	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"

	PathExternalTasks             = "/external-task"
	PathExternalTasksBpmnError    = "/external-task/{id}/bpmnError"
	PathExternalTasksComplete     = "/external-task/{id}/complete"
	PathExternalTasksCreate       = "/external-task/create"
	PathExternalTasksExtendLock   = "/external-task/{id}/extendLock"
	PathExternalTasksFailure      = "/external-task/{id}/failure"
	PathExternalTasksFetchAndLock = "/external-task/fetchAndLock"
	PathExternalTasksUnlock       = "/external-task/{id}/unlock"

	PathMetrics   = "/metrics"
	PathReadiness = "/readiness"
	PathTime      = "/time"

	QueryFirstResult = "firstResult"
	QueryMaxResults  = "maxResults"
)
