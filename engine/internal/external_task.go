package internal

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type ExternalTaskEntity struct {
	Id string

	ActivityId           string
	BpmnErrorCode        pgtype.Text
	BusinessKey          string
	CompletedAt          pgtype.Timestamp
	CreatedAt            time.Time
	DueAt                time.Time // point in time, after which the task can be fetched
	ErrorDetails         pgtype.Text
	ErrorMessage         pgtype.Text
	ExtensionProperties  map[string]string
	LocalVariables       map[string]engine.VariableValue
	LockExpiresAt        pgtype.Timestamp
	LockedBy             pgtype.Text
	Priority             int64
	ProcessDefinitionKey string
	ProcessInstanceId    string
	Retries              pgtype.Int4
	TenantId             string
	TopicName            string
	Variables            map[string]engine.VariableValue
}

func (e ExternalTaskEntity) ExternalTask() engine.ExternalTask {
	var retries *int
	if e.Retries.Valid {
		v := int(e.Retries.Int32)
		retries = &v
	}

	return engine.ExternalTask{
		Id: e.Id,

		ActivityId:           e.ActivityId,
		BpmnErrorCode:        e.BpmnErrorCode.String,
		BusinessKey:          e.BusinessKey,
		CompletionTime:       timeOrNil(e.CompletedAt),
		CreateTime:           engine.Time(e.CreatedAt),
		ErrorDetails:         e.ErrorDetails.String,
		ErrorMessage:         e.ErrorMessage.String,
		ExtensionProperties:  maps.Clone(e.ExtensionProperties),
		LockExpirationTime:   timeOrNil(e.LockExpiresAt),
		Priority:             e.Priority,
		ProcessDefinitionKey: e.ProcessDefinitionKey,
		ProcessInstanceId:    e.ProcessInstanceId,
		Retries:              retries,
		TenantId:             e.TenantId,
		TopicName:            e.TopicName,
		Variables:            mergeVariables(e.Variables, e.LocalVariables),
		WorkerId:             e.LockedBy.String,
	}
}

// FetchedExternalTask returns the external task, as it is returned to a worker that fetched it for the given topic.
func (e ExternalTaskEntity) FetchedExternalTask(topic engine.FetchTopic) engine.ExternalTask {
	externalTask := e.ExternalTask()
	externalTask.ErrorDetails = ""

	if !topic.IncludeExtensionProperties {
		externalTask.ExtensionProperties = nil
	}

	var variables map[string]engine.VariableValue
	if topic.LocalVariables {
		variables = e.LocalVariables
	} else {
		variables = externalTask.Variables
	}

	if len(topic.Variables) != 0 {
		selected := make(map[string]engine.VariableValue, len(topic.Variables))
		for _, name := range topic.Variables {
			if value, ok := variables[name]; ok {
				selected[name] = value
			}
		}
		variables = selected
	}

	externalTask.Variables = variables
	return externalTask
}

// IsFetchable determines if the task can be fetched and locked at the given point in time.
func (e ExternalTaskEntity) IsFetchable(now time.Time) bool {
	if e.CompletedAt.Valid {
		return false
	}
	if e.Retries.Valid && e.Retries.Int32 == 0 {
		return false // incident
	}
	if e.LockExpiresAt.Valid && e.LockExpiresAt.Time.After(now) {
		return false
	}
	return !now.Before(e.DueAt)
}

// MatchesCriteria determines if the task is matched by the criteria of an external task query.
func (e ExternalTaskEntity) MatchesCriteria(c engine.ExternalTaskCriteria, now time.Time) bool {
	if c.ExternalTaskId != "" && c.ExternalTaskId != e.Id {
		return false
	}
	if c.BusinessKey != "" && c.BusinessKey != e.BusinessKey {
		return false
	}
	if c.Completed != e.CompletedAt.Valid {
		return false
	}

	isLocked := e.LockExpiresAt.Valid && e.LockExpiresAt.Time.After(now)
	if c.Locked && !isLocked {
		return false
	}
	if c.NotLocked && isLocked {
		return false
	}

	hasRetriesLeft := !e.Retries.Valid || e.Retries.Int32 > 0
	if c.NoRetriesLeft && hasRetriesLeft {
		return false
	}
	if c.WithRetriesLeft && !hasRetriesLeft {
		return false
	}

	if c.ProcessInstanceId != "" && c.ProcessInstanceId != e.ProcessInstanceId {
		return false
	}
	if c.TopicName != "" && c.TopicName != e.TopicName {
		return false
	}
	if c.WorkerId != "" && c.WorkerId != e.LockedBy.String {
		return false
	}
	return true
}

// MatchesTopic determines if the task is matched by the topic name and filters of a fetch topic.
func (e ExternalTaskEntity) MatchesTopic(topic engine.FetchTopic) bool {
	if topic.TopicName != e.TopicName {
		return false
	}
	if topic.BusinessKey != "" && topic.BusinessKey != e.BusinessKey {
		return false
	}
	if topic.ProcessDefinitionKey != "" && topic.ProcessDefinitionKey != e.ProcessDefinitionKey {
		return false
	}
	if len(topic.ProcessDefinitionKeyIn) != 0 && !slices.Contains(topic.ProcessDefinitionKeyIn, e.ProcessDefinitionKey) {
		return false
	}
	if topic.WithoutTenantId && e.TenantId != "" {
		return false
	}
	if len(topic.TenantIdIn) != 0 && !slices.Contains(topic.TenantIdIn, e.TenantId) {
		return false
	}
	return true
}

type ExternalTaskRepository interface {
	Insert(*ExternalTaskEntity) error
	Select(id string) (*ExternalTaskEntity, error)
	Update(*ExternalTaskEntity) error

	// Query returns the tasks, matching the criteria. now is used to determine if a task is locked.
	Query(c engine.ExternalTaskCriteria, o engine.QueryOptions, now time.Time) ([]*ExternalTaskEntity, error)

	// Lock locks up to cmd.MaxTasks fetchable tasks, matched by any of the command's topics.
	// The lock of a task expires after the lock duration of the first topic, that matches the task.
	Lock(cmd engine.FetchAndLockCmd, lockedAt time.Time) ([]*ExternalTaskEntity, error)
}

func Complete(ctx Context, cmd engine.CompleteCmd) error {
	externalTask, err := selectLocked(ctx, cmd.Id, cmd.WorkerId, "failed to complete external task")
	if err != nil {
		return err
	}

	externalTask.Variables = mergeVariables(externalTask.Variables, cmd.Variables)
	externalTask.LocalVariables = mergeVariables(externalTask.LocalVariables, cmd.LocalVariables)

	externalTask.CompletedAt = pgtype.Timestamp{Time: ctx.Time(), Valid: true}
	externalTask.LockExpiresAt = pgtype.Timestamp{}

	return ctx.ExternalTasks().Update(externalTask)
}

func CreateExternalTask(ctx Context, cmd engine.CreateExternalTaskCmd) (engine.ExternalTask, error) {
	if cmd.TopicName == "" {
		return engine.ExternalTask{}, engine.Error{
			Type:   engine.ErrorValidation,
			Title:  "failed to create external task",
			Detail: "topic name is empty",
		}
	}

	var retries pgtype.Int4
	if cmd.Retries != nil {
		if *cmd.Retries < 0 || *cmd.Retries > math.MaxInt32 {
			return engine.ExternalTask{}, engine.Error{
				Type:   engine.ErrorValidation,
				Title:  "failed to create external task",
				Detail: fmt.Sprintf("retries %d must be between 0 and %d", *cmd.Retries, math.MaxInt32),
			}
		}
		retries = pgtype.Int4{Int32: int32(*cmd.Retries), Valid: true}
	}

	externalTask := ExternalTaskEntity{
		Id: uuid.NewString(),

		ActivityId:           cmd.ActivityId,
		BusinessKey:          cmd.BusinessKey,
		CreatedAt:            ctx.Time(),
		DueAt:                ctx.Time(),
		ExtensionProperties:  cmd.ExtensionProperties,
		Priority:             cmd.Priority,
		ProcessDefinitionKey: cmd.ProcessDefinitionKey,
		ProcessInstanceId:    cmd.ProcessInstanceId,
		Retries:              retries,
		TenantId:             cmd.TenantId,
		TopicName:            cmd.TopicName,
		Variables:            cmd.Variables,
	}

	if err := ctx.ExternalTasks().Insert(&externalTask); err != nil {
		return engine.ExternalTask{}, err
	}

	return externalTask.ExternalTask(), nil
}

func ExtendLock(ctx Context, cmd engine.ExtendLockCmd) error {
	if cmd.NewDuration < 1 {
		return engine.Error{
			Type:   engine.ErrorValidation,
			Title:  "failed to extend lock",
			Detail: fmt.Sprintf("new duration %d must be greater than or equal to 1", cmd.NewDuration),
		}
	}

	externalTask, err := selectLocked(ctx, cmd.Id, cmd.WorkerId, "failed to extend lock")
	if err != nil {
		return err
	}

	externalTask.LockExpiresAt = pgtype.Timestamp{Time: ctx.Time().Add(millis(cmd.NewDuration)), Valid: true}

	return ctx.ExternalTasks().Update(externalTask)
}

// FetchAndLock fetches and locks external tasks once, without waiting for tasks to become available.
func FetchAndLock(ctx Context, cmd engine.FetchAndLockCmd) ([]engine.ExternalTask, error) {
	if err := validateFetchAndLock(cmd); err != nil {
		return nil, err
	}
	if cmd.MaxTasks <= 0 || len(cmd.Topics) == 0 {
		return nil, nil
	}

	lockedExternalTasks, err := ctx.ExternalTasks().Lock(cmd, ctx.Time())
	if err != nil {
		return nil, err
	}

	externalTasks := make([]engine.ExternalTask, 0, len(lockedExternalTasks))
	for _, lockedExternalTask := range lockedExternalTasks {
		topic, _ := FindTopic(cmd.Topics, lockedExternalTask)
		externalTasks = append(externalTasks, lockedExternalTask.FetchedExternalTask(topic))
	}

	return externalTasks, nil
}

// FindTopic returns the first topic, which matches the given task.
func FindTopic(topics []engine.FetchTopic, e *ExternalTaskEntity) (engine.FetchTopic, bool) {
	for _, topic := range topics {
		if e.MatchesTopic(topic) {
			return topic, true
		}
	}
	return engine.FetchTopic{}, false
}

func HandleBpmnError(ctx Context, cmd engine.HandleBpmnErrorCmd) error {
	if cmd.ErrorCode == "" {
		return engine.Error{
			Type:   engine.ErrorValidation,
			Title:  "failed to handle BPMN error",
			Detail: "error code is empty",
		}
	}

	externalTask, err := selectLocked(ctx, cmd.Id, cmd.WorkerId, "failed to handle BPMN error")
	if err != nil {
		return err
	}

	externalTask.Variables = mergeVariables(externalTask.Variables, cmd.Variables)

	externalTask.BpmnErrorCode = pgtype.Text{String: cmd.ErrorCode, Valid: true}
	if cmd.ErrorMessage != "" {
		externalTask.ErrorMessage = pgtype.Text{String: cmd.ErrorMessage, Valid: true}
	}

	externalTask.CompletedAt = pgtype.Timestamp{Time: ctx.Time(), Valid: true}
	externalTask.LockExpiresAt = pgtype.Timestamp{}

	return ctx.ExternalTasks().Update(externalTask)
}

func HandleFailure(ctx Context, cmd engine.HandleFailureCmd) error {
	if cmd.Retries != nil && (*cmd.Retries < 0 || *cmd.Retries > math.MaxInt32) {
		return engine.Error{
			Type:   engine.ErrorValidation,
			Title:  "failed to handle failure",
			Detail: fmt.Sprintf("retries %d must be between 0 and %d", *cmd.Retries, math.MaxInt32),
		}
	}
	if cmd.RetryTimeout < 0 {
		return engine.Error{
			Type:   engine.ErrorValidation,
			Title:  "failed to handle failure",
			Detail: fmt.Sprintf("retry timeout %d must be greater than or equal to 0", cmd.RetryTimeout),
		}
	}

	externalTask, err := selectLocked(ctx, cmd.Id, cmd.WorkerId, "failed to handle failure")
	if err != nil {
		return err
	}

	externalTask.ErrorMessage = pgtype.Text{String: cmd.ErrorMessage, Valid: cmd.ErrorMessage != ""}
	externalTask.ErrorDetails = pgtype.Text{String: cmd.ErrorDetails, Valid: cmd.ErrorDetails != ""}

	if cmd.Retries != nil {
		externalTask.Retries = pgtype.Int4{Int32: int32(*cmd.Retries), Valid: true}
	}

	externalTask.DueAt = ctx.Time().Add(millis(cmd.RetryTimeout))
	externalTask.LockExpiresAt = pgtype.Timestamp{}

	return ctx.ExternalTasks().Update(externalTask)
}

func QueryExternalTasks(ctx Context, c engine.ExternalTaskCriteria, o engine.QueryOptions) ([]engine.ExternalTask, error) {
	if o.Limit <= 0 {
		o.Limit = ctx.Options().DefaultQueryLimit
	}

	entities, err := ctx.ExternalTasks().Query(c, o, ctx.Time())
	if err != nil {
		return nil, err
	}

	results := make([]engine.ExternalTask, len(entities))
	for i, entity := range entities {
		results[i] = entity.ExternalTask()
	}

	return results, nil
}

func Unlock(ctx Context, cmd engine.UnlockCmd) error {
	externalTask, err := selectActive(ctx, cmd.Id, "failed to unlock external task")
	if err != nil {
		return err
	}

	if !externalTask.LockExpiresAt.Valid {
		return nil
	}

	externalTask.LockExpiresAt = pgtype.Timestamp{}

	return ctx.ExternalTasks().Update(externalTask)
}

// selectActive selects a task, which is not completed.
func selectActive(ctx Context, id string, title string) (*ExternalTaskEntity, error) {
	externalTask, err := ctx.ExternalTasks().Select(id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.Error{
			Type:   engine.ErrorNotFound,
			Title:  title,
			Detail: fmt.Sprintf("external task %s could not be found", id),
		}
	}
	if err != nil {
		return nil, err
	}

	if externalTask.CompletedAt.Valid {
		return nil, engine.Error{
			Type:   engine.ErrorNotFound,
			Title:  title,
			Detail: fmt.Sprintf("external task %s is completed", id),
		}
	}

	return externalTask, nil
}

// selectLocked selects a task, which is locked by the given worker. The lock must not be expired.
func selectLocked(ctx Context, id string, workerId string, title string) (*ExternalTaskEntity, error) {
	if workerId == "" {
		return nil, engine.Error{
			Type:   engine.ErrorValidation,
			Title:  title,
			Detail: "worker ID is empty",
		}
	}

	externalTask, err := selectActive(ctx, id, title)
	if err != nil {
		return nil, err
	}

	if !externalTask.LockExpiresAt.Valid {
		return nil, engine.Error{
			Type:   engine.ErrorConflict,
			Title:  title,
			Detail: fmt.Sprintf("external task %s is not locked", id),
		}
	}
	if externalTask.LockedBy.String != workerId {
		return nil, engine.Error{
			Type:  engine.ErrorConflict,
			Title: title,
			Detail: fmt.Sprintf(
				"external task %s is not locked by worker %s, but %s",
				id,
				workerId,
				externalTask.LockedBy.String,
			),
		}
	}
	if !externalTask.LockExpiresAt.Time.After(ctx.Time()) {
		return nil, engine.Error{
			Type:  engine.ErrorConflict,
			Title: title,
			Detail: fmt.Sprintf(
				"lock of external task %s expired at %s",
				id,
				externalTask.LockExpiresAt.Time.Format(time.RFC3339),
			),
		}
	}

	return externalTask, nil
}

func validateFetchAndLock(cmd engine.FetchAndLockCmd) error {
	if cmd.WorkerId == "" {
		return engine.Error{
			Type:   engine.ErrorValidation,
			Title:  "failed to fetch and lock",
			Detail: "worker ID is empty",
		}
	}
	for _, topic := range cmd.Topics {
		if topic.LockDuration < 1 {
			return engine.Error{
				Type:  engine.ErrorValidation,
				Title: "failed to fetch and lock",
				Detail: fmt.Sprintf(
					"lock duration %d of topic %s must be greater than or equal to 1",
					topic.LockDuration,
					topic.TopicName,
				),
			}
		}
	}
	return nil
}
