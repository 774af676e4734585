package pg

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/gclaussn/go-external-task/engine/internal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type externalTaskRepository struct {
	tx    pgx.Tx
	txCtx context.Context
}

func (r externalTaskRepository) Insert(entity *internal.ExternalTaskEntity) error {
	_, err := r.tx.Exec(r.txCtx, `
INSERT INTO external_task (
	id,

	activity_id,
	business_key,
	created_at,
	due_at,
	extension_properties,
	priority,
	process_definition_key,
	process_instance_id,
	retries,
	tenant_id,
	topic_name,
	variables
) VALUES (
	$1,

	$2,
	$3,
	$4,
	$5,
	$6,
	$7,
	$8,
	$9,
	$10,
	$11,
	$12,
	$13
)
`,
		entity.Id,

		entity.ActivityId,
		entity.BusinessKey,
		entity.CreatedAt,
		entity.DueAt,
		entity.ExtensionProperties,
		entity.Priority,
		entity.ProcessDefinitionKey,
		entity.ProcessInstanceId,
		entity.Retries,
		entity.TenantId,
		entity.TopicName,
		entity.Variables,
	)

	if err != nil {
		return fmt.Errorf("failed to insert external task %s: %v", entity.Id, err)
	}

	return nil
}

func (r externalTaskRepository) Select(id string) (*internal.ExternalTaskEntity, error) {
	row := r.tx.QueryRow(r.txCtx, `
SELECT
	id,

	activity_id,
	bpmn_error_code,
	business_key,
	completed_at,
	created_at,
	due_at,
	error_details,
	error_message,
	extension_properties,
	local_variables,
	lock_expires_at,
	locked_by,
	priority,
	process_definition_key,
	process_instance_id,
	retries,
	tenant_id,
	topic_name,
	variables
FROM
	external_task
WHERE
	id = $1
FOR UPDATE
`, id)

	entity, err := scanExternalTask(row)
	if err != nil {
		return nil, fmt.Errorf("failed to select external task %s: %w", id, err)
	}

	return entity, nil
}

func (r externalTaskRepository) Update(entity *internal.ExternalTaskEntity) error {
	_, err := r.tx.Exec(r.txCtx, `
UPDATE
	external_task
SET
	bpmn_error_code = $2,
	completed_at = $3,
	due_at = $4,
	error_details = $5,
	error_message = $6,
	local_variables = $7,
	lock_expires_at = $8,
	locked_by = $9,
	retries = $10,
	variables = $11
WHERE
	id = $1
`,
		entity.Id,

		entity.BpmnErrorCode,
		entity.CompletedAt,
		entity.DueAt,
		entity.ErrorDetails,
		entity.ErrorMessage,
		entity.LocalVariables,
		entity.LockExpiresAt,
		entity.LockedBy,
		entity.Retries,
		entity.Variables,
	)

	if err != nil {
		return fmt.Errorf("failed to update external task %s: %v", entity.Id, err)
	}

	return nil
}

func (r externalTaskRepository) Query(c engine.ExternalTaskCriteria, o engine.QueryOptions, now time.Time) ([]*internal.ExternalTaskEntity, error) {
	var sql bytes.Buffer
	if err := sqlExternalTaskQuery.Execute(&sql, map[string]any{"c": c, "o": o}); err != nil {
		return nil, fmt.Errorf("failed to execute external task query template: %v", err)
	}

	var args []any
	if c.Locked || c.NotLocked {
		args = append(args, now)
	}

	rows, err := r.tx.Query(r.txCtx, sql.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query %s: %v", sql.String(), err)
	}

	defer rows.Close()

	var results []*internal.ExternalTaskEntity
	for rows.Next() {
		entity, err := scanExternalTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan external task row: %v", err)
		}

		results = append(results, entity)
	}

	return results, nil
}

func (r externalTaskRepository) Lock(cmd engine.FetchAndLockCmd, lockedAt time.Time) ([]*internal.ExternalTaskEntity, error) {
	var sql bytes.Buffer
	if err := sqlExternalTaskLock.Execute(&sql, cmd); err != nil {
		return nil, fmt.Errorf("failed to execute external task lock template: %v", err)
	}

	rows, err := r.tx.Query(r.txCtx, sql.String(), lockedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query %s: %v", sql.String(), err)
	}

	var entities []*internal.ExternalTaskEntity
	for rows.Next() {
		entity, err := scanExternalTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan external task row: %v", err)
		}

		entities = append(entities, entity)
	}

	rows.Close() // must be closed right away to avoid "conn busy" error when updating

	for _, entity := range entities {
		topic, _ := internal.FindTopic(cmd.Topics, entity)

		entity.LockExpiresAt = pgtype.Timestamp{Time: lockedAt.Add(time.Duration(topic.LockDuration) * time.Millisecond), Valid: true}
		entity.LockedBy = pgtype.Text{String: cmd.WorkerId, Valid: true}

		if _, err := r.tx.Exec(
			r.txCtx,
			"UPDATE external_task SET lock_expires_at = $2, locked_by = $3 WHERE id = $1",
			entity.Id,
			entity.LockExpiresAt,
			entity.LockedBy,
		); err != nil {
			return nil, fmt.Errorf("failed to lock external task %s: %v", entity.Id, err)
		}
	}

	return entities, nil
}

func scanExternalTask(row pgx.Row) (*internal.ExternalTaskEntity, error) {
	var entity internal.ExternalTaskEntity
	if err := row.Scan(
		&entity.Id,

		&entity.ActivityId,
		&entity.BpmnErrorCode,
		&entity.BusinessKey,
		&entity.CompletedAt,
		&entity.CreatedAt,
		&entity.DueAt,
		&entity.ErrorDetails,
		&entity.ErrorMessage,
		&entity.ExtensionProperties,
		&entity.LocalVariables,
		&entity.LockExpiresAt,
		&entity.LockedBy,
		&entity.Priority,
		&entity.ProcessDefinitionKey,
		&entity.ProcessInstanceId,
		&entity.Retries,
		&entity.TenantId,
		&entity.TopicName,
		&entity.Variables,
	); err != nil {
		return nil, err
	}
	return &entity, nil
}
