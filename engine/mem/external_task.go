package mem

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/gclaussn/go-external-task/engine"
	"github.com/gclaussn/go-external-task/engine/internal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type externalTaskRepository struct {
	entities []internal.ExternalTaskEntity
}

func (r *externalTaskRepository) Insert(entity *internal.ExternalTaskEntity) error {
	r.entities = append(r.entities, *entity)
	return nil
}

func (r *externalTaskRepository) Select(id string) (*internal.ExternalTaskEntity, error) {
	for _, e := range r.entities {
		if e.Id == id {
			return &e, nil
		}
	}
	return nil, fmt.Errorf("failed to select external task %s: %w", id, pgx.ErrNoRows)
}

func (r *externalTaskRepository) Update(entity *internal.ExternalTaskEntity) error {
	for i, e := range r.entities {
		if e.Id == entity.Id {
			r.entities[i] = *entity
			return nil
		}
	}
	return fmt.Errorf("failed to update external task %s: %w", entity.Id, pgx.ErrNoRows)
}

func (r *externalTaskRepository) Query(c engine.ExternalTaskCriteria, o engine.QueryOptions, now time.Time) ([]*internal.ExternalTaskEntity, error) {
	var (
		results []*internal.ExternalTaskEntity
		offset  int
	)

	for _, e := range r.entities {
		if !e.MatchesCriteria(c, now) {
			continue
		}

		if offset < o.Offset {
			offset++
			continue
		}

		results = append(results, &e)

		if o.Limit > 0 && len(results) == o.Limit {
			break
		}
	}

	return results, nil
}

func (r *externalTaskRepository) Lock(cmd engine.FetchAndLockCmd, lockedAt time.Time) ([]*internal.ExternalTaskEntity, error) {
	type candidate struct {
		index int
		topic engine.FetchTopic
	}

	var candidates []candidate
	for i, e := range r.entities {
		if !e.IsFetchable(lockedAt) {
			continue
		}

		topic, ok := internal.FindTopic(cmd.Topics, &e)
		if !ok {
			continue
		}

		candidates = append(candidates, candidate{index: i, topic: topic})
	}

	if cmd.UsePriority {
		// stable, since entities are ordered by creation
		slices.SortStableFunc(candidates, func(a candidate, b candidate) int {
			return cmp.Compare(r.entities[b.index].Priority, r.entities[a.index].Priority)
		})
	}

	if len(candidates) > cmd.MaxTasks {
		candidates = candidates[:cmd.MaxTasks]
	}

	results := make([]*internal.ExternalTaskEntity, len(candidates))
	for i, c := range candidates {
		e := r.entities[c.index]

		e.LockExpiresAt = pgtype.Timestamp{Time: lockedAt.Add(time.Duration(c.topic.LockDuration) * time.Millisecond), Valid: true}
		e.LockedBy = pgtype.Text{String: cmd.WorkerId, Valid: true}
		r.entities[c.index] = e

		results[i] = &e
	}

	return results, nil
}
