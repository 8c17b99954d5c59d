package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itixo/durabletask/backend"
	"github.com/itixo/durabletask/backend/history"
	"github.com/redis/go-redis/v9"
)

// KEYS[1] - history list
// KEYS[2] - history state hash
// ARGV[1] - sequence id of the first new event
// ARGV[2] - "1" if the new events finish the instance
// ARGV[3..n] - serialized events
//
// Returns {status, last sequence id}. Status is 0 on success, -1 if the instance is finished, -2 on a
// sequence conflict.
var appendEventsCmd = redis.NewScript(`
	local last = tonumber(redis.call("HGET", KEYS[2], "last") or "0")

	if redis.call("HGET", KEYS[2], "finished") == "1" then
		return { -1, last }
	end

	if tonumber(ARGV[1]) ~= last + 1 then
		return { -2, last }
	end

	for i = 3, #ARGV do
		redis.call("RPUSH", KEYS[1], ARGV[i])
	end

	redis.call("HSET", KEYS[2], "last", last + #ARGV - 2)

	if ARGV[2] == "1" then
		redis.call("HSET", KEYS[2], "finished", "1")
	end

	return { 0, last }
`)

func (rb *redisBackend) Append(ctx context.Context, instanceID string, events ...*history.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Events of the batch have to be consecutive, the script checks where the batch starts
	if err := backend.CheckAppend(instanceID, events[0].SequenceID-1, false, events); err != nil {
		return err
	}

	args := []any{events[0].SequenceID, "0"}
	if history.Finished(events) {
		args[1] = "1"
	}

	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshaling event: %w", err)
		}

		args = append(args, string(data))
	}

	r, err := appendEventsCmd.Run(ctx, rb.rdb, []string{
		historyKey(rb.options.KeyPrefix, instanceID),
		historyStateKey(rb.options.KeyPrefix, instanceID),
	}, args...).Int64Slice()
	if err != nil {
		return fmt.Errorf("appending events: %w", err)
	}

	switch r[0] {
	case -1:
		return backend.ErrInstanceFinished
	case -2:
		return &backend.SequenceConflictError{InstanceID: instanceID, Expected: r[1] + 1, Actual: events[0].SequenceID}
	}

	return nil
}

func (rb *redisBackend) ReadAll(ctx context.Context, instanceID string) ([]*history.Event, error) {
	values, err := rb.rdb.LRange(ctx, historyKey(rb.options.KeyPrefix, instanceID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	events := make([]*history.Event, 0, len(values))
	for _, v := range values {
		e := &history.Event{}
		if err := json.Unmarshal([]byte(v), e); err != nil {
			return nil, fmt.Errorf("unmarshaling event: %w", err)
		}

		events = append(events, e)
	}

	return events, nil
}
