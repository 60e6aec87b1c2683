package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// TaskCallExpiry is the watchdog task enqueued when a business call is
// placed; it fires if the provider never reported a final status.
const TaskCallExpiry = "callbacks.call.expire"

type CallExpiryPayload struct {
	RequestID string `json:"requestId"`
}

func NewCallExpiryTask(payload CallExpiryPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCallExpiry, data), nil
}

func ParseCallExpiryPayload(task *asynq.Task) (CallExpiryPayload, error) {
	var payload CallExpiryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return CallExpiryPayload{}, err
	}
	return payload, nil
}
