package scheduler

import (
	"context"
	"fmt"

	"callback_backend/platform/config"
	"callback_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// CallExpirer marks a still-ringing call as failed. Implemented by the
// callbacks service.
type CallExpirer interface {
	ExpireCall(ctx context.Context, requestID uuid.UUID) error
}

// Worker consumes scheduled tasks from the Redis queue.
type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	expirer CallExpirer
	log     *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, expirer CallExpirer, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL)
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:  server,
		mux:     mux,
		expirer: expirer,
		log:     log,
	}

	mux.HandleFunc(TaskCallExpiry, w.handleCallExpiry)

	return w, nil
}

func (w *Worker) handleCallExpiry(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseCallExpiryPayload(task)
	if err != nil {
		return err
	}

	requestID, err := uuid.Parse(payload.RequestID)
	if err != nil {
		return err
	}

	return w.expirer.ExpireCall(ctx, requestID)
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
