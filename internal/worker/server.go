package worker

import (
	"context"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

func NewServer(redisAddr string, concurrency int, handler *Handler, logger *zap.Logger) *Server {
	if concurrency <= 0 {
		concurrency = 10
	}
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency:    concurrency,
			Queues:         map[string]int{QueueName: 1},
			RetryDelayFunc: RetryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.Handle(TypeDispatch, handler)

	return &Server{
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

// Start runs the worker in the background.
func (s *Server) Start() error {
	s.logger.Info("worker starting")
	return s.server.Start(s.mux)
}

func (s *Server) Shutdown() {
	s.logger.Info("worker stopping")
	s.server.Shutdown()
}
