package api

import (
	"go.uber.org/zap"

	"taskhub/internal/auth"
	"taskhub/internal/model"
	"taskhub/internal/task"
)

// EventPublisher is the fire-and-forget hook handlers use after a committed
// mutation. Implementations must never block the request path.
type EventPublisher interface {
	Publish(event *model.DomainEvent)
}

type API struct {
	Engine    *task.Engine
	Publisher EventPublisher
	Verifier  auth.Verifier
	Logger    *zap.Logger
}

func NewAPI(engine *task.Engine, pub EventPublisher, verifier auth.Verifier, logger *zap.Logger) *API {
	return &API{
		Engine:    engine,
		Publisher: pub,
		Verifier:  verifier,
		Logger:    logger,
	}
}
