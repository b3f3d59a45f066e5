package app

import (
	"github.com/sirupsen/logrus"

	"taxi/internal/config"
	"taxi/internal/messaging"
	"taxi/internal/service"
)

// NewNotificationDispatcher returns a broker-backed dispatcher when RabbitMQ
// is enabled and reachable, and a log dispatcher otherwise. The returned
// close function is never nil.
func NewNotificationDispatcher(cfg config.RabbitMQConfig, logger logrus.FieldLogger) (service.Dispatcher, func()) {
	if !cfg.Enabled {
		logger.Info("RabbitMQ disabled, notifications will be logged")
		return service.NewLogDispatcher(logger), func() {}
	}

	conn, err := messaging.NewConnection(cfg.URL, logger)
	if err != nil {
		logger.WithError(err).Error("RabbitMQ unavailable, notifications will be logged")
		return service.NewLogDispatcher(logger), func() {}
	}

	logger.Info("Connected to RabbitMQ")
	return service.NewQueueDispatcher(messaging.NewPublisher(conn)), conn.Close
}
