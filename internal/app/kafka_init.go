package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const kafkaClientID = "storefront"

// initKafkaProducer создаёт producer, если список брокеров не пустой.
// Пустой список даёт nil, nil: витрина работает, события копятся в outbox.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	cfg := Config{KafkaBrokers: brokers}
	brokerList := cfg.Brokers()
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList, kafkaClientID)
	if err != nil {
		logger.WithError(err).WithField("brokers", strings.Join(brokerList, ",")).
			Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// closeKafkaProducer закрывает producer, если он был создан.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}
