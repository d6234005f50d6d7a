package kafka

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type producerMetrics struct {
	messages *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

type consumerMetrics struct {
	messages *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	dlq      *prometheus.CounterVec
}

func newProducerMetrics(reg prometheus.Registerer) *producerMetrics {
	if reg == nil {
		return nil
	}
	return &producerMetrics{
		messages: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxpull_kafka_producer_messages_total",
			Help: "Messages published to Kafka by result.",
		}, []string{"topic", "result"})),
		bytes: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxpull_kafka_producer_bytes_total",
			Help: "Payload bytes published to Kafka.",
		}, []string{"topic"})),
		latency: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fxpull_kafka_producer_publish_seconds",
			Help:    "Publish latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})),
	}
}

func newConsumerMetrics(reg prometheus.Registerer) *consumerMetrics {
	if reg == nil {
		return nil
	}
	return &consumerMetrics{
		messages: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxpull_kafka_consumer_messages_total",
			Help: "Messages handled by result.",
		}, []string{"topic", "result"})),
		latency: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fxpull_kafka_consumer_handle_seconds",
			Help:    "Handling time per message including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})),
		dlq: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxpull_kafka_consumer_dlq_total",
			Help: "Messages forwarded to the dead letter topic.",
		}, []string{"topic"})),
	}
}

// register returns the collector already registered under the same name
// when there is one, so two clients can share a registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
