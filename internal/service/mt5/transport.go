package mt5

import (
	"fmt"

	"FxPull/pkg/config"
	applogger "FxPull/pkg/logger"
)

// NewTransport builds the transport named by mt5.transport.
func NewTransport(cfg *config.Config, l *applogger.Logger) (Transport, error) {
	switch cfg.MT5.Transport {
	case "http":
		return NewHTTPTransport(cfg.MT5.BridgeURL, cfg.MT5.Timeout), nil
	case "ws":
		return NewWSTransport(cfg.MT5.BridgeURL, l), nil
	case "amqp":
		return NewAMQPTransport(cfg.MT5.AMQPURL, cfg.MT5.RequestQueue, l), nil
	default:
		return nil, fmt.Errorf("unsupported mt5 transport '%s'", cfg.MT5.Transport)
	}
}
