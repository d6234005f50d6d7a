// Package mt5 talks to a MetaTrader 5 terminal through a bridge process that
// re-exposes the terminal API as request/response calls.
package mt5

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Bridge methods.
const (
	methodInitialize       = "initialize"
	methodShutdown         = "shutdown"
	methodSymbolInfo       = "symbol_info"
	methodSymbolSelect     = "symbol_select"
	methodSymbolsGet       = "symbols_get"
	methodCopyRatesFromPos = "copy_rates_from_pos"
	methodCopyRatesRange   = "copy_rates_range"
	methodCopyRatesFrom    = "copy_rates_from"
)

// Request is the envelope sent to the bridge.
type Request struct {
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// Response is the envelope returned by the bridge. Exactly one of Result
// and Error is meaningful.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *BridgeError    `json:"error,omitempty"`
}

// BridgeError is a failure reported by the terminal rather than the transport.
type BridgeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("mt5 bridge error %d: %s", e.Code, e.Message)
}

// Transport carries one call to the bridge and returns the raw result.
type Transport interface {
	Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	Close() error
}

func newRequest(method string, params interface{}) Request {
	return Request{ID: uuid.NewString(), Method: method, Params: params}
}

func (r *Response) unwrap() (json.RawMessage, error) {
	if r.Error != nil {
		return nil, r.Error
	}
	return r.Result, nil
}

// isNull reports whether a result carries no value.
func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
