package models

// SymbolInfo is the subset of MT5 symbol properties used here.
type SymbolInfo struct {
	Name             string `json:"name"`
	Visible          bool   `json:"visible"`
	TradeMode        int    `json:"trade_mode"`
	TradeStopsLevel  int    `json:"trade_stops_level"`
	TradeFreezeLevel int    `json:"trade_freeze_level"`
	TimeZone         int    `json:"time_zone"` // seconds east of UTC
	HasSessions      bool   `json:"has_sessions"`
}

// TradeModeFull is SYMBOL_TRADE_MODE_FULL.
const TradeModeFull = 4

type TradingHours struct {
	Timezone         string            `json:"timezone"`
	Sessions         map[string]string `json:"sessions"`
	TradeMode        int               `json:"trade_mode"`
	TradeStopsLevel  int               `json:"trade_stops_level"`
	TradeFreezeLevel int               `json:"trade_freeze_level"`
}
