package proxyroll

// Store is the stats storage surface consumed by the stats export. Only
// counters and gauges marked used are ever exported.
type Store interface {
	Counters() []Counter
	Gauges() []Gauge
	// Gauge returns the gauge with the given name, creating it if needed.
	Gauge(name string) Gauge
	SymbolTable() SymbolTable
}

// Counter is a monotonically increasing stat.
type Counter interface {
	Name() string
	Used() bool
	// Latch returns the delta accumulated since the previous Latch call and
	// resets it. The parent is expected to have stopped its own periodic
	// latch cycle before export begins, so the returned delta is everything
	// since the last internal flush.
	Latch() uint64
}

// Gauge is a stat that can move in both directions.
type Gauge interface {
	Name() string
	Used() bool
	Value() uint64
	Inc()
}

// DynamicSpan marks the byte offsets of the first and last character of a
// dynamically generated component within an interned stat name.
type DynamicSpan struct {
	First uint32
	Last  uint32
}

// SymbolTable exposes the dynamic-component metadata of interned stat names.
type SymbolTable interface {
	// DynamicSpans returns the dynamic spans recorded for the given stat
	// name, or nil if every component came from the static table.
	DynamicSpans(name string) []DynamicSpan
}

// hotRestartGenerationGauge counts restart cycles. The parent increments it
// once when it starts answering child requests.
const hotRestartGenerationGauge = "server.hot_restart_generation"
