package gateway

// Event is one typed inbound message from the gateway stream. ReqID
// reports the request the event answers; connection-scoped events
// (account lists, connectivity notices) return 0 or a negative id and
// are routed to the correlator's broadcast hook instead of a handler.
type Event interface {
	ReqID() int64
}

// TickField identifies which quote field a tick carries. Values mirror
// the gateway's tick-type table.
type TickField int

// Price and size tick fields.
const (
	TickFieldBidSize  TickField = 0
	TickFieldBid      TickField = 1
	TickFieldAsk      TickField = 2
	TickFieldAskSize  TickField = 3
	TickFieldLast     TickField = 4
	TickFieldLastSize TickField = 5
	TickFieldVolume   TickField = 8
	TickFieldClose    TickField = 9
)

// Option computation tick fields. Bid/ask/last computations are
// fallbacks; the model computation is authoritative.
const (
	TickFieldBidOptComp   TickField = 10
	TickFieldAskOptComp   TickField = 11
	TickFieldLastOptComp  TickField = 12
	TickFieldModelOptComp TickField = 13
)

// Open-interest tick fields.
const (
	TickFieldCallOpenInterest TickField = 27
	TickFieldPutOpenInterest  TickField = 28
)

// Gateway error codes the engine interprets. Everything else is logged
// and absorbed.
const (
	// CodeNoSecurityDef: no contract matched the resolution request.
	CodeNoSecurityDef = 200
	// CodeNotConnected: the request was written to a dead session.
	CodeNotConnected = 504
	// CodeConnectivityLost / Restored are connection-scoped notices.
	CodeConnectivityLost     = 1100
	CodeConnectivityRestored = 1102
	// CodeLocalTimeout is synthesized by the correlator when a pending
	// request's deadline passes. It is not a gateway code; negative so
	// it can never collide with one.
	CodeLocalTimeout = -2
)

// TickPrice carries one price field for a subscribed contract.
type TickPrice struct {
	ID    int64
	Field TickField
	Price float64
}

// ReqID returns the answered request id.
func (e TickPrice) ReqID() int64 { return e.ID }

// TickSize carries one size field (sizes, volume, open interest).
type TickSize struct {
	ID    int64
	Field TickField
	Size  int64
}

// ReqID returns the answered request id.
func (e TickSize) ReqID() int64 { return e.ID }

// TickOptionComputation carries a full greek set for one contract. The
// Field distinguishes bid/ask/last computations from the model one.
// Absent values arrive as zero.
type TickOptionComputation struct {
	ID         int64
	Field      TickField
	ImpliedVol float64
	Delta      float64
	Gamma      float64
	Theta      float64
	Vega       float64
	OptPrice   float64
	UndPrice   float64
}

// ReqID returns the answered request id.
func (e TickOptionComputation) ReqID() int64 { return e.ID }

// SnapshotEnd signals that a snapshot request finished on the gateway
// side. For sparse contracts it may arrive with no ticks before it, and
// for some data lines it never arrives at all, which is why batch
// completion cannot rely on it alone.
type SnapshotEnd struct {
	ID int64
}

// ReqID returns the answered request id.
func (e SnapshotEnd) ReqID() int64 { return e.ID }

// ContractDetails answers a resolution request with the contract's
// immutable numeric id and listing metadata.
type ContractDetails struct {
	ID           int64
	ConID        int64
	Symbol       string
	TradingClass string
	Multiplier   string
	Exchange     string
}

// ReqID returns the answered request id.
func (e ContractDetails) ReqID() int64 { return e.ID }

// ContractDetailsEnd closes a resolution request's answer stream.
type ContractDetailsEnd struct {
	ID int64
}

// ReqID returns the answered request id.
func (e ContractDetailsEnd) ReqID() int64 { return e.ID }

// ChainParameter carries one option parameter set for an underlying.
// An underlying with several trading classes emits several of these.
type ChainParameter struct {
	ID              int64
	Exchange        string
	UnderlyingConID int64
	TradingClass    string
	Multiplier      string
	Expirations     []string
	Strikes         []float64
}

// ReqID returns the answered request id.
func (e ChainParameter) ReqID() int64 { return e.ID }

// ChainParameterEnd closes a chain parameter answer stream. Unlike
// snapshots, this end signal is reliable.
type ChainParameterEnd struct {
	ID int64
}

// ReqID returns the answered request id.
func (e ChainParameterEnd) ReqID() int64 { return e.ID }

// OrderStatus reports progress of a submitted order.
type OrderStatus struct {
	OrderID      int64
	Status       string
	Filled       int
	Remaining    int
	AvgFillPrice float64
}

// ReqID returns the order id, which lives in the correlator's order
// range like any request id.
func (e OrderStatus) ReqID() int64 { return e.OrderID }

// ErrorEvent reports a gateway error. ID < 0 marks connection-scoped
// errors; ID > 0 ties the error to one pending request.
type ErrorEvent struct {
	ID   int64
	Code int
	Msg  string
}

// ReqID returns the request id the error concerns, or a non-positive
// id for connection-scoped errors.
func (e ErrorEvent) ReqID() int64 { return e.ID }

// Timeout reports whether this is a correlator-synthesized deadline
// expiry rather than a real gateway error.
func (e ErrorEvent) Timeout() bool { return e.Code == CodeLocalTimeout }

// ManagedAccounts lists the sub-accounts the session controls.
// Connection-scoped.
type ManagedAccounts struct {
	Accounts []string
}

// ReqID returns 0; the event is connection-scoped.
func (e ManagedAccounts) ReqID() int64 { return 0 }

// AccountAlias maps one account id to its display alias.
// Connection-scoped.
type AccountAlias struct {
	Account string
	Alias   string
}

// ReqID returns 0; the event is connection-scoped.
func (e AccountAlias) ReqID() int64 { return 0 }

// ConnectionStatus reports session up/down transitions.
// Connection-scoped.
type ConnectionStatus struct {
	Connected bool
}

// ReqID returns 0; the event is connection-scoped.
func (e ConnectionStatus) ReqID() int64 { return 0 }
