package gateway

import "github.com/scott0229/scott-agent-sub000/internal/models"

// Security types understood by the gateway.
const (
	// SecTypeStock is an equity underlying.
	SecTypeStock = "STK"
	// SecTypeOption is a listed option.
	SecTypeOption = "OPT"
	// SecTypeCombo is a multi-leg net-priced order ("BAG" on the wire).
	SecTypeCombo = "BAG"
)

// Order actions.
const (
	// ActionBuy buys to open or close.
	ActionBuy = "BUY"
	// ActionSell sells to open or close.
	ActionSell = "SELL"
)

// Request is one numbered outbound message. ReqID reports the
// correlator-issued id the gateway will echo on every answering event.
type Request interface {
	ReqID() int64
}

// ContractSpec is the request-side contract description: either a bare
// underlying (STK) or a fully qualified option. TradingClass
// disambiguates underlyings that list several option series under one
// symbol; leaving it empty lets the gateway pick its default series.
type ContractSpec struct {
	ConID        int64
	Symbol       string
	SecType      string
	Expiry       string
	Strike       float64
	Right        models.Right
	TradingClass string
	Exchange     string
	Currency     string
}

// StockSpec builds a SMART-routed USD equity spec for symbol.
func StockSpec(symbol string) ContractSpec {
	return ContractSpec{
		Symbol:   symbol,
		SecType:  SecTypeStock,
		Exchange: "SMART",
		Currency: "USD",
	}
}

// OptionSpec builds a SMART-routed USD option spec. tradingClass may be
// empty when no chain data is available to supply it.
func OptionSpec(c models.OptionContract, tradingClass string) ContractSpec {
	return ContractSpec{
		Symbol:       c.Symbol,
		SecType:      SecTypeOption,
		Expiry:       c.Expiry,
		Strike:       c.Strike,
		Right:        c.Right,
		TradingClass: tradingClass,
		Exchange:     "SMART",
		Currency:     "USD",
	}
}

// MarketDataRequest opens a one-shot snapshot (or a streaming
// subscription when Snapshot is false) for one contract.
type MarketDataRequest struct {
	ID       int64
	Contract ContractSpec
	Snapshot bool
}

// ReqID returns the request id.
func (r MarketDataRequest) ReqID() int64 { return r.ID }

// ContractDetailsRequest asks the gateway to resolve a contract spec to
// its immutable numeric contract id.
type ContractDetailsRequest struct {
	ID       int64
	Contract ContractSpec
}

// ReqID returns the request id.
func (r ContractDetailsRequest) ReqID() int64 { return r.ID }

// ChainParamsRequest asks for the option parameter sets (expirations,
// strikes, trading classes) listed for an underlying.
type ChainParamsRequest struct {
	ID              int64
	Symbol          string
	SecType         string
	UnderlyingConID int64
}

// ReqID returns the request id.
func (r ChainParamsRequest) ReqID() int64 { return r.ID }

// ComboLeg is one side of a combo order, addressed by resolved conid.
type ComboLeg struct {
	ConID  int64  `json:"con_id"`
	Action string `json:"action"`
	Ratio  int    `json:"ratio"`
}

// ComboOrder is a two-leg net-priced combo. LimitPrice is the net
// credit(-)/debit(+) for one unit of the combo.
type ComboOrder struct {
	Symbol     string     `json:"symbol"`
	Legs       []ComboLeg `json:"legs"`
	Quantity   int        `json:"quantity"`
	LimitPrice float64    `json:"limit_price"`
	TIF        string     `json:"tif"`
	ClientTag  string     `json:"client_tag"`
}

// PlaceOrderRequest submits one combo order for one account. The id
// doubles as the gateway-side order id; OrderStatus events echo it.
type PlaceOrderRequest struct {
	ID      int64
	Account string
	Order   ComboOrder
}

// ReqID returns the order id.
func (r PlaceOrderRequest) ReqID() int64 { return r.ID }
