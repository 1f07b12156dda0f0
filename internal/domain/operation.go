package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode selects the execution environment. Ledgers of different modes never mix.
type Mode string

const (
	ModeLocal   Mode = "local"
	ModeSandbox Mode = "sandbox"
	ModeReal    Mode = "real"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeLocal, ModeSandbox, ModeReal:
		return true
	}
	return false
}

// OperationStatus is the lifecycle state of an arbitrage operation.
type OperationStatus string

const (
	StatusPending               OperationStatus = "pending"
	StatusUSDTTransferInitiated OperationStatus = "usdt_transfer_initiated"
	StatusAssetPurchased        OperationStatus = "asset_purchased"
	StatusAssetTransferred      OperationStatus = "asset_transferred"
	StatusCompleted             OperationStatus = "completed"
	StatusFailed                OperationStatus = "failed"
	StatusCancelled             OperationStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s OperationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Rank orders non-terminal statuses along the happy path.
func (s OperationStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusUSDTTransferInitiated:
		return 1
	case StatusAssetPurchased:
		return 2
	case StatusAssetTransferred:
		return 3
	default:
		return 4
	}
}

// ReleasesReservation reports whether failing from s returns the reserved
// USDT to the available balance. Past the purchase the funds are in flight
// and stay reserved until an operator reconciles them.
func (s OperationStatus) ReleasesReservation() bool {
	return s == StatusPending || s == StatusUSDTTransferInitiated
}

// ReservationState tracks what happened to the USDT reserved at initiation.
type ReservationState string

const (
	ReservationHeld     ReservationState = "held"
	ReservationReleased ReservationState = "released"
	ReservationConsumed ReservationState = "consumed"
)

// LegKind names one step of an operation.
type LegKind string

const (
	LegTransferIn    LegKind = "transfer_in"
	LegAcquire       LegKind = "acquire"
	LegTransferAsset LegKind = "transfer_asset"
	LegDispose       LegKind = "dispose"
)

// LegRecord is the outcome of one completed leg.
type LegRecord struct {
	Kind          LegKind         `json:"kind"`
	TransactionID string          `json:"transaction_id"`
	Network       string          `json:"network,omitempty"`
	Price         float64         `json:"price,omitempty"`
	AmountIn      decimal.Decimal `json:"amount_in"`
	AmountOut     decimal.Decimal `json:"amount_out"`
	Fee           decimal.Decimal `json:"fee"`
	RecordedAt    time.Time       `json:"recorded_at"`
}

// Operation is one attempt to execute an arbitrage opportunity.
// Fee and amount fields are in USDT except AssetAmount, which is in the base asset.
type Operation struct {
	ID                   string           `json:"id"`
	Mode                 Mode             `json:"mode"`
	Symbol               string           `json:"symbol"`
	AcquireExchange      string           `json:"acquire_exchange"`
	DisposeExchange      string           `json:"dispose_exchange"`
	ExpectedAcquirePrice float64          `json:"expected_acquire_price"`
	ExpectedDisposePrice float64          `json:"expected_dispose_price"`
	RealAcquirePrice     float64          `json:"real_acquire_price"`
	RealDisposePrice     float64          `json:"real_dispose_price"`
	InvestedAmount       decimal.Decimal  `json:"invested_amount"`
	ActualInvestedAmount decimal.Decimal  `json:"actual_invested_amount"`
	AssetAmount          decimal.Decimal  `json:"asset_amount"`
	AcquireFee           decimal.Decimal  `json:"acquire_fee"`
	DisposeFee           decimal.Decimal  `json:"dispose_fee"`
	TransferFee          decimal.Decimal  `json:"transfer_fee"`
	FinalUSDTReceived    decimal.Decimal  `json:"final_usdt_received"`
	ProfitLoss           decimal.Decimal  `json:"profit_loss"`
	Status               OperationStatus  `json:"status"`
	Reservation          ReservationState `json:"reservation"`
	AIConfidence         *float64         `json:"ai_confidence,omitempty"`
	TransactionID        string           `json:"transaction_id,omitempty"`
	Legs                 []LegRecord      `json:"legs,omitempty"`
	ErrorMessage         string           `json:"error_message,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
}

// CrossExchange reports whether the asset must move between venues.
func (o Operation) CrossExchange() bool { return o.AcquireExchange != o.DisposeExchange }

// Leg returns the recorded leg of the given kind.
func (o Operation) Leg(kind LegKind) (LegRecord, bool) {
	for _, l := range o.Legs {
		if l.Kind == kind {
			return l, true
		}
	}
	return LegRecord{}, false
}

// TotalFees is acquire + dispose + transfer fees in USDT.
func (o Operation) TotalFees() decimal.Decimal {
	return o.AcquireFee.Add(o.DisposeFee).Add(o.TransferFee)
}

// OperationFilter narrows an operation listing.
type OperationFilter struct {
	Mode   Mode
	Status OperationStatus
	Symbol string
}
