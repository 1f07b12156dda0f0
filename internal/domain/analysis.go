package domain

import "time"

// Analysis is the ranked opportunity for one symbol. One row per symbol is kept.
type Analysis struct {
	Symbol              string    `json:"symbol"`
	AcquireExchange     string    `json:"acquire_exchange"`
	DisposeExchange     string    `json:"dispose_exchange"`
	AcquirePrice        float64   `json:"acquire_price"`
	DisposePrice        float64   `json:"dispose_price"`
	SpreadPercent       float64   `json:"spread_percent"`
	TakerFeeAcquire     float64   `json:"taker_fee_acquire"`
	MakerFeeAcquire     float64   `json:"maker_fee_acquire"`
	TakerFeeDispose     float64   `json:"taker_fee_dispose"`
	MakerFeeDispose     float64   `json:"maker_fee_dispose"`
	WithdrawalFee       float64   `json:"withdrawal_fee"`
	WithdrawalNetwork   string    `json:"withdrawal_network,omitempty"`
	ExchangesConsidered int       `json:"exchanges_considered"`
	ComputedAt          time.Time `json:"computed_at"`
}

// CrossExchange reports whether the asset must move between venues.
func (a Analysis) CrossExchange() bool { return a.AcquireExchange != a.DisposeExchange }

// SpreadPercent returns (dispose-acquire)/acquire*100, or 0 when acquire is not positive.
func SpreadPercent(acquire, dispose float64) float64 {
	if acquire <= 0 {
		return 0
	}
	return (dispose - acquire) / acquire * 100
}
