package models

import (
	"time"
)

type TransactionType string

const (
	TxPurchase    TransactionType = "purchase"
	TxTransferIn  TransactionType = "transfer_in"
	TxTransferOut TransactionType = "transfer_out"
	TxRedemption  TransactionType = "redemption"
	TxSpend       TransactionType = "spend"
	TxRefund      TransactionType = "refund"
)

type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
)

// CoinTransaction is one movement of coins on a user's balance. Amount is
// signed: credits are positive, debits negative.
type CoinTransaction struct {
	ID             string            `json:"id" gorm:"primaryKey"`
	UserID         string            `json:"user_id" gorm:"not null;index:idx_coin_tx_user_time"`
	Type           TransactionType   `json:"type" gorm:"not null;index"`
	Amount         int64             `json:"amount" gorm:"not null"`
	Status         TransactionStatus `json:"status" gorm:"default:'completed'"`
	UsageType      string            `json:"usage_type,omitempty"`
	Purpose        string            `json:"purpose,omitempty"`
	CounterpartyID string            `json:"counterparty_id,omitempty"`
	PaymentID      *string           `json:"payment_id,omitempty" gorm:"uniqueIndex"`
	USDAmount      float64           `json:"usd_amount,omitempty"`
	PayoutMethod   string            `json:"payout_method,omitempty"`
	Message        string            `json:"message,omitempty"`
	CreatedAt      time.Time         `json:"created_at" gorm:"index:idx_coin_tx_user_time"`
}

// CoinPackage is a purchasable bundle of coins.
type CoinPackage struct {
	Coins int64   `json:"coins"`
	Price float64 `json:"price"`
	Bonus int64   `json:"bonus"`
}

// Total is the number of coins credited for the package.
func (p CoinPackage) Total() int64 {
	return p.Coins + p.Bonus
}
