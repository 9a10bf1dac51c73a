package model

import "time"

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// WalletSession is the process-wide wallet connection. ActiveAddress is nil
// unless State is Connected.
type WalletSession struct {
	ActiveAddress *string         `json:"activeAddress"`
	ChainID       uint64          `json:"chainId"`
	ProviderID    string          `json:"providerId,omitempty"`
	State         ConnectionState `json:"connectionState"`
	ConnectedAt   time.Time       `json:"connectedAt,omitempty"`
}

type TxKind string

const (
	TxPurchase TxKind = "Purchase"
	TxStake    TxKind = "Stake"
)

type TxState string

const (
	TxSubmitted  TxState = "Submitted"
	TxConfirming TxState = "Confirming"
	TxConfirmed  TxState = "Confirmed"
	TxFailed     TxState = "Failed"
)

// PendingTransaction tracks one buy/stake action. Status flow:
// Submitted -> Confirming -> Confirmed, any step may end in Failed.
type PendingTransaction struct {
	ID              string    `json:"id"`
	Kind            TxKind    `json:"kind"`
	Amount          string    `json:"amount"`
	State           TxState   `json:"state"`
	TransactionHash string    `json:"transactionHash,omitempty"`
	RelatedEntityID string    `json:"relatedEntityId"`
	CreatedAt       time.Time `json:"createdAt"`
}
