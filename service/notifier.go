package service

import (
	"time"

	"github.com/ethereum/go-ethereum/event"

	"github.com/regen_bazaar/model"
)

// ProgressEvent is one user-facing step of a buy or stake action.
type ProgressEvent struct {
	TransactionID   string        `json:"transactionId"`
	Kind            model.TxKind  `json:"kind"`
	State           model.TxState `json:"state"`
	Message         string        `json:"message"`
	Amount          string        `json:"amount"`
	RelatedEntityID string        `json:"relatedEntityId"`
	TransactionHash string        `json:"transactionHash,omitempty"`
	Error           string        `json:"error,omitempty"`
	// Final is set on the last event of an action.
	Final bool      `json:"final"`
	At    time.Time `json:"at"`
}

type Notifier interface {
	Notify(ProgressEvent)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ProgressEvent)

func (f NotifierFunc) Notify(ev ProgressEvent) { f(ev) }

// ProgressFeed fans progress events out to subscribers.
type ProgressFeed struct {
	feed event.Feed
}

func (p *ProgressFeed) Notify(ev ProgressEvent) {
	p.feed.Send(ev)
}

// Subscribe delivers every progress event to sink. The sink must be drained.
func (p *ProgressFeed) Subscribe(sink chan<- ProgressEvent) event.Subscription {
	return p.feed.Subscribe(sink)
}
