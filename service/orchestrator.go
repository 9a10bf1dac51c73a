package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/regen_bazaar/model"
)

// WalletSource hands out the signer of the connected wallet.
type WalletSource interface {
	Signer() (Signer, error)
}

// Vault is the on-chain deposit collaborator.
type Vault interface {
	Deposit(ctx context.Context, signer Signer, wei *big.Int) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

type PurchaseStore interface {
	Create(ctx context.Context, p *model.Purchase) error
}

type StakeStore interface {
	Create(ctx context.Context, s *model.Stake) error
	HasActiveStake(ctx context.Context, purchaseID string) (bool, error)
}

type ExecuteRequest struct {
	Kind            model.TxKind
	Amount          string
	RelatedEntityID string
	// LockPeriodDays applies to stakes, zero means the default period.
	LockPeriodDays int
}

type ExecuteResult struct {
	PersistedID     string                   `json:"persistedId"`
	TransactionHash string                   `json:"transactionHash"`
	Transaction     model.PendingTransaction `json:"transaction"`
}

type progressText struct {
	submitting, confirming, confirmed, failed, success string
}

var progressMessages = map[model.TxKind]progressText{
	model.TxPurchase: {
		submitting: "Submitting transaction...",
		confirming: "Confirming transaction...",
		confirmed:  "Transaction confirmed!",
		failed:     "Transaction failed",
		success:    "Purchase successful!",
	},
	model.TxStake: {
		submitting: "Submitting stake transaction...",
		confirming: "Confirming stake transaction...",
		confirmed:  "Stake deposit confirmed!",
		failed:     "Stake transaction failed",
		success:    "Successfully staked",
	},
}

// Orchestrator drives one buy or stake from deposit to persisted record.
type Orchestrator struct {
	wallet    WalletSource
	vault     Vault
	purchases PurchaseStore
	stakes    StakeStore
	notifier  Notifier
	now       func() time.Time
	logger    log.Logger

	mu       sync.Mutex
	inflight map[string]struct{} // kind/entity pairs being executed
}

func NewOrchestrator(wallet WalletSource, vault Vault, purchases PurchaseStore, stakes StakeStore, notifier Notifier) *Orchestrator {
	if notifier == nil {
		notifier = NotifierFunc(func(ProgressEvent) {})
	}
	return &Orchestrator{
		wallet:    wallet,
		vault:     vault,
		purchases: purchases,
		stakes:    stakes,
		notifier:  notifier,
		now:       time.Now,
		logger:    log.New("component", "orchestrator"),
		inflight:  make(map[string]struct{}),
	}
}

// begin claims the action on entity. The returned func releases it.
func (o *Orchestrator) begin(kind model.TxKind, entity string) (func(), error) {
	key := string(kind) + "/" + entity
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[key]; busy {
		return nil, ErrActionInProgress
	}
	o.inflight[key] = struct{}{}
	return func() {
		o.mu.Lock()
		delete(o.inflight, key)
		o.mu.Unlock()
	}, nil
}

// Execute runs req. The deposit is sent at most once and the record is written
// only after the deposit is confirmed. Once sent, cancelling ctx no longer stops
// the confirmation wait or the write. A failed write after confirmation is
// returned as *ReconciliationError and never rolled back on chain. A second
// Execute for the same kind and entity fails with ErrActionInProgress while the
// first one runs.
func (o *Orchestrator) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	texts, ok := progressMessages[req.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown transaction kind %q", req.Kind)
	}
	signer, err := o.wallet.Signer()
	if err != nil {
		return nil, err
	}
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	wei, err := ToWei(amount)
	if err != nil {
		return nil, err
	}
	release, err := o.begin(req.Kind, req.RelatedEntityID)
	if err != nil {
		return nil, err
	}
	defer release()
	if req.Kind == model.TxStake {
		staked, err := o.stakes.HasActiveStake(ctx, req.RelatedEntityID)
		if err != nil {
			return nil, fmt.Errorf("check existing stake: %w", err)
		}
		if staked {
			return nil, ErrAlreadyStaked
		}
	}

	pt := model.PendingTransaction{
		ID:              uuid.NewString(),
		Kind:            req.Kind,
		Amount:          amount.String(),
		State:           model.TxSubmitted,
		RelatedEntityID: req.RelatedEntityID,
		CreatedAt:       o.now(),
	}
	logger := o.logger.New("tx", pt.ID, "kind", pt.Kind, "amount", pt.Amount, "entity", pt.RelatedEntityID)
	o.publish(&pt, texts.submitting, nil, false)

	// Step 1: send the deposit.
	hash, err := o.vault.Deposit(ctx, signer, wei)
	if err != nil {
		logger.Warn("Deposit failed", "err", err)
		pt.State = model.TxFailed
		o.publish(&pt, texts.failed, err, true)
		return nil, err
	}
	pt.TransactionHash = hash.Hex()
	pt.State = model.TxConfirming
	o.publish(&pt, texts.confirming, nil, false)
	ctx = context.WithoutCancel(ctx)

	// Step 2: wait for it to be mined, no deadline of our own.
	if _, err := o.vault.WaitMined(ctx, hash); err != nil {
		pt.State = model.TxFailed
		if !errors.Is(err, ErrTransactionReverted) {
			recErr := &ReconciliationError{
				Kind:            pt.Kind,
				TxHash:          pt.TransactionHash,
				Amount:          pt.Amount,
				RelatedEntityID: pt.RelatedEntityID,
				Unconfirmed:     true,
				Err:             err,
			}
			logger.Error("Sent deposit could not be tracked", "hash", pt.TransactionHash, "err", err)
			o.publish(&pt, UserMessage(recErr), recErr, true)
			return nil, recErr
		}
		logger.Warn("Deposit reverted", "hash", pt.TransactionHash, "err", err)
		o.publish(&pt, texts.failed, err, true)
		return nil, err
	}
	pt.State = model.TxConfirmed
	o.publish(&pt, texts.confirmed, nil, false)

	// Step 3: persist exactly once.
	buyer := strings.ToLower(signer.Address().Hex())
	id, err := o.persist(ctx, req, buyer, amount, pt.TransactionHash)
	if err != nil {
		recErr := &ReconciliationError{
			Kind:            pt.Kind,
			TxHash:          pt.TransactionHash,
			Amount:          pt.Amount,
			RelatedEntityID: pt.RelatedEntityID,
			Err:             err,
		}
		logger.Error("Confirmed deposit was not recorded", "hash", pt.TransactionHash, "buyer", buyer, "err", err)
		o.publish(&pt, UserMessage(recErr), recErr, true)
		return nil, recErr
	}

	logger.Info("Deposit recorded", "hash", pt.TransactionHash, "id", id)
	o.publish(&pt, texts.success, nil, true)
	return &ExecuteResult{PersistedID: id, TransactionHash: pt.TransactionHash, Transaction: pt}, nil
}

func (o *Orchestrator) persist(ctx context.Context, req ExecuteRequest, buyer string, amount decimal.Decimal, txHash string) (string, error) {
	switch req.Kind {
	case model.TxPurchase:
		p := &model.Purchase{
			ProjectID:       req.RelatedEntityID,
			BuyerAddress:    buyer,
			Price:           amount,
			Status:          model.StatusActive,
			TransactionHash: txHash,
		}
		if err := o.purchases.Create(ctx, p); err != nil {
			return "", err
		}
		return p.ID, nil
	default:
		terms := ComputeStakeTerms(req.LockPeriodDays, o.now())
		s := &model.Stake{
			PurchaseID:      req.RelatedEntityID,
			IVLocked:        1,
			APR:             terms.APR,
			VotingPower:     terms.VotingPower,
			LockEndDate:     terms.LockEndDate,
			Status:          model.StatusActive,
			TransactionHash: txHash,
		}
		if err := o.stakes.Create(ctx, s); err != nil {
			return "", err
		}
		return s.ID, nil
	}
}

func (o *Orchestrator) publish(pt *model.PendingTransaction, message string, err error, final bool) {
	ev := ProgressEvent{
		TransactionID:   pt.ID,
		Kind:            pt.Kind,
		State:           pt.State,
		Message:         message,
		Amount:          pt.Amount,
		RelatedEntityID: pt.RelatedEntityID,
		TransactionHash: pt.TransactionHash,
		Final:           final,
		At:              o.now(),
	}
	if err != nil {
		ev.Error = UserMessage(err)
	}
	o.notifier.Notify(ev)
}
