package service

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"gorm.io/gorm"

	"github.com/regen_bazaar/model"
)

const (
	batchProcessSize    = 100
	pollProcessInterval = 2 * time.Second
	// events younger than this are left for the orchestrator to record first
	matchGracePeriod = time.Minute
)

// ReconcileProcessor matches scanned vault deposits to purchase and stake rows
// by transaction hash. Deposits without a row stay processed and unmatched,
// they are listed as orphans for manual reconciliation.
type ReconcileProcessor struct {
	db       *gorm.DB
	chain    string
	interval time.Duration
	grace    time.Duration
	logger   log.Logger
}

func NewReconcileProcessor(db *gorm.DB, chain string) *ReconcileProcessor {
	return &ReconcileProcessor{
		db:       db,
		chain:    chain,
		interval: pollProcessInterval,
		grace:    matchGracePeriod,
		logger:   log.New("component", "reconcile", "chain", chain),
	}
}

func (p *ReconcileProcessor) fetchPendingEvents(ctx context.Context, limit int) ([]model.VaultEvent, error) {
	var evs []model.VaultEvent
	if err := p.db.WithContext(ctx).
		Where("chain = ? AND processed = ? AND created_at <= ?", p.chain, false, time.Now().Add(-p.grace)).
		Order("block_number asc, log_index asc").
		Limit(limit).
		Find(&evs).Error; err != nil {
		return nil, err
	}
	return evs, nil
}

// match finds the record the deposit paid for.
func match(tx *gorm.DB, txHash string) (kind, id string, err error) {
	var purchase model.Purchase
	err = tx.Select("id").Where("LOWER(transaction_hash) = ?", txHash).First(&purchase).Error
	if err == nil {
		return "purchase", purchase.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", "", err
	}
	var stake model.Stake
	err = tx.Select("id").Where("LOWER(transaction_hash) = ?", txHash).First(&stake).Error
	if err == nil {
		return "stake", stake.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", "", err
	}
	return "", "", nil
}

func (p *ReconcileProcessor) processEvent(ctx context.Context, ev model.VaultEvent) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		kind, id, err := match(tx, ev.TxHash)
		if err != nil {
			return err
		}
		res := tx.Model(&model.VaultEvent{}).
			Where("id = ? AND processed = ?", ev.ID, false).
			Updates(map[string]interface{}{
				"processed":    true,
				"matched_kind": kind,
				"matched_id":   id,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 && kind == "" {
			p.logger.Warn("Orphan vault deposit", "tx", ev.TxHash, "depositor", ev.Depositor, "wei", ev.AmountWei, "block", ev.BlockNumber)
		}
		return nil
	})
}

// processBatch handles up to one batch of pending events and returns how many
// it looked at.
func (p *ReconcileProcessor) processBatch(ctx context.Context) (int, error) {
	evs, err := p.fetchPendingEvents(ctx, batchProcessSize)
	if err != nil {
		return 0, err
	}
	for _, ev := range evs {
		if err := p.processEvent(ctx, ev); err != nil {
			p.logger.Warn("Process event failed", "id", ev.ID, "tx", ev.TxHash, "err", err)
		}
	}
	return len(evs), nil
}

func (p *ReconcileProcessor) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := p.processBatch(ctx); err != nil {
				p.logger.Warn("Fetch pending events failed", "err", err)
			}
		}
	}
}
