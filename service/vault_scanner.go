package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/regen_bazaar/model"
)

const (
	initialStep      = uint64(200)
	minStep          = uint64(10)
	maxStep          = uint64(2000)
	successThreshold = 5
	failureThreshold = 1
	reorgCheckDepth  = 100 // on startup check last N blocks for reorg
)

var depositedTopic = vaultABI.Events["Deposited"].ID

// ScanBackend is the subset of *ethclient.Client the scanner needs.
type ScanBackend interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

type ScannerConfig struct {
	Chain         string
	Vault         common.Address
	Confirmations uint64
	PollInterval  time.Duration
	StartBlock    uint64
}

// VaultScanner records Deposited logs of the vault from confirmed blocks.
type VaultScanner struct {
	client ScanBackend
	db     *gorm.DB
	cfg    ScannerConfig
	logger log.Logger

	mu           sync.Mutex
	step         uint64
	successCount int
	failureCount int
}

func NewVaultScanner(client ScanBackend, db *gorm.DB, cfg ScannerConfig) *VaultScanner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	return &VaultScanner{
		client: client,
		db:     db,
		cfg:    cfg,
		step:   initialStep,
		logger: log.New("component", "scanner", "chain", cfg.Chain),
	}
}

// helper: get last processed block from DB
func (s *VaultScanner) lastProcessedBlock(ctx context.Context) (int64, bool, error) {
	var pb model.ProcessedBlock
	err := s.db.WithContext(ctx).Where("chain = ?", s.cfg.Chain).Order("block_number desc").First(&pb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return pb.BlockNumber, true, nil
}

func (s *VaultScanner) persistProcessedBlock(ctx context.Context, block int64, hash string) error {
	pb := model.ProcessedBlock{
		Chain:       s.cfg.Chain,
		BlockNumber: block,
		BlockHash:   hash,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&pb).Error
}

func (s *VaultScanner) decodeDeposit(l types.Log) (*model.VaultEvent, error) {
	if len(l.Topics) < 2 || l.Topics[0] != depositedTopic {
		return nil, fmt.Errorf("log %s/%d is not a Deposited event", l.TxHash.Hex(), l.Index)
	}
	var out struct{ Amount *big.Int }
	if err := vaultABI.UnpackIntoInterface(&out, "Deposited", l.Data); err != nil {
		return nil, fmt.Errorf("abi unpack: %w", err)
	}
	return &model.VaultEvent{
		Chain:       s.cfg.Chain,
		BlockNumber: int64(l.BlockNumber),
		BlockHash:   l.BlockHash.Hex(),
		TxHash:      strings.ToLower(l.TxHash.Hex()),
		LogIndex:    int(l.Index),
		Depositor:   strings.ToLower(common.BytesToAddress(l.Topics[1].Bytes()).Hex()),
		AmountWei:   out.Amount.String(),
	}, nil
}

// store deposits into DB (vault_events), duplicates are skipped
func (s *VaultScanner) persistLogs(ctx context.Context, logs []types.Log) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, l := range logs {
			if l.Removed {
				continue
			}
			ev, err := s.decodeDeposit(l)
			if err != nil {
				s.logger.Warn("Skipping vault log", "err", err)
				continue
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(ev).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// reorg detection on startup: compare last N processed blocks with chain
func (s *VaultScanner) detectAndHandleReorg(ctx context.Context) error {
	var pbs []model.ProcessedBlock
	if err := s.db.WithContext(ctx).
		Where("chain = ?", s.cfg.Chain).
		Order("block_number desc").
		Limit(reorgCheckDepth).
		Find(&pbs).Error; err != nil {
		return err
	}
	for _, pb := range pbs {
		header, err := s.client.HeaderByNumber(ctx, big.NewInt(pb.BlockNumber))
		if err != nil {
			// node may have pruned the header
			continue
		}
		if header.Hash().Hex() != pb.BlockHash {
			s.logger.Warn("Reorg detected", "block", pb.BlockNumber, "db", pb.BlockHash, "chain", header.Hash().Hex())
			return s.rollbackToBlock(ctx, pb.BlockNumber-1)
		}
		// newest matching block means everything below is canonical too
		return nil
	}
	return nil
}

// rollbackToBlock forgets everything above blockNumber so it is scanned again.
func (s *VaultScanner) rollbackToBlock(ctx context.Context, blockNumber int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chain = ? AND block_number > ?", s.cfg.Chain, blockNumber).Delete(&model.ProcessedBlock{}).Error; err != nil {
			return err
		}
		return tx.Where("chain = ? AND block_number > ?", s.cfg.Chain, blockNumber).Delete(&model.VaultEvent{}).Error
	})
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func (s *VaultScanner) adjustStepOnSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successCount++
	s.failureCount = 0
	if s.successCount >= successThreshold {
		newStep := uint64(float64(s.step) * 1.5)
		if newStep > maxStep {
			newStep = maxStep
		}
		if newStep > s.step {
			s.logger.Debug("Increase scan step", "from", s.step, "to", newStep)
			s.step = newStep
		}
		s.successCount = 0
	}
}

func (s *VaultScanner) adjustStepOnFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount++
	s.successCount = 0
	if s.failureCount >= failureThreshold {
		newStep := uint64(float64(s.step) * 0.5)
		if newStep < minStep {
			newStep = minStep
		}
		if newStep < s.step {
			s.logger.Debug("Decrease scan step", "from", s.step, "to", newStep)
			s.step = newStep
		}
		s.failureCount = 0
	}
}

func (s *VaultScanner) currentStep() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

func (s *VaultScanner) stepOnce(ctx context.Context) error {
	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		s.adjustStepOnFailure()
		return err
	}
	latest := header.Number.Uint64()
	if latest <= s.cfg.Confirmations {
		return nil
	}
	safe := latest - s.cfg.Confirmations

	last, ok, err := s.lastProcessedBlock(ctx)
	if err != nil {
		s.adjustStepOnFailure()
		return err
	}
	var start uint64
	switch {
	case ok:
		start = uint64(last + 1)
	case s.cfg.StartBlock > 0:
		start = s.cfg.StartBlock
	default:
		// fresh database and no start block: only follow new deposits
		start = safe
	}
	if start > safe {
		return nil
	}

	step := s.currentStep()
	end := minUint64(start+step-1, safe)
	s.logger.Debug("Scan range", "from", start, "to", end, "safe", safe, "step", step)

	logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(start),
		ToBlock:   new(big.Int).SetUint64(end),
		Addresses: []common.Address{s.cfg.Vault},
		Topics:    [][]common.Hash{{depositedTopic}},
	})
	if err != nil {
		s.logger.Warn("FilterLogs failed", "from", start, "to", end, "err", err)
		s.adjustStepOnFailure()
		return err
	}
	if len(logs) > 0 {
		if err := s.persistLogs(ctx, logs); err != nil {
			s.adjustStepOnFailure()
			return err
		}
	}

	h, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(end))
	if err != nil {
		// logs are stored, the range is scanned again next round
		s.logger.Warn("Cannot fetch header", "block", end, "err", err)
	} else if err := s.persistProcessedBlock(ctx, int64(end), h.Hash().Hex()); err != nil {
		s.adjustStepOnFailure()
		return err
	}

	s.adjustStepOnSuccess()
	return nil
}

func (s *VaultScanner) Run(ctx context.Context) {
	if err := s.detectAndHandleReorg(ctx); err != nil {
		s.logger.Warn("Reorg check failed", "err", err)
	}
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.stepOnce(ctx); err != nil {
				s.logger.Warn("Scan step failed", "err", err)
			}
		}
	}
}
