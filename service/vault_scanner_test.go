package service

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/regen_bazaar/model"
	"github.com/regen_bazaar/repository"
)

func newServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := repository.OpenDialector(sqlite.Open(dsn))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

type fakeChain struct {
	mu     sync.Mutex
	head   uint64
	fork   byte
	logs   []types.Log
	filter []ethereum.FilterQuery
}

func (c *fakeChain) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if number == nil {
		number = new(big.Int).SetUint64(c.head)
	}
	return &types.Header{Number: new(big.Int).Set(number), Extra: []byte{c.fork}}, nil
}

func (c *fakeChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = append(c.filter, q)
	var out []types.Log
	for _, l := range c.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

func depositLog(t *testing.T, block uint64, tx string, depositor common.Address, wei int64) types.Log {
	t.Helper()
	data, err := vaultABI.Events["Deposited"].Inputs.NonIndexed().Pack(big.NewInt(wei))
	require.NoError(t, err)
	return types.Log{
		Address:     testVaultAddress,
		Topics:      []common.Hash{depositedTopic, common.BytesToHash(depositor.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash(tx),
		Index:       0,
	}
}

func newTestScanner(chain *fakeChain, db *gorm.DB) *VaultScanner {
	return NewVaultScanner(chain, db, ScannerConfig{
		Chain:         "base-sepolia",
		Vault:         testVaultAddress,
		Confirmations: 10,
		StartBlock:    50,
	})
}

func TestVaultScannerAndReconcile(t *testing.T) {
	db := newServiceTestDB(t)
	ctx := context.Background()
	buyer := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	chain := &fakeChain{
		head: 100,
		logs: []types.Log{
			depositLog(t, 60, "0x0a", buyer, 2_500_000_000_000_000),
			depositLog(t, 70, "0x0b", buyer, 10_000_000_000_000_000),
			depositLog(t, 95, "0x0c", buyer, 1),
		},
	}
	s := newTestScanner(chain, db)

	require.NoError(t, s.stepOnce(ctx))
	require.Len(t, chain.filter, 1)
	q := chain.filter[0]
	assert.Equal(t, uint64(50), q.FromBlock.Uint64())
	assert.Equal(t, uint64(90), q.ToBlock.Uint64())
	assert.Equal(t, []common.Address{testVaultAddress}, q.Addresses)

	var events []model.VaultEvent
	require.NoError(t, db.Order("block_number").Find(&events).Error)
	require.Len(t, events, 2)
	assert.Equal(t, strings.ToLower(buyer.Hex()), events[0].Depositor)
	assert.Equal(t, "2500000000000000", events[0].AmountWei)

	// nothing new until the head moves
	require.NoError(t, s.stepOnce(ctx))
	assert.Len(t, chain.filter, 1)

	// a purchase recorded for the first deposit
	org := &model.Organization{Name: "Reef", WalletAddress: "0x00000000000000000000000000000000000000bb", Username: "reef_000000"}
	require.NoError(t, repository.NewOrganizationRepository(db).Create(ctx, org))
	project := &model.Project{OrganizationID: org.ID, Title: "Coral", FundingGoal: decimal.RequireFromString("0.0025"), StartDate: time.Now()}
	require.NoError(t, repository.NewProjectRepository(db).Create(ctx, project))
	purchase := &model.Purchase{ProjectID: project.ID, BuyerAddress: buyer.Hex(), Price: project.FundingGoal, TransactionHash: common.HexToHash("0x0a").Hex()}
	require.NoError(t, repository.NewPurchaseRepository(db).Create(ctx, purchase))

	p := NewReconcileProcessor(db, "base-sepolia")
	p.grace = -time.Hour
	n, err := p.processBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var matched model.VaultEvent
	require.NoError(t, db.Where("tx_hash = ?", strings.ToLower(common.HexToHash("0x0a").Hex())).First(&matched).Error)
	assert.True(t, matched.Processed)
	assert.Equal(t, "purchase", matched.MatchedKind)
	assert.Equal(t, purchase.ID, matched.MatchedID)

	orphans, err := repository.NewVaultEventRepository(db).ListOrphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, strings.ToLower(common.HexToHash("0x0b").Hex()), orphans[0].TxHash)

	// processed events are not picked up again
	n, err = p.processBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestVaultScannerReorg(t *testing.T) {
	db := newServiceTestDB(t)
	ctx := context.Background()
	depositor := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	chain := &fakeChain{head: 100, logs: []types.Log{depositLog(t, 90, "0x0d", depositor, 5)}}
	s := newTestScanner(chain, db)

	require.NoError(t, s.stepOnce(ctx))
	var count int64
	require.NoError(t, db.Model(&model.VaultEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// same chain: nothing to roll back
	require.NoError(t, s.detectAndHandleReorg(ctx))
	require.NoError(t, db.Model(&model.ProcessedBlock{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	chain.mu.Lock()
	chain.fork = 1
	chain.mu.Unlock()
	require.NoError(t, s.detectAndHandleReorg(ctx))

	require.NoError(t, db.Model(&model.ProcessedBlock{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
	require.NoError(t, db.Model(&model.VaultEvent{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestScannerStepAdjusts(t *testing.T) {
	s := newTestScanner(&fakeChain{}, nil)
	s.adjustStepOnFailure()
	assert.Equal(t, initialStep/2, s.currentStep())
	for i := 0; i < successThreshold; i++ {
		s.adjustStepOnSuccess()
	}
	assert.Equal(t, uint64(float64(initialStep/2)*1.5), s.currentStep())
}
