package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/regen_bazaar/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := OpenDialector(sqlite.Open(dsn))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func seedProject(t *testing.T, db *gorm.DB, goal string) (*model.Organization, *model.Project) {
	t.Helper()
	ctx := context.Background()
	org := &model.Organization{Name: "Reef Keepers", Type: "NGO", WalletAddress: "0xABCDEF0000000000000000000000000000000001", Username: "reefkeeper_abcdef"}
	require.NoError(t, NewOrganizationRepository(db).Create(ctx, org))
	p := &model.Project{
		OrganizationID: org.ID,
		Title:          "Coral restoration",
		Category:       "Environmental",
		FundingGoal:    decimal.RequireFromString(goal),
		CurrentFunding: decimal.Zero,
		WalletAddress:  org.WalletAddress,
		StartDate:      time.Now(),
	}
	require.NoError(t, NewProjectRepository(db).Create(ctx, p))
	return org, p
}

func TestOrganizationFindByWallet(t *testing.T) {
	db := newTestDB(t)
	repo := NewOrganizationRepository(db)
	org, _ := seedProject(t, db, "0.0025")

	got, err := repo.FindByWallet(context.Background(), "0xabcdef0000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, org.ID, got.ID)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", got.WalletAddress)

	_, err = repo.FindByWallet(context.Background(), "0x0000000000000000000000000000000000000009")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestOrganizationDuplicateWallet(t *testing.T) {
	db := newTestDB(t)
	seedProject(t, db, "0.0025")

	err := NewOrganizationRepository(db).Create(context.Background(), &model.Organization{
		Name: "Copy", WalletAddress: "0xabcdef0000000000000000000000000000000001", Username: "copy",
	})
	assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey), "got %v", err)
}

func TestPurchaseCreateIncrementsFunding(t *testing.T) {
	db := newTestDB(t)
	_, project := seedProject(t, db, "0.0025")
	ctx := context.Background()
	purchases := NewPurchaseRepository(db)

	for i := 0; i < 2; i++ {
		require.NoError(t, purchases.Create(ctx, &model.Purchase{
			ProjectID:       project.ID,
			BuyerAddress:    "0xBuyer",
			Price:           project.FundingGoal,
			TransactionHash: fmt.Sprintf("0xabc%d", i),
		}))
	}

	got, err := NewProjectRepository(db).Get(ctx, project.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.005, got.CurrentFunding.InexactFloat64(), 1e-12)
	assert.Equal(t, int64(2), got.PurchaseCount)
	require.NotNil(t, got.Organization)
	assert.Equal(t, "Reef Keepers", got.Organization.Name)
}

func TestPurchaseCreateConcurrentBuyers(t *testing.T) {
	db := newTestDB(t)
	_, project := seedProject(t, db, "1")
	ctx := context.Background()
	purchases := NewPurchaseRepository(db)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- purchases.Create(ctx, &model.Purchase{
				ProjectID:       project.ID,
				BuyerAddress:    fmt.Sprintf("0xbuyer%d", i),
				Price:           decimal.NewFromInt(1),
				TransactionHash: fmt.Sprintf("0xtx%d", i),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		}
	}

	require.Equal(t, 8, ok)

	got, err := NewProjectRepository(db).Get(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(ok), got.CurrentFunding.InexactFloat64())
	assert.Equal(t, int64(ok), got.PurchaseCount)
}

func TestPurchaseCreateUnknownProjectRollsBack(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	purchases := NewPurchaseRepository(db)

	err := purchases.Create(ctx, &model.Purchase{ProjectID: "missing", BuyerAddress: "0xb", Price: decimal.NewFromInt(1), TransactionHash: "0x1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	var n int64
	require.NoError(t, db.Model(&model.Purchase{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestListWithStakeStatus(t *testing.T) {
	db := newTestDB(t)
	_, project := seedProject(t, db, "0.0025")
	ctx := context.Background()
	purchases := NewPurchaseRepository(db)
	stakes := NewStakeRepository(db)

	first := &model.Purchase{ProjectID: project.ID, BuyerAddress: "0xAA", Price: project.FundingGoal, TransactionHash: "0x01"}
	second := &model.Purchase{ProjectID: project.ID, BuyerAddress: "0xaa", Price: project.FundingGoal, TransactionHash: "0x02"}
	other := &model.Purchase{ProjectID: project.ID, BuyerAddress: "0xbb", Price: project.FundingGoal, TransactionHash: "0x03"}
	for _, p := range []*model.Purchase{first, second, other} {
		require.NoError(t, purchases.Create(ctx, p))
	}
	require.NoError(t, stakes.Create(ctx, &model.Stake{PurchaseID: first.ID, APR: 12, VotingPower: 10, LockEndDate: time.Now().Add(24 * time.Hour), TransactionHash: "0x04"}))

	list, err := purchases.ListWithStakeStatus(ctx, "0xaa")
	require.NoError(t, err)
	require.Len(t, list, 2)
	status := map[string]bool{}
	for _, p := range list {
		status[p.ID] = p.IsStaked
		require.NotNil(t, p.Project)
	}
	assert.True(t, status[first.ID])
	assert.False(t, status[second.ID])

	empty, err := purchases.ListWithStakeStatus(ctx, "0xcc")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStakeLifecycle(t *testing.T) {
	db := newTestDB(t)
	_, project := seedProject(t, db, "0.0025")
	ctx := context.Background()
	purchase := &model.Purchase{ProjectID: project.ID, BuyerAddress: "0xaa", Price: project.FundingGoal, TransactionHash: "0x01"}
	require.NoError(t, NewPurchaseRepository(db).Create(ctx, purchase))
	stakes := NewStakeRepository(db)

	has, err := stakes.HasActiveStake(ctx, purchase.ID)
	require.NoError(t, err)
	assert.False(t, has)

	stake := &model.Stake{PurchaseID: purchase.ID, IVLocked: 1, APR: 27.23, VotingPower: 30, LockEndDate: time.Now().AddDate(0, 0, 90), TransactionHash: "0xSTAKE"}
	require.NoError(t, stakes.Create(ctx, stake))

	has, err = stakes.HasActiveStake(ctx, purchase.ID)
	require.NoError(t, err)
	assert.True(t, has)

	active, err := stakes.ListActiveByBuyer(ctx, "0xAA")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.NotNil(t, active[0].Purchase)
	require.NotNil(t, active[0].Purchase.Project)

	found, err := stakes.FindByTxHash(ctx, "0xstake")
	require.NoError(t, err)
	assert.Equal(t, stake.ID, found.ID)

	second := &model.Stake{PurchaseID: purchase.ID, IVLocked: 1, APR: 12, VotingPower: 10, LockEndDate: time.Now().AddDate(0, 0, 30), TransactionHash: "0xSECOND"}
	err = stakes.Create(ctx, second)
	assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey), "got %v", err)

	require.NoError(t, stakes.Withdraw(ctx, stake.ID, "0xw1"))
	err = stakes.Withdraw(ctx, stake.ID, "")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	has, err = stakes.HasActiveStake(ctx, purchase.ID)
	require.NoError(t, err)
	assert.False(t, has)

	// the deposit hash survives the withdrawal
	found, err = stakes.FindByTxHash(ctx, "0xstake")
	require.NoError(t, err)
	assert.Equal(t, stake.ID, found.ID)
	assert.Equal(t, "0xSTAKE", found.TransactionHash)
	assert.Equal(t, "0xw1", found.WithdrawTransactionHash)
	assert.Equal(t, model.StatusWithdrawn, found.Status)

	// a withdrawn stake no longer blocks a new one
	second.ID = ""
	require.NoError(t, stakes.Create(ctx, second))
}

func TestListActiveProjectsFilter(t *testing.T) {
	db := newTestDB(t)
	org, _ := seedProject(t, db, "0.0025")
	ctx := context.Background()
	projects := NewProjectRepository(db)
	require.NoError(t, projects.Create(ctx, &model.Project{OrganizationID: org.ID, Title: "Schools", Category: "Education", FundingGoal: decimal.NewFromInt(1), StartDate: time.Now()}))
	require.NoError(t, projects.Create(ctx, &model.Project{OrganizationID: org.ID, Title: "Closed", Category: "Education", FundingGoal: decimal.NewFromInt(1), Status: "closed", StartDate: time.Now()}))

	all, total, err := projects.ListActive(ctx, ProjectFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, all, 2)

	edu, total, err := projects.ListActive(ctx, ProjectFilter{Category: "Education"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, edu, 1)
	assert.Equal(t, "Schools", edu[0].Title)

	page, total, err := projects.ListActive(ctx, ProjectFilter{Page: 2, Size: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, page, 1)
}

func TestVaultEventOrphans(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&model.VaultEvent{Chain: "base-sepolia", TxHash: "0x1", LogIndex: 0, Processed: true}).Error)
	require.NoError(t, db.Create(&model.VaultEvent{Chain: "base-sepolia", TxHash: "0x2", LogIndex: 0, Processed: true, MatchedKind: "purchase", MatchedID: "p1"}).Error)
	require.NoError(t, db.Create(&model.VaultEvent{Chain: "base-sepolia", TxHash: "0x3", LogIndex: 0}).Error)

	orphans, err := NewVaultEventRepository(db).ListOrphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "0x1", orphans[0].TxHash)
}
