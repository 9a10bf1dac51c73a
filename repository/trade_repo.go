package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/regen_bazaar/model"
)

type PurchaseRepository struct {
	db *gorm.DB
}

func NewPurchaseRepository(db *gorm.DB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

// Create inserts the purchase and bumps the project's current_funding in one
// transaction. The increment is a single UPDATE so concurrent buyers never
// overwrite each other's totals.
func (r *PurchaseRepository) Create(ctx context.Context, p *model.Purchase) error {
	p.BuyerAddress = strings.ToLower(p.BuyerAddress)
	if p.Status == "" {
		p.Status = model.StatusActive
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		res := tx.Model(&model.Project{}).
			Where("id = ?", p.ProjectID).
			UpdateColumn("current_funding", gorm.Expr("current_funding + ?", p.Price))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("project %s: %w", p.ProjectID, gorm.ErrRecordNotFound)
		}
		return nil
	})
}

func (r *PurchaseRepository) FindByID(ctx context.Context, id string) (*model.Purchase, error) {
	var p model.Purchase
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PurchaseRepository) FindByTxHash(ctx context.Context, txHash string) (*model.Purchase, error) {
	var p model.Purchase
	if err := r.db.WithContext(ctx).Where("LOWER(transaction_hash) = ?", strings.ToLower(txHash)).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListWithStakeStatus returns the buyer's active purchases, newest first,
// flagged with whether an active stake references them.
func (r *PurchaseRepository) ListWithStakeStatus(ctx context.Context, buyer string) ([]*model.PurchaseWithStake, error) {
	var purchases []*model.Purchase
	if err := r.db.WithContext(ctx).
		Preload("Project.Organization").
		Where("buyer_address = ? AND status = ?", strings.ToLower(buyer), model.StatusActive).
		Order("created_at desc").
		Find(&purchases).Error; err != nil {
		return nil, err
	}
	if len(purchases) == 0 {
		return []*model.PurchaseWithStake{}, nil
	}

	ids := make([]string, 0, len(purchases))
	for _, p := range purchases {
		ids = append(ids, p.ID)
	}
	var staked []string
	if err := r.db.WithContext(ctx).Model(&model.Stake{}).
		Where("status = ? AND purchase_id IN ?", model.StatusActive, ids).
		Pluck("purchase_id", &staked).Error; err != nil {
		return nil, err
	}
	stakedSet := make(map[string]struct{}, len(staked))
	for _, id := range staked {
		stakedSet[id] = struct{}{}
	}

	out := make([]*model.PurchaseWithStake, 0, len(purchases))
	for _, p := range purchases {
		_, ok := stakedSet[p.ID]
		out = append(out, &model.PurchaseWithStake{Purchase: *p, IsStaked: ok})
	}
	return out, nil
}

type StakeRepository struct {
	db *gorm.DB
}

func NewStakeRepository(db *gorm.DB) *StakeRepository {
	return &StakeRepository{db: db}
}

// Create inserts the stake. A second active stake on the same purchase fails
// with gorm.ErrDuplicatedKey.
func (r *StakeRepository) Create(ctx context.Context, s *model.Stake) error {
	if s.Status == "" {
		s.Status = model.StatusActive
	}
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *StakeRepository) HasActiveStake(ctx context.Context, purchaseID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Stake{}).
		Where("purchase_id = ? AND status = ?", purchaseID, model.StatusActive).
		Count(&n).Error
	return n > 0, err
}

func (r *StakeRepository) FindByTxHash(ctx context.Context, txHash string) (*model.Stake, error) {
	var s model.Stake
	if err := r.db.WithContext(ctx).Where("LOWER(transaction_hash) = ?", strings.ToLower(txHash)).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListActiveByBuyer returns active stakes on purchases owned by buyer.
func (r *StakeRepository) ListActiveByBuyer(ctx context.Context, buyer string) ([]*model.Stake, error) {
	var list []*model.Stake
	err := r.db.WithContext(ctx).
		Joins("JOIN purchases ON purchases.id = stakes.purchase_id").
		Where("stakes.status = ? AND purchases.buyer_address = ?", model.StatusActive, strings.ToLower(buyer)).
		Preload("Purchase.Project.Organization").
		Order("stakes.created_at desc").
		Find(&list).Error
	return list, err
}

// Withdraw flips an active stake to withdrawn. txHash is optional and is kept
// apart from the deposit hash.
func (r *StakeRepository) Withdraw(ctx context.Context, stakeID, txHash string) error {
	updates := map[string]interface{}{"status": model.StatusWithdrawn}
	if txHash != "" {
		updates["withdraw_transaction_hash"] = txHash
	}
	res := r.db.WithContext(ctx).Model(&model.Stake{}).
		Where("id = ? AND status = ?", stakeID, model.StatusActive).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("active stake %s: %w", stakeID, gorm.ErrRecordNotFound)
	}
	return nil
}
