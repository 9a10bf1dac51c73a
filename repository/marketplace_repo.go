package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/regen_bazaar/model"
)

type OrganizationRepository struct {
	db *gorm.DB
}

func NewOrganizationRepository(db *gorm.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

func (r *OrganizationRepository) Create(ctx context.Context, org *model.Organization) error {
	org.WalletAddress = strings.ToLower(org.WalletAddress)
	return r.db.WithContext(ctx).Create(org).Error
}

// FindByWallet returns gorm.ErrRecordNotFound when no organization owns the address.
func (r *OrganizationRepository) FindByWallet(ctx context.Context, address string) (*model.Organization, error) {
	var org model.Organization
	if err := r.db.WithContext(ctx).Where("wallet_address = ?", strings.ToLower(address)).First(&org).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *OrganizationRepository) FindByID(ctx context.Context, id string) (*model.Organization, error) {
	var org model.Organization
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&org).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

// ProjectFilter narrows ListActive. Zero values are ignored.
type ProjectFilter struct {
	Category       string
	OrganizationID string
	WalletAddress  string
	Page, Size     int
}

type ProjectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) Create(ctx context.Context, p *model.Project) error {
	p.WalletAddress = strings.ToLower(p.WalletAddress)
	if p.Status == "" {
		p.Status = model.StatusActive
	}
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *ProjectRepository) withPurchaseCount(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&model.Project{}).
		Select("projects.*, (SELECT COUNT(*) FROM purchases WHERE purchases.project_id = projects.id) AS purchase_count").
		Preload("Organization")
}

func (r *ProjectRepository) Get(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	if err := r.withPurchaseCount(ctx).Where("projects.id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (f ProjectFilter) scope(db *gorm.DB) *gorm.DB {
	db = db.Where("projects.status = ?", model.StatusActive)
	if f.Category != "" {
		db = db.Where("projects.category = ?", f.Category)
	}
	if f.OrganizationID != "" {
		db = db.Where("projects.organization_id = ?", f.OrganizationID)
	}
	if f.WalletAddress != "" {
		db = db.Where("projects.wallet_address = ?", strings.ToLower(f.WalletAddress))
	}
	return db
}

// ListActive returns active projects, newest first, with their organization and purchase count.
func (r *ProjectRepository) ListActive(ctx context.Context, f ProjectFilter) ([]*model.Project, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Project{}).Scopes(f.scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q := r.withPurchaseCount(ctx).Scopes(f.scope).Order("projects.created_at desc")
	if f.Size > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		q = q.Offset((page - 1) * f.Size).Limit(f.Size)
	}
	var projects []*model.Project
	if err := q.Find(&projects).Error; err != nil {
		return nil, 0, err
	}
	return projects, total, nil
}

type VaultEventRepository struct {
	db *gorm.DB
}

func NewVaultEventRepository(db *gorm.DB) *VaultEventRepository {
	return &VaultEventRepository{db: db}
}

// ListOrphans returns processed deposits no purchase or stake row references.
func (r *VaultEventRepository) ListOrphans(ctx context.Context) ([]*model.VaultEvent, error) {
	var list []*model.VaultEvent
	err := r.db.WithContext(ctx).
		Where("processed = ? AND matched_kind = ?", true, "").
		Order("block_number asc, log_index asc").
		Find(&list).Error
	return list, err
}
