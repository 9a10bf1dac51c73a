package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	StatusActive    = "active"
	StatusWithdrawn = "withdrawn"
)

// 非营利组织表（organizations）
type Organization struct {
	ID                  string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	Name                string    `gorm:"column:name;type:varchar(256);not null" json:"name"`
	Type                string    `gorm:"column:type;type:varchar(64)" json:"type"`
	WalletAddress       string    `gorm:"column:wallet_address;type:varchar(64);uniqueIndex;not null" json:"wallet_address"`
	Username            string    `gorm:"column:username;type:varchar(64);uniqueIndex" json:"username"`
	LogoURL             string    `gorm:"column:logo_url;type:text" json:"logo_url"`
	DevelopmentImageURL *string   `gorm:"column:development_image_url;type:text" json:"development_image_url,omitempty"`
	Verified            bool      `gorm:"column:verified;not null;default:false" json:"verified"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Organization) TableName() string { return "organizations" }

func (o *Organization) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

// 影响力项目表（projects），funding_goal 即购买价格
type Project struct {
	ID              string          `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	OrganizationID  string          `gorm:"column:organization_id;type:varchar(36);index;not null" json:"organization_id"`
	Title           string          `gorm:"column:title;type:varchar(256);not null" json:"title"`
	Description     string          `gorm:"column:description;type:text" json:"description"`
	Category        string          `gorm:"column:category;type:varchar(64);index" json:"category"`
	FundingGoal     decimal.Decimal `gorm:"column:funding_goal;type:decimal(36,18);not null" json:"funding_goal"`
	CurrentFunding  decimal.Decimal `gorm:"column:current_funding;type:decimal(36,18);not null;default:0" json:"current_funding"`
	ImpactValue     int             `gorm:"column:impact_value;not null;default:1" json:"impact_value"`
	WalletAddress   string          `gorm:"column:wallet_address;type:varchar(64);index" json:"wallet_address"`
	TransactionHash string          `gorm:"column:transaction_hash;type:varchar(80)" json:"transaction_hash"`
	Status          string          `gorm:"column:status;type:varchar(16);index;not null;default:'active'" json:"status"`
	StartDate       time.Time       `gorm:"column:start_date" json:"start_date"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`

	Organization  *Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
	PurchaseCount int64         `gorm:"-:migration;column:purchase_count;->" json:"purchase_count"`
}

func (Project) TableName() string { return "projects" }

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// 购买记录表（purchases），transaction_hash 为链上审计字段，写入后不再修改
type Purchase struct {
	ID              string          `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	ProjectID       string          `gorm:"column:project_id;type:varchar(36);index;not null" json:"project_id"`
	BuyerAddress    string          `gorm:"column:buyer_address;type:varchar(64);index;not null" json:"buyer_address"`
	Price           decimal.Decimal `gorm:"column:price;type:decimal(36,18);not null" json:"price"`
	Status          string          `gorm:"column:status;type:varchar(16);index;not null;default:'active'" json:"status"`
	TransactionHash string          `gorm:"column:transaction_hash;type:varchar(80);index;<-:create" json:"transaction_hash"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`

	Project *Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
}

func (Purchase) TableName() string { return "purchases" }

func (p *Purchase) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// 质押记录表（stakes），每个购买最多一条 active 质押；transaction_hash 为存入交易，写入后不再修改
type Stake struct {
	ID              string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	PurchaseID      string    `gorm:"column:purchase_id;type:varchar(36);index;uniqueIndex:idx_stakes_active_purchase,where:status = 'active';not null" json:"purchase_id"`
	IVLocked        int       `gorm:"column:iv_locked;not null;default:1" json:"iv_locked"`
	APR             float64   `gorm:"column:apr;not null" json:"apr"`
	VotingPower     int       `gorm:"column:voting_power;not null" json:"voting_power"`
	LockEndDate     time.Time `gorm:"column:lock_end_date;not null" json:"lock_end_date"`
	Status          string    `gorm:"column:status;type:varchar(16);index;not null;default:'active'" json:"status"`
	TransactionHash string    `gorm:"column:transaction_hash;type:varchar(80);index;<-:create" json:"transaction_hash"`
	// WithdrawTransactionHash is set when the stake is withdrawn.
	WithdrawTransactionHash string    `gorm:"column:withdraw_transaction_hash;type:varchar(80)" json:"withdraw_transaction_hash,omitempty"`
	CreatedAt               time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`

	Purchase *Purchase `gorm:"foreignKey:PurchaseID" json:"purchase,omitempty"`
}

func (Stake) TableName() string { return "stakes" }

func (s *Stake) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// PurchaseWithStake is a purchase row annotated with whether an active stake references it.
type PurchaseWithStake struct {
	Purchase
	IsStaked bool `json:"isStaked"`
}
