package model

import (
	"time"

	"gorm.io/gorm"
)

type ProcessedBlock struct {
	ID          uint   `gorm:"primaryKey"`
	Chain       string `gorm:"size:32;index:idx_chain_block,unique"`
	BlockNumber int64  `gorm:"index:idx_chain_block,unique"`
	BlockHash   string `gorm:"size:128"`
	CreatedAt   time.Time
}

// VaultEvent is a Deposited log emitted by the deposit vault.
type VaultEvent struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Chain       string `gorm:"size:32;index:idx_vault_event_unique,unique,priority:1" json:"chain"`
	BlockNumber int64  `gorm:"index" json:"block_number"`
	BlockHash   string `gorm:"size:128" json:"block_hash"`
	TxHash      string `gorm:"size:128;index:idx_vault_event_unique,unique,priority:2" json:"tx_hash"`
	LogIndex    int    `gorm:"index:idx_vault_event_unique,unique,priority:3" json:"log_index"`
	Depositor   string `gorm:"size:64;index" json:"depositor"`
	AmountWei   string `gorm:"type:text" json:"amount_wei"` // decimal string, wei
	Processed   bool   `gorm:"index" json:"processed"`
	// MatchedKind is "purchase", "stake" or empty when no row carries TxHash.
	MatchedKind string    `gorm:"size:16" json:"matched_kind"`
	MatchedID   string    `gorm:"size:36" json:"matched_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// helper: create tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Organization{}, &Project{}, &Purchase{}, &Stake{},
		&ProcessedBlock{}, &VaultEvent{},
	)
}
