package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/regen_bazaar/model"
	"github.com/regen_bazaar/repository"
)

// MarketService covers the marketplace rows around the deposit flow:
// organizations, projects, purchase and stake listings.
type MarketService struct {
	orgRepo      *repository.OrganizationRepository
	projectRepo  *repository.ProjectRepository
	purchaseRepo *repository.PurchaseRepository
	stakeRepo    *repository.StakeRepository
	eventRepo    *repository.VaultEventRepository
	images       ImageGenerator
	logger       log.Logger
}

func NewMarketService(org *repository.OrganizationRepository,
	project *repository.ProjectRepository,
	purchase *repository.PurchaseRepository,
	stake *repository.StakeRepository,
	events *repository.VaultEventRepository,
	images ImageGenerator) *MarketService {
	return &MarketService{
		orgRepo:      org,
		projectRepo:  project,
		purchaseRepo: purchase,
		stakeRepo:    stake,
		eventRepo:    events,
		images:       images,
		logger:       log.New("component", "market"),
	}
}

// ImpactAction is one achieved impact an organization lists for sale.
type ImpactAction struct {
	Title          string `json:"title" binding:"required"`
	AchievedImpact string `json:"achievedImpact"`
	Location       string `json:"location"`
	Period         string `json:"period"`
}

type RegisterOrganizationRequest struct {
	Name          string `json:"name" binding:"required"`
	Type          string `json:"type" binding:"required"`
	WalletAddress string `json:"walletAddress" binding:"required"`
	// Description feeds the profile image prompt.
	Description         string         `json:"description"`
	DevelopmentImageURL string         `json:"developmentImageUrl"`
	TransactionHash     string         `json:"transactionHash"`
	Price               string         `json:"price"`
	ImpactActions       []ImpactAction `json:"impactActions"`
}

type CreateProjectRequest struct {
	Title         string `json:"title" binding:"required"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	FundingGoal   string `json:"fundingGoal" binding:"required"`
	ImpactValue   int    `json:"impactValue"`
	WalletAddress string `json:"walletAddress" binding:"required"`
}

var usernameStrip = regexp.MustCompile(`[^a-z0-9]`)

// DeriveUsername builds the public handle: up to ten alphanumerics of the
// name, an underscore and six hex digits of the wallet.
func DeriveUsername(name, wallet string) string {
	base := usernameStrip.ReplaceAllString(strings.ToLower(name), "")
	if len(base) > 10 {
		base = base[:10]
	}
	return base + "_" + walletSuffix(wallet)
}

func walletSuffix(wallet string) string {
	w := strings.ToLower(strings.TrimPrefix(strings.ToLower(wallet), "0x"))
	if len(w) > 6 {
		w = w[:6]
	}
	return w
}

func normalizeWallet(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}

// RegisterOrganization creates the organization owned by the wallet together
// with one project per impact action.
func (s *MarketService) RegisterOrganization(ctx context.Context, req RegisterOrganizationRequest) (*model.Organization, []*model.Project, error) {
	wallet, err := normalizeWallet(req.WalletAddress)
	if err != nil {
		return nil, nil, err
	}
	var price decimal.Decimal
	if len(req.ImpactActions) > 0 {
		if price, err = ParseAmount(req.Price); err != nil {
			return nil, nil, err
		}
	}

	// === Step 1: 校验钱包是否已注册 ===
	if _, err := s.orgRepo.FindByWallet(ctx, wallet); err == nil {
		return nil, nil, ErrDuplicateOrganization
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}

	// === Step 2: 生成头像 ===
	prompt := req.Description
	if prompt == "" {
		prompt = req.Type
	}
	logo, err := s.images.GenerateProfileImage(ctx, prompt)
	if err != nil {
		return nil, nil, err
	}

	// === Step 3: 创建组织 ===
	org := &model.Organization{
		Name:          req.Name,
		Type:          req.Type,
		WalletAddress: wallet,
		Username:      DeriveUsername(req.Name, wallet),
		LogoURL:       logo,
	}
	if req.DevelopmentImageURL != "" {
		dev := req.DevelopmentImageURL
		org.DevelopmentImageURL = &dev
	}
	if err := s.orgRepo.Create(ctx, org); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, nil, ErrDuplicateOrganization
		}
		return nil, nil, err
	}

	// === Step 4: 每个影响力行动创建一个项目 ===
	projects := make([]*model.Project, 0, len(req.ImpactActions))
	for _, action := range req.ImpactActions {
		p := &model.Project{
			OrganizationID:  org.ID,
			Title:           action.Title,
			Description:     fmt.Sprintf("%s in %s during %s", action.AchievedImpact, action.Location, action.Period),
			Category:        req.Type,
			FundingGoal:     price,
			ImpactValue:     1,
			WalletAddress:   wallet,
			TransactionHash: req.TransactionHash,
			StartDate:       time.Now(),
		}
		if err := s.projectRepo.Create(ctx, p); err != nil {
			return org, projects, fmt.Errorf("create project %q: %w", action.Title, err)
		}
		projects = append(projects, p)
	}
	s.logger.Info("Organization registered", "id", org.ID, "wallet", wallet, "projects", len(projects))
	return org, projects, nil
}

func (s *MarketService) FindOrganizationByWallet(ctx context.Context, address string) (*model.Organization, error) {
	org, err := s.orgRepo.FindByWallet(ctx, address)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return org, err
}

// CreateProject lists a new project, creating a personal organization for the
// wallet when it has none yet.
func (s *MarketService) CreateProject(ctx context.Context, req CreateProjectRequest) (*model.Project, error) {
	wallet, err := normalizeWallet(req.WalletAddress)
	if err != nil {
		return nil, err
	}
	goal, err := ParseAmount(req.FundingGoal)
	if err != nil {
		return nil, err
	}

	org, err := s.orgRepo.FindByWallet(ctx, wallet)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		org = &model.Organization{
			Name:          "Organization " + wallet[:6],
			Type:          "Individual",
			WalletAddress: wallet,
			Username:      "user_" + walletSuffix(wallet),
		}
		if err = s.orgRepo.Create(ctx, org); err != nil {
			return nil, fmt.Errorf("create organization: %w", err)
		}
	} else if err != nil {
		return nil, err
	}

	category := req.Category
	if category == "" {
		category = "Environmental"
	}
	impact := req.ImpactValue
	if impact <= 0 {
		impact = 1
	}
	p := &model.Project{
		OrganizationID: org.ID,
		Title:          req.Title,
		Description:    req.Description,
		Category:       category,
		FundingGoal:    goal,
		ImpactValue:    impact,
		WalletAddress:  wallet,
		StartDate:      time.Now(),
	}
	if err := s.projectRepo.Create(ctx, p); err != nil {
		return nil, err
	}
	p.Organization = org
	return p, nil
}

func (s *MarketService) ListActiveProjects(ctx context.Context, f repository.ProjectFilter) ([]*model.Project, int64, error) {
	return s.projectRepo.ListActive(ctx, f)
}

func (s *MarketService) GetProject(ctx context.Context, id string) (*model.Project, error) {
	p, err := s.projectRepo.Get(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return p, err
}

// PurchasePrice returns the deposit amount for buying project id.
func (s *MarketService) PurchasePrice(ctx context.Context, projectID string) (string, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	if p.Status != model.StatusActive {
		return "", fmt.Errorf("%w: %s is %s", ErrProjectInactive, projectID, p.Status)
	}
	return p.FundingGoal.String(), nil
}

// CheckStakeable verifies purchaseID belongs to buyer.
func (s *MarketService) CheckStakeable(ctx context.Context, purchaseID, buyer string) error {
	p, err := s.purchaseRepo.FindByID(ctx, purchaseID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if !strings.EqualFold(p.BuyerAddress, buyer) {
		return fmt.Errorf("%w: purchase %s is not owned by %s", ErrNotFound, purchaseID, buyer)
	}
	return nil
}

func (s *MarketService) ListPurchasesWithStakeStatus(ctx context.Context, buyer string) ([]*model.PurchaseWithStake, error) {
	return s.purchaseRepo.ListWithStakeStatus(ctx, buyer)
}

func (s *MarketService) ListStakedProjects(ctx context.Context, buyer string) ([]*model.Stake, error) {
	return s.stakeRepo.ListActiveByBuyer(ctx, buyer)
}

func (s *MarketService) WithdrawStake(ctx context.Context, stakeID, txHash string) error {
	err := s.stakeRepo.Withdraw(ctx, stakeID, txHash)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err == nil {
		s.logger.Info("Stake withdrawn", "id", stakeID, "tx", txHash)
	}
	return err
}

// ListOrphanDeposits returns confirmed vault deposits with no matching record.
func (s *MarketService) ListOrphanDeposits(ctx context.Context) ([]*model.VaultEvent, error) {
	return s.eventRepo.ListOrphans(ctx)
}
