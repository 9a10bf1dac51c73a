package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
	"gorm.io/gorm"

	"github.com/regen_bazaar/model"
)

var (
	ErrUserRejected          = errors.New("request rejected by user")
	ErrProviderNotFound      = errors.New("wallet provider not found")
	ErrUnsupportedWallet     = errors.New("unsupported wallet type")
	ErrConnectionTimeout     = errors.New("connection timeout")
	ErrConnectInProgress     = errors.New("wallet connection already in progress")
	ErrMaxAttempts           = errors.New("maximum connection attempts reached, please try again later")
	ErrNoAccounts            = errors.New("no accounts found, please unlock your wallet")
	ErrAccountNotAvailable   = errors.New("requested account is not exposed by the wallet")
	ErrChainSwitchFailed     = errors.New("failed to switch network")
	ErrNoWalletConnected     = errors.New("no wallet connected")
	ErrInvalidAmount         = errors.New("amount must be a positive decimal")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrTransactionReverted   = errors.New("transaction reverted")
	ErrPersistenceFailure    = errors.New("deposit confirmed but record was not saved")
	ErrConfirmationUnknown   = errors.New("deposit sent but its confirmation could not be tracked")
	ErrAlreadyStaked         = errors.New("this purchase is already staked")
	ErrDuplicateOrganization = errors.New("an organization is already registered for this wallet")
	ErrNotFound              = errors.New("record not found")
	ErrInvalidAddress        = errors.New("invalid wallet address")
	ErrProjectInactive       = errors.New("project is not open for purchase")
	ErrActionInProgress      = errors.New("a transaction for this item is already in progress")
)

// EIP-1193 / JSON-RPC provider error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupported       = 4200
	CodeDisconnected      = 4900
	CodeUnrecognizedChain = 4902
	CodeInternal          = -32603
)

// ProviderError is an error returned by a wallet provider. It satisfies rpc.Error
// so errors coming from a real JSON-RPC transport classify the same way.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string { return fmt.Sprintf("%s (code %d)", e.Message, e.Code) }
func (e *ProviderError) ErrorCode() int { return e.Code }

func providerCode(err error) (int, bool) {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode(), true
	}
	return 0, false
}

func isUserRejection(err error) bool {
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	if code, ok := providerCode(err); ok && code == CodeUserRejected {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "action_rejected") || strings.Contains(msg, "user rejected") || strings.Contains(msg, "user denied")
}

// classifyChainError maps errors from signing/broadcasting a deposit onto the
// user-facing categories.
func classifyChainError(err error) error {
	switch {
	case err == nil:
		return nil
	case isUserRejection(err):
		if errors.Is(err, ErrUserRejected) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUserRejected, err)
	case strings.Contains(strings.ToLower(err.Error()), "insufficient funds"):
		if errors.Is(err, ErrInsufficientFunds) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	default:
		return err
	}
}

// ReconciliationError reports a sent deposit whose database record could not
// be written. TxHash identifies the deposit for manual reconciliation.
// Unconfirmed is set when the receipt itself could not be tracked.
type ReconciliationError struct {
	Kind            model.TxKind
	TxHash          string
	Amount          string
	RelatedEntityID string
	Unconfirmed     bool
	Err             error
}

func (e *ReconciliationError) Error() string {
	if e.Unconfirmed {
		return fmt.Sprintf("%s deposit %s for %s sent but not tracked: %v", e.Kind, e.TxHash, e.RelatedEntityID, e.Err)
	}
	return fmt.Sprintf("%s deposit %s for %s confirmed but not recorded: %v", e.Kind, e.TxHash, e.RelatedEntityID, e.Err)
}

func (e *ReconciliationError) Unwrap() []error {
	if e.Unconfirmed {
		return []error{ErrConfirmationUnknown, e.Err}
	}
	return []error{ErrPersistenceFailure, e.Err}
}

// UserMessage returns the text shown to the user for err.
func UserMessage(err error) string {
	var recErr *ReconciliationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &recErr) && recErr.Unconfirmed:
		return fmt.Sprintf("Your deposit was sent (transaction %s) but we could not confirm it. Please contact support with this transaction hash.", recErr.TxHash)
	case errors.As(err, &recErr):
		return fmt.Sprintf("Your deposit was confirmed (transaction %s) but we could not record it. Please contact support with this transaction hash.", recErr.TxHash)
	case errors.Is(err, ErrUserRejected):
		return "Transaction rejected by user"
	case errors.Is(err, ErrInsufficientFunds):
		return "Insufficient funds in wallet"
	case errors.Is(err, ErrNoWalletConnected):
		return "Please connect your wallet first"
	case errors.Is(err, ErrProviderNotFound):
		return "Wallet not found. Please install it first."
	case errors.Is(err, ErrConnectionTimeout):
		return "Connection timeout"
	case errors.Is(err, ErrChainSwitchFailed):
		return "Failed to switch network. Please try again."
	case errors.Is(err, ErrMaxAttempts):
		return "Maximum connection attempts reached. Please try again later."
	case errors.Is(err, ErrNoAccounts):
		return "No accounts found. Please unlock your wallet"
	case errors.Is(err, ErrActionInProgress):
		return "A transaction for this item is already in progress"
	case errors.Is(err, ErrProjectInactive):
		return "This project is no longer available"
	case errors.Is(err, ErrAlreadyStaked):
		return "This purchase is already staked"
	case errors.Is(err, ErrDuplicateOrganization):
		return "An organization is already registered for this wallet."
	case errors.Is(err, ErrTransactionReverted):
		return "Transaction failed"
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return "This record already exists."
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return "Referenced record does not exist."
	default:
		return err.Error()
	}
}
