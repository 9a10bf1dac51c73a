package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifyChainError(t *testing.T) {
	err := classifyChainError(errors.New("insufficient funds for gas * price + value"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, "Insufficient funds in wallet", UserMessage(err))

	err = classifyChainError(errors.New("ACTION_REJECTED: user rejected transaction"))
	assert.ErrorIs(t, err, ErrUserRejected)

	err = classifyChainError(&ProviderError{Code: CodeUserRejected, Message: "nope"})
	assert.ErrorIs(t, err, ErrUserRejected)

	other := errors.New("nonce too low")
	assert.Equal(t, other, classifyChainError(other))
	assert.NoError(t, classifyChainError(nil))
}

func TestUserMessage(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("wrap: %w", ErrNoWalletConnected), "Please connect your wallet first"},
		{ErrConnectionTimeout, "Connection timeout"},
		{ErrChainSwitchFailed, "Failed to switch network. Please try again."},
		{ErrMaxAttempts, "Maximum connection attempts reached. Please try again later."},
		{ErrAlreadyStaked, "This purchase is already staked"},
		{ErrTransactionReverted, "Transaction failed"},
		{fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), "This record already exists."},
		{gorm.ErrForeignKeyViolated, "Referenced record does not exist."},
		{nil, ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, UserMessage(c.err))
	}
}

func TestReconciliationErrorUnwrap(t *testing.T) {
	cause := errors.New("db down")
	err := fmt.Errorf("execute: %w", &ReconciliationError{TxHash: "0x01", Err: cause})
	assert.ErrorIs(t, err, ErrPersistenceFailure)
	assert.ErrorIs(t, err, cause)
}
