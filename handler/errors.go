package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/regen_bazaar/model"
	"github.com/regen_bazaar/service"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// checked in order, the first match wins
var errorMappings = []errorMapping{
	{service.ErrPersistenceFailure, http.StatusInternalServerError, "PERSISTENCE_FAILURE"},
	{service.ErrConfirmationUnknown, http.StatusInternalServerError, "CONFIRMATION_UNKNOWN"},
	{service.ErrUserRejected, http.StatusForbidden, "USER_REJECTED"},
	{service.ErrInsufficientFunds, http.StatusPaymentRequired, "INSUFFICIENT_FUNDS"},
	{service.ErrNoWalletConnected, http.StatusPreconditionRequired, "NO_WALLET_CONNECTED"},
	{service.ErrProviderNotFound, http.StatusNotFound, "PROVIDER_NOT_FOUND"},
	{service.ErrUnsupportedWallet, http.StatusBadRequest, "UNSUPPORTED_WALLET"},
	{service.ErrConnectionTimeout, http.StatusGatewayTimeout, "CONNECTION_TIMEOUT"},
	{service.ErrConnectInProgress, http.StatusConflict, "CONNECT_IN_PROGRESS"},
	{service.ErrMaxAttempts, http.StatusTooManyRequests, "MAX_ATTEMPTS"},
	{service.ErrNoAccounts, http.StatusConflict, "NO_ACCOUNTS"},
	{service.ErrAccountNotAvailable, http.StatusBadRequest, "ACCOUNT_NOT_AVAILABLE"},
	{service.ErrChainSwitchFailed, http.StatusBadGateway, "CHAIN_SWITCH_FAILED"},
	{service.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{service.ErrInvalidAddress, http.StatusBadRequest, "INVALID_ADDRESS"},
	{service.ErrTransactionReverted, http.StatusBadGateway, "TRANSACTION_REVERTED"},
	{service.ErrAlreadyStaked, http.StatusConflict, "ALREADY_STAKED"},
	{service.ErrActionInProgress, http.StatusConflict, "ACTION_IN_PROGRESS"},
	{service.ErrProjectInactive, http.StatusConflict, "PROJECT_INACTIVE"},
	{service.ErrDuplicateOrganization, http.StatusConflict, "DUPLICATE_ORGANIZATION"},
	{service.ErrImageGeneration, http.StatusBadGateway, "IMAGE_GENERATION_FAILED"},
	{service.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{gorm.ErrRecordNotFound, http.StatusNotFound, "NOT_FOUND"},
	{gorm.ErrDuplicatedKey, http.StatusConflict, "DUPLICATE"},
	{gorm.ErrForeignKeyViolated, http.StatusBadRequest, "INVALID_REFERENCE"},
}

func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL"
}

// WriteError aborts the request with the user-facing message of err.
func WriteError(c *gin.Context, err error) {
	status, code := statusFor(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, model.ErrorResponse{Error: service.UserMessage(err), Code: code})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, model.ErrorResponse{Error: err.Error(), Code: "BAD_REQUEST"})
}
