package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/regen_bazaar/model"
	"github.com/regen_bazaar/service"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: p1 is closed", service.ErrProjectInactive), http.StatusConflict, "PROJECT_INACTIVE"},
		{service.ErrActionInProgress, http.StatusConflict, "ACTION_IN_PROGRESS"},
		{&service.ReconciliationError{Kind: model.TxStake, TxHash: "0xabc", Err: errors.New("db down")}, http.StatusInternalServerError, "PERSISTENCE_FAILURE"},
		{fmt.Errorf("sign: %w", service.ErrUserRejected), http.StatusForbidden, "USER_REJECTED"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		status, code := statusFor(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}
