package http

import (
	"errors"
	"net/http"

	"spv-ledger/internal/domain/chain"
	"spv-ledger/internal/domain/investor"
	"spv-ledger/internal/domain/loan"
	"spv-ledger/internal/domain/metadata"
	"spv-ledger/internal/infrastructure/logger"
	"spv-ledger/internal/usecase/distribution"
	"spv-ledger/internal/usecase/reconcile"

	"github.com/labstack/echo/v4"
)

var statusByErr = []struct {
	err  error
	code int
}{
	{loan.ErrNotFound, http.StatusNotFound},
	{loan.ErrSpecNotFound, http.StatusNotFound},
	{investor.ErrNotFound, http.StatusNotFound},
	{investor.ErrPositionNotFound, http.StatusNotFound},

	{loan.ErrDuplicateLoanID, http.StatusConflict},
	{loan.ErrDuplicateSpec, http.StatusConflict},
	{loan.ErrAlreadyTokenized, http.StatusConflict},
	{loan.ErrTermsLocked, http.StatusConflict},
	{loan.ErrInvalidTransition, http.StatusConflict},
	{investor.ErrDuplicateWallet, http.StatusConflict},
	{reconcile.ErrStreamBusy, http.StatusConflict},

	{loan.ErrInvalidTerms, http.StatusUnprocessableEntity},
	{loan.ErrInvalidTranche, http.StatusUnprocessableEntity},
	{loan.ErrNotTokenized, http.StatusUnprocessableEntity},
	{loan.ErrNoPositions, http.StatusUnprocessableEntity},
	{loan.ErrZeroDistribution, http.StatusUnprocessableEntity},
	{investor.ErrInvalidWallet, http.StatusUnprocessableEntity},
	{investor.ErrInvalidInvestor, http.StatusUnprocessableEntity},
	{investor.ErrInvalidSlices, http.StatusUnprocessableEntity},
	{investor.ErrInsufficientSlices, http.StatusUnprocessableEntity},
	{investor.ErrSliceOverflow, http.StatusUnprocessableEntity},
	{distribution.ErrTranchePrecheck, http.StatusUnprocessableEntity},
	{reconcile.ErrUnknownLoan, http.StatusUnprocessableEntity},
	{reconcile.ErrProvisionalConflict, http.StatusUnprocessableEntity},

	{reconcile.ErrTransient, http.StatusBadGateway},
	{metadata.ErrContentUnavailable, http.StatusBadGateway},
	{chain.ErrTxFailed, http.StatusBadGateway},

	{chain.ErrReadOnly, http.StatusServiceUnavailable},
}

// StatusFor maps a usecase error onto an HTTP status; unknown errors are 500.
func StatusFor(err error) int {
	for _, m := range statusByErr {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return http.StatusInternalServerError
}

// writeError renders err as ErrorResponse. Internal failures are logged and
// their text is not sent to the client.
func writeError(c echo.Context, err error) error {
	code := StatusFor(err)
	if code == http.StatusInternalServerError {
		logger.Errorf("http: request failed", logger.Fields{
			"Method": c.Request().Method, "Path": c.Path(), "Error": err.Error(),
		})
		return c.JSON(code, ErrorResponse{Error: "internal error"})
	}
	return c.JSON(code, ErrorResponse{Error: err.Error()})
}

func invalidBody(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
}

func validationFailed(c echo.Context, err error) error {
	return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
		Error:   "validation failed",
		Details: ToFieldErrors(err),
	})
}
