package http

import (
	"net/http"
	"strconv"

	"spv-ledger/internal/usecase/distribution"
	"spv-ledger/internal/usecase/reconcile"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// SyncHandler exposes the chain-facing operations: yield distribution and
// ledger reconciliation.
type SyncHandler struct {
	dist *distribution.Usecase
	rec  *reconcile.Usecase
}

func NewSyncHandler(dist *distribution.Usecase, rec *reconcile.Usecase) *SyncHandler {
	return &SyncHandler{dist: dist, rec: rec}
}

type distributeReq struct {
	// Amount in USDC; zero distributes one month of interest.
	Amount decimal.Decimal `json:"amount" validate:"gte=0"`
}

func (h *SyncHandler) Distribute(c echo.Context) error {
	var req distributeReq
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}
	if err := c.Validate(&req); err != nil {
		return validationFailed(c, err)
	}
	ctx := c.Request().Context()
	loanID := c.Param("loan_id")

	var (
		res *distribution.Result
		err error
	)
	if req.Amount.IsZero() {
		res, err = h.dist.DistributePayment(ctx, loanID)
	} else {
		res, err = h.dist.Distribute(ctx, loanID, req.Amount)
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Sync runs one reconciliation of the stream. ?reset=true rewinds the cursor
// first; ?purge=true also forgets which transactions were applied.
func (h *SyncHandler) Sync(c echo.Context) error {
	stream := c.Param("stream")
	reset, err := boolQuery(c, "reset")
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}
	purge, err := boolQuery(c, "purge")
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}
	ctx := c.Request().Context()
	if reset {
		if err := h.rec.Reset(ctx, stream, purge); err != nil {
			return writeError(c, err)
		}
	}
	sum, err := h.rec.Reconcile(ctx, stream)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *SyncHandler) Status(c echo.Context) error {
	st, err := h.rec.Status(c.Request().Context(), c.Param("stream"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

func boolQuery(c echo.Context, name string) (bool, error) {
	s := c.QueryParam(name)
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, errBadQuery(name)
	}
	return b, nil
}
