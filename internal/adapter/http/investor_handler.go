package http

import (
	"net/http"

	"spv-ledger/internal/usecase/investor"
	"spv-ledger/internal/usecase/position"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type InvestorHandler struct {
	investors *investor.Usecase
	positions *position.Usecase
}

func NewInvestorHandler(investors *investor.Usecase, positions *position.Usecase) *InvestorHandler {
	return &InvestorHandler{investors: investors, positions: positions}
}

type addInvestorReq struct {
	Name          string `json:"name"           validate:"required"`
	Email         string `json:"email"          validate:"omitempty,email"`
	WalletAddress string `json:"wallet_address" validate:"required,ethaddr"`
}

type createPositionReq struct {
	InvestorID uint64          `json:"investor_id" validate:"required,gte=1"`
	Slices     decimal.Decimal `json:"slices"      validate:"gt=0,intlike"`
	Tranche    string          `json:"tranche"     validate:"omitempty,oneof=senior junior"`
}

func (h *InvestorHandler) AddInvestor(c echo.Context) error {
	var req addInvestorReq
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}
	if err := c.Validate(&req); err != nil {
		return validationFailed(c, err)
	}
	dto, err := h.investors.Add(c.Request().Context(), investor.AddInvestorInput(req))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, dto)
}

func (h *InvestorHandler) ListInvestors(c echo.Context) error {
	out, err := h.investors.List(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *InvestorHandler) Portfolio(c echo.Context) error {
	p, err := h.investors.Portfolio(c.Request().Context(), c.Param("wallet"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *InvestorHandler) CreatePosition(c echo.Context) error {
	var req createPositionReq
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}
	if err := c.Validate(&req); err != nil {
		return validationFailed(c, err)
	}
	dto, err := h.positions.CreateInvestorPosition(c.Request().Context(), position.CreatePositionInput{
		LoanID:     c.Param("loan_id"),
		InvestorID: req.InvestorID,
		Slices:     req.Slices,
		Tranche:    req.Tranche,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, dto)
}

func (h *InvestorHandler) ListPositions(c echo.Context) error {
	out, err := h.positions.ListByLoan(c.Request().Context(), c.Param("loan_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
