package http

import (
	"net/http"
	"strconv"

	"spv-ledger/internal/usecase/loan"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type LoanHandler struct{ uc *loan.Usecase }

func NewLoanHandler(uc *loan.Usecase) *LoanHandler { return &LoanHandler{uc: uc} }

type createLoanReq struct {
	LoanID             string          `json:"loan_id"              validate:"omitempty,loanid"`
	Title              string          `json:"title"`
	Borrower           string          `json:"borrower"             validate:"required"`
	Principal          decimal.Decimal `json:"principal"            validate:"gt=0,dec2"`
	AnnualInterestRate decimal.Decimal `json:"annual_interest_rate" validate:"gte=0,lte=100,dec2"`
	TermMonths         int             `json:"term_months"          validate:"required,gte=1,lte=600"`
	MonthlyPayment     decimal.Decimal `json:"monthly_payment"      validate:"gte=0,dec2"`
	TotalSlices        int             `json:"total_slices"         validate:"gte=0"`
	UnitPrice          decimal.Decimal `json:"unit_price"           validate:"gte=0,dec2"`
	Status             string          `json:"status"               validate:"omitempty,oneof=performing late matured defaulted"`
	StartDate          string          `json:"start_date"           validate:"omitempty,datetime=2006-01-02"`
	MaturityDate       string          `json:"maturity_date"        validate:"omitempty,datetime=2006-01-02"`
}

type editLoanReq struct {
	Title              *string          `json:"title"`
	Status             *string          `json:"status"               validate:"omitempty,oneof=performing late matured defaulted"`
	Borrower           *string          `json:"borrower"`
	Principal          *decimal.Decimal `json:"principal"            validate:"omitempty,gt=0,dec2"`
	AnnualInterestRate *decimal.Decimal `json:"annual_interest_rate" validate:"omitempty,gte=0,lte=100,dec2"`
	TermMonths         *int             `json:"term_months"          validate:"omitempty,gte=1,lte=600"`
	MonthlyPayment     *decimal.Decimal `json:"monthly_payment"      validate:"omitempty,gte=0,dec2"`
	TotalSlices        *int             `json:"total_slices"         validate:"omitempty,gte=1"`
	UnitPrice          *decimal.Decimal `json:"unit_price"           validate:"omitempty,gt=0,dec2"`
	StartDate          *string          `json:"start_date"           validate:"omitempty,datetime=2006-01-02"`
	MaturityDate       *string          `json:"maturity_date"        validate:"omitempty,datetime=2006-01-02"`
}

type tokenizeReq struct {
	Spec string `json:"spec"`
}

type createSpecReq struct {
	Name            string          `json:"name"              validate:"required"`
	SeniorPct       decimal.Decimal `json:"senior_pct"        validate:"gt=0,lte=100,dec2"`
	JuniorPct       decimal.Decimal `json:"junior_pct"        validate:"gt=0,lte=100,dec2"`
	SeniorCouponPct decimal.Decimal `json:"senior_coupon_pct" validate:"gte=0,dec2"`
	CapMethod       string          `json:"cap_method"        validate:"omitempty,oneof=principal_plus_coupon"`
}

func (h *LoanHandler) CreateLoan(c echo.Context) error {
	var req createLoanReq
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}
	if err := c.Validate(&req); err != nil {
		return validationFailed(c, err)
	}
	dto, err := h.uc.Create(c.Request().Context(), loan.CreateLoanInput(req))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, dto)
}

func (h *LoanHandler) GetLoan(c echo.Context) error {
	dto, err := h.uc.Get(c.Request().Context(), c.Param("loan_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

func (h *LoanHandler) ListLoans(c echo.Context) error {
	limit, offset, err := paging(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}
	out, err := h.uc.List(c.Request().Context(), limit, offset)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *LoanHandler) EditLoan(c echo.Context) error {
	var req editLoanReq
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}
	if err := c.Validate(&req); err != nil {
		return validationFailed(c, err)
	}
	dto, err := h.uc.Edit(c.Request().Context(), c.Param("loan_id"), loan.EditLoanInput(req))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

func (h *LoanHandler) DeleteLoan(c echo.Context) error {
	if err := h.uc.Delete(c.Request().Context(), c.Param("loan_id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *LoanHandler) Tokenize(c echo.Context) error {
	var req tokenizeReq
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}
	spec := req.Spec
	if q := c.QueryParam("spec"); q != "" {
		spec = q
	}
	res, err := h.uc.Tokenize(c.Request().Context(), c.Param("loan_id"), spec)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *LoanHandler) VerifyIntegrity(c echo.Context) error {
	rep, err := h.uc.VerifyIntegrity(c.Request().Context(), c.Param("loan_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *LoanHandler) CreateSpec(c echo.Context) error {
	var req createSpecReq
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}
	if err := c.Validate(&req); err != nil {
		return validationFailed(c, err)
	}
	s, err := h.uc.CreateSpec(c.Request().Context(), loan.CreateSpecInput(req))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *LoanHandler) ListSpecs(c echo.Context) error {
	out, err := h.uc.ListSpecs(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

const maxPageSize = 200

func paging(c echo.Context) (limit, offset int, err error) {
	limit = 50
	if s := c.QueryParam("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 1 {
			return 0, 0, errBadQuery("limit")
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if s := c.QueryParam("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil || offset < 0 {
			return 0, 0, errBadQuery("offset")
		}
	}
	return limit, offset, nil
}

type errBadQuery string

func (e errBadQuery) Error() string { return "invalid query param " + string(e) }
