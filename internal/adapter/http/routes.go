package http

import (
	stdhttp "net/http"

	"github.com/labstack/echo/v4"
)

type Handlers struct {
	Health    *Handler
	Loans     *LoanHandler
	Investors *InvestorHandler
	Sync      *SyncHandler
	// Metrics serves the prometheus registry; nil leaves /metrics unrouted.
	Metrics stdhttp.Handler
}

// Register mounts every route. Mutating routes go through guard, which may be nil.
func Register(e *echo.Echo, h Handlers, guard echo.MiddlewareFunc) {
	var mw []echo.MiddlewareFunc
	if guard != nil {
		mw = append(mw, guard)
	}

	e.GET("/health", h.Health.Health)
	if h.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.Metrics))
	}

	e.GET("/loans", h.Loans.ListLoans)
	e.POST("/loans", h.Loans.CreateLoan, mw...)
	e.GET("/loans/:loan_id", h.Loans.GetLoan)
	e.PATCH("/loans/:loan_id", h.Loans.EditLoan, mw...)
	e.DELETE("/loans/:loan_id", h.Loans.DeleteLoan, mw...)
	e.POST("/loans/:loan_id/tokenize", h.Loans.Tokenize, mw...)
	e.GET("/loans/:loan_id/integrity", h.Loans.VerifyIntegrity)
	e.POST("/loans/:loan_id/distribute", h.Sync.Distribute, mw...)
	e.POST("/loans/:loan_id/positions", h.Investors.CreatePosition, mw...)
	e.GET("/loans/:loan_id/positions", h.Investors.ListPositions)

	e.POST("/investors", h.Investors.AddInvestor, mw...)
	e.GET("/investors", h.Investors.ListInvestors)
	e.GET("/investors/:wallet/portfolio", h.Investors.Portfolio)

	e.POST("/tokenization-specs", h.Loans.CreateSpec, mw...)
	e.GET("/tokenization-specs", h.Loans.ListSpecs)

	e.POST("/sync/:stream", h.Sync.Sync, mw...)
	e.GET("/sync/:stream", h.Sync.Status)
}
