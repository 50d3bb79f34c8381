package loan

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"spv-ledger/internal/domain/chain"
	"spv-ledger/internal/domain/loan"
	"spv-ledger/internal/domain/metadata"
	"spv-ledger/internal/domain/uow"
	"spv-ledger/internal/infrastructure/lock"
	"spv-ledger/internal/infrastructure/logger"
	"spv-ledger/pkg/id"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Deps struct {
	UoW    uow.UnitOfWork
	Loans  loan.Repository
	Specs  loan.SpecRepository
	Store  metadata.Store
	Writer chain.Writer
	Locker lock.Locker
}

type Options struct {
	Contract string
	// ExternalURL prefixes the loan id in the metadata external_url; empty omits it.
	ExternalURL string
	// Gateway is the public IPFS gateway used for metadata_url.
	Gateway string
	Now     func() time.Time
}

type Usecase struct {
	d    Deps
	opts Options
}

func NewUsecase(d Deps, opts Options) *Usecase {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Gateway == "" {
		opts.Gateway = "https://ipfs.io"
	}
	return &Usecase{d: d, opts: opts}
}

func (u *Usecase) Create(ctx context.Context, in CreateLoanInput) (*LoanDTO, error) {
	if strings.TrimSpace(in.LoanID) == "" {
		in.LoanID = id.NewID32()
	}
	_, err := u.d.Loans.GetByLoanID(ctx, in.LoanID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s", loan.ErrDuplicateLoanID, in.LoanID)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	l := &loan.Loan{
		LoanID:             strings.TrimSpace(in.LoanID),
		Title:              in.Title,
		Borrower:           in.Borrower,
		Principal:          in.Principal,
		AnnualInterestRate: in.AnnualInterestRate,
		TermMonths:         in.TermMonths,
		MonthlyPayment:     in.MonthlyPayment,
		TotalSlices:        in.TotalSlices,
		UnitPrice:          in.UnitPrice,
		Status:             loan.Status(in.Status),
	}
	if l.Status == "" {
		l.Status = loan.StatusPerforming
	}
	if l.TotalSlices == 0 {
		l.TotalSlices = loan.DefaultTotalSlices
	}
	if l.UnitPrice.IsZero() && l.TotalSlices > 0 {
		l.UnitPrice = l.Principal.Div(decimal.NewFromInt(int64(l.TotalSlices))).Round(2)
	}
	if l.MonthlyPayment.IsZero() {
		l.MonthlyPayment = amortizedPayment(l.Principal, l.AnnualInterestRate, l.TermMonths)
	}
	if l.Title == "" {
		l.Title = "Loan " + l.LoanID
	}
	if l.StartDate, err = parseDate("start_date", in.StartDate); err != nil {
		return nil, err
	}
	if l.MaturityDate, err = parseDate("maturity_date", in.MaturityDate); err != nil {
		return nil, err
	}
	if l.MaturityDate == nil && l.StartDate != nil && l.TermMonths > 0 {
		m := l.StartDate.AddDate(0, l.TermMonths, 0)
		l.MaturityDate = &m
	}
	if err := l.ValidateTerms(); err != nil {
		return nil, err
	}
	if err := u.d.Loans.Create(ctx, l); err != nil {
		return nil, err
	}
	return u.toDTO(l), nil
}

func (u *Usecase) Edit(ctx context.Context, loanID string, in EditLoanInput) (*LoanDTO, error) {
	var out *loan.Loan
	err := u.d.UoW.WithinLoanTx(ctx, loanID, func(r uow.Repos, l *loan.Loan) error {
		if l.Tokenized && in.touchesTerms() {
			return fmt.Errorf("%w: %s", loan.ErrTermsLocked, loanID)
		}
		if in.Title != nil {
			l.Title = *in.Title
		}
		if in.Status != nil {
			l.Status = loan.Status(*in.Status)
		}
		if in.Borrower != nil {
			l.Borrower = *in.Borrower
		}
		if in.Principal != nil {
			l.Principal = *in.Principal
		}
		if in.AnnualInterestRate != nil {
			l.AnnualInterestRate = *in.AnnualInterestRate
		}
		if in.TermMonths != nil {
			l.TermMonths = *in.TermMonths
		}
		if in.MonthlyPayment != nil {
			l.MonthlyPayment = *in.MonthlyPayment
		}
		if in.TotalSlices != nil {
			l.TotalSlices = *in.TotalSlices
		}
		if in.UnitPrice != nil {
			l.UnitPrice = *in.UnitPrice
		}
		var err error
		if in.StartDate != nil {
			if l.StartDate, err = parseDate("start_date", *in.StartDate); err != nil {
				return err
			}
		}
		if in.MaturityDate != nil {
			if l.MaturityDate, err = parseDate("maturity_date", *in.MaturityDate); err != nil {
				return err
			}
		}
		if err := l.ValidateTerms(); err != nil {
			return err
		}
		out = l
		return r.Loans.Save(ctx, l)
	})
	if err != nil {
		return nil, notFound(err, loanID)
	}
	return u.toDTO(out), nil
}

func (u *Usecase) Get(ctx context.Context, loanID string) (*LoanDTO, error) {
	l, err := u.d.Loans.GetByLoanID(ctx, loanID)
	if err != nil {
		return nil, notFound(err, loanID)
	}
	return u.toDTO(l), nil
}

func (u *Usecase) List(ctx context.Context, limit, offset int) ([]LoanDTO, error) {
	ls, err := u.d.Loans.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]LoanDTO, 0, len(ls))
	for i := range ls {
		out = append(out, *u.toDTO(&ls[i]))
	}
	return out, nil
}

// Delete removes the loan with its positions and cashflow history.
func (u *Usecase) Delete(ctx context.Context, loanID string) error {
	err := u.d.UoW.WithinLoanTx(ctx, loanID, func(r uow.Repos, l *loan.Loan) error {
		if l.Tokenized {
			logger.Warnf("loan: deleting tokenized loan, on-chain token remains", logger.Fields{
				"Loan": l.LoanID, "TokenID": l.TokenIDString(),
			})
		}
		if err := r.Cashflows.DeleteByLoan(ctx, l.ID); err != nil {
			return err
		}
		if err := r.Positions.DeleteByLoan(ctx, l.ID); err != nil {
			return err
		}
		return r.Loans.Delete(ctx, l.ID)
	})
	return notFound(err, loanID)
}

// Tokenize publishes the loan metadata, mints the token (or the senior/junior
// pair when specName is set) and records the result. The chain call comes
// first; nothing local changes if it fails.
func (u *Usecase) Tokenize(ctx context.Context, loanID, specName string) (*TokenizeResult, error) {
	if u.d.Locker != nil {
		release, ok, err := u.d.Locker.TryAcquire(ctx, "tokenize:"+loanID, 10*time.Minute)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: tokenization of %s already running", loan.ErrInvalidTransition, loanID)
		}
		defer release()
	}

	l, err := u.d.Loans.GetByLoanID(ctx, loanID)
	if err != nil {
		return nil, notFound(err, loanID)
	}
	if l.Tokenized || l.TokenID != nil {
		return nil, fmt.Errorf("%w: %s", loan.ErrAlreadyTokenized, loanID)
	}
	if err := l.ValidateTerms(); err != nil {
		return nil, err
	}

	var spec *loan.TokenizationSpec
	if specName != "" {
		spec, err = u.d.Specs.GetSpecByName(ctx, specName)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", loan.ErrSpecNotFound, specName)
		}
		if err != nil {
			return nil, err
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
	}

	ext := ""
	if u.opts.ExternalURL != "" {
		ext = strings.TrimRight(u.opts.ExternalURL, "/") + "/" + l.LoanID
	}
	doc := metadata.Canonicalize(l, spec, ext)
	hash, err := metadata.Commit(doc)
	if err != nil {
		return nil, err
	}
	cid, err := u.d.Store.Put(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("store metadata for %s: %w", loanID, err)
	}

	res := &TokenizeResult{
		LoanID:       l.LoanID,
		MetadataCID:  cid,
		MetadataHash: hash.Hex(),
		MetadataURI:  metadata.URI(cid),
	}
	price := l.UnitPrice.Shift(6).Truncate(0).BigInt()
	parent := id.NewTokenID(u.opts.Now())
	res.TokenID = parent.String()

	var rcpt *chain.Receipt
	if spec == nil {
		rcpt, err = u.d.Writer.CreateToken(ctx, u.opts.Contract, parent, big.NewInt(int64(l.TotalSlices)), price, res.MetadataURI, hash)
	} else {
		p, perr := trancheParams(l, spec, parent, price, res.MetadataURI, hash)
		if perr != nil {
			return nil, perr
		}
		res.SeniorID, res.JuniorID = p.SeniorID.String(), p.JuniorID.String()
		res.SeniorSupply, res.JuniorSupply = p.SeniorSupply.Int64(), p.JuniorSupply.Int64()
		res.SeniorCap = p.SeniorCap.String()
		rcpt, err = u.d.Writer.CreateTrancheToken(ctx, u.opts.Contract, p)
	}
	if err != nil {
		return nil, fmt.Errorf("mint token for %s: %w", loanID, err)
	}
	res.TxHash, res.BlockNumber = rcpt.TxHash, rcpt.BlockNumber

	err = u.d.UoW.WithinLoanTx(ctx, loanID, func(r uow.Repos, locked *loan.Loan) error {
		if locked.Tokenized {
			return fmt.Errorf("%w: %s", loan.ErrAlreadyTokenized, loanID)
		}
		tokenID := res.TokenID
		locked.TokenID = &tokenID
		if spec != nil {
			senior, junior := res.SeniorID, res.JuniorID
			locked.SeniorID, locked.JuniorID = &senior, &junior
			locked.TokenizationSpecID = &spec.ID
		}
		locked.TokenContract = strings.ToLower(u.opts.Contract)
		locked.MetadataCID = cid
		locked.MetadataHash = hash.Hex()
		locked.TxHash = rcpt.TxHash
		locked.Tokenized = true
		locked.Synchronized = true
		return r.Loans.Save(ctx, locked)
	})
	if err != nil {
		logger.Errorf("loan: token minted but not recorded", logger.Fields{
			"Loan": loanID, "TokenID": res.TokenID, "TxHash": rcpt.TxHash, "Error": err.Error(),
		})
		return nil, err
	}
	logger.Infof("loan: tokenized", logger.Fields{"Loan": loanID, "TokenID": res.TokenID, "CID": cid, "TxHash": rcpt.TxHash})
	return res, nil
}

// trancheParams splits supply by the tokenization spec and caps the senior tranche at
// principal * (1 + coupon/100) per senior slice, in USDC base units.
func trancheParams(l *loan.Loan, spec *loan.TokenizationSpec, parent, price *big.Int, uri string, hash metadata.Hash) (chain.TrancheParams, error) {
	seniorSlices, juniorSlices := spec.Slices(l.TotalSlices)
	if seniorSlices <= 0 || juniorSlices <= 0 {
		return chain.TrancheParams{}, fmt.Errorf("%w: %s leaves an empty tranche of %d slices", loan.ErrInvalidTranche, spec.Name, l.TotalSlices)
	}
	senior, junior := id.TrancheIDs(parent)
	seniorCap := l.Principal.
		Mul(decimal.NewFromInt(1).Add(spec.SeniorCouponPct.Div(decimal.NewFromInt(100)))).
		Div(decimal.NewFromInt(seniorSlices)).
		Shift(6).
		Truncate(0)
	return chain.TrancheParams{
		ParentID:     parent,
		SeniorID:     senior,
		JuniorID:     junior,
		SeniorSupply: big.NewInt(seniorSlices),
		JuniorSupply: big.NewInt(juniorSlices),
		SeniorPrice:  price,
		JuniorPrice:  price,
		SeniorCap:    seniorCap.BigInt(),
		URI:          uri,
		Fingerprint:  hash,
	}, nil
}

// VerifyIntegrity re-fetches the loan metadata and checks it against the
// stored commitment, updating the synchronized flag when it changed.
func (u *Usecase) VerifyIntegrity(ctx context.Context, loanID string) (*IntegrityReport, error) {
	l, err := u.d.Loans.GetByLoanID(ctx, loanID)
	if err != nil {
		return nil, notFound(err, loanID)
	}
	if l.MetadataCID == "" {
		return nil, fmt.Errorf("%w: %s has no metadata", loan.ErrNotTokenized, loanID)
	}
	raw, err := u.d.Store.Fetch(ctx, l.MetadataCID)
	if err != nil {
		return nil, err
	}
	computed, err := metadata.CommitBytes(raw)
	if err != nil {
		return nil, err
	}
	rep := &IntegrityReport{
		LoanID:       l.LoanID,
		MetadataCID:  l.MetadataCID,
		Expected:     l.MetadataHash,
		Computed:     computed.Hex(),
		Synchronized: metadata.Verify(raw, l.MetadataHash),
	}
	if rep.Synchronized != l.Synchronized {
		l.Synchronized = rep.Synchronized
		if err := u.d.Loans.Save(ctx, l); err != nil {
			return nil, err
		}
	}
	if !rep.Synchronized {
		logger.Warnf("loan: metadata integrity mismatch", logger.Fields{
			"Loan": l.LoanID, "Expected": rep.Expected, "Computed": rep.Computed,
		})
	}
	return rep, nil
}

func (u *Usecase) CreateSpec(ctx context.Context, in CreateSpecInput) (*loan.TokenizationSpec, error) {
	s := &loan.TokenizationSpec{
		Name:            strings.TrimSpace(in.Name),
		SeniorPct:       in.SeniorPct,
		JuniorPct:       in.JuniorPct,
		SeniorCouponPct: in.SeniorCouponPct,
		CapMethod:       in.CapMethod,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	_, err := u.d.Specs.GetSpecByName(ctx, s.Name)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s", loan.ErrDuplicateSpec, s.Name)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}
	if err := u.d.Specs.CreateSpec(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (u *Usecase) ListSpecs(ctx context.Context) ([]loan.TokenizationSpec, error) {
	return u.d.Specs.ListSpecs(ctx)
}

func (u *Usecase) toDTO(l *loan.Loan) *LoanDTO {
	now := u.opts.Now()
	dto := &LoanDTO{
		LoanID:             l.LoanID,
		Title:              l.Title,
		Borrower:           l.Borrower,
		Principal:          l.Principal,
		AnnualInterestRate: l.AnnualInterestRate,
		TermMonths:         l.TermMonths,
		MonthlyPayment:     l.MonthlyPayment,
		MonthlyInterest:    l.MonthlyInterest(),
		StartDate:          formatDate(l.StartDate),
		MaturityDate:       formatDate(l.MaturityDate),
		Status:             string(l.Status),
		TotalSlices:        l.TotalSlices,
		UnitPrice:          l.UnitPrice,
		TokenContract:      l.TokenContract,
		TokenID:            l.TokenIDString(),
		TxHash:             l.TxHash,
		MetadataCID:        l.MetadataCID,
		MetadataHash:       l.MetadataHash,
		MetadataURL:        l.MetadataURL(u.opts.Gateway),
		Tokenized:          l.Tokenized,
		Synchronized:       l.Synchronized,
		Provisional:        l.Provisional,
		ProgressPercentage: l.ProgressPercentage(now),
		DaysRemaining:      l.DaysRemaining(now),
		IsMatured:          l.IsMatured(now),
		CreatedAt:          l.CreatedAt,
		UpdatedAt:          l.UpdatedAt,
	}
	if l.SeniorID != nil {
		dto.SeniorID = *l.SeniorID
	}
	if l.JuniorID != nil {
		dto.JuniorID = *l.JuniorID
	}
	if l.TokenizationSpec != nil {
		dto.TokenizationSpec = l.TokenizationSpec.Name
	}
	return dto
}

// amortizedPayment is the fixed monthly payment of a fully amortizing loan.
func amortizedPayment(principal, apr decimal.Decimal, months int) decimal.Decimal {
	if months <= 0 || !principal.IsPositive() {
		return decimal.Zero
	}
	n := decimal.NewFromInt(int64(months))
	r := apr.Div(decimal.NewFromInt(1200))
	if r.IsZero() {
		return principal.Div(n).Round(2)
	}
	growth := decimal.NewFromInt(1).Add(r).Pow(n)
	return principal.Mul(r).Mul(growth).Div(growth.Sub(decimal.NewFromInt(1))).Round(2)
}

func parseDate(field, s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be YYYY-MM-DD", loan.ErrInvalidTerms, field)
	}
	return &t, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

func notFound(err error, loanID string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", loan.ErrNotFound, loanID)
	}
	return err
}
