package reconcile

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"

	"spv-ledger/internal/domain/cashflow"
	"spv-ledger/internal/domain/chain"
	"spv-ledger/internal/domain/investor"
	"spv-ledger/internal/domain/loan"
	"spv-ledger/internal/domain/metadata"
	"spv-ledger/internal/domain/uow"
	"spv-ledger/internal/infrastructure/logger"
	"spv-ledger/pkg/id"

	"github.com/shopspring/decimal"
)

const (
	mintInvestorName     = "Initial Investor"
	transferInvestorName = "Investor"
)

// fetchedDoc is the metadata document behind a minted token. err holds a
// data error that surfaces only when the mint is applied.
type fetchedDoc struct {
	cid string
	raw []byte
	err error
}

// prefetched holds what a run resolved from the metadata store ahead of the
// database transactions that need it.
type prefetched struct {
	// mint documents by token id
	mints map[string]*fetchedDoc
	// raw documents by content id
	content map[string][]byte
}

func newPrefetched() *prefetched {
	return &prefetched{mints: map[string]*fetchedDoc{}, content: map[string][]byte{}}
}

// prefetch resolves metadata for mints whose loan is unknown or incomplete,
// and the stored document of loans whose on-chain commitment is about to change.
// It runs outside the database transaction so slow gateways never hold locks.
func (u *Usecase) prefetch(ctx context.Context, tx chain.Tx, pre *prefetched) error {
	for _, ev := range tx.Events {
		switch {
		case ev.Kind == chain.KindTokenCreated && ev.TokenCreated != nil:
			if err := u.prefetchStored(ctx, ev.TokenCreated, pre); err != nil {
				return err
			}
		case ev.Kind == chain.KindTransferSingle && ev.TransferSingle != nil && ev.TransferSingle.IsMint():
			if err := u.prefetchMint(ctx, ev.TransferSingle.TokenID, pre); err != nil {
				return err
			}
		}
	}
	return nil
}

func (u *Usecase) prefetchMint(ctx context.Context, tokenID *big.Int, pre *prefetched) error {
	key := tokenID.String()
	if _, ok := pre.mints[key]; ok {
		return nil
	}
	l, err := findLoan(ctx, u.d.Loans, key)
	if err != nil {
		return err
	}
	if l != nil && !l.Provisional && l.MetadataCID != "" {
		return nil
	}

	uri, err := u.d.Reader.TokenURI(ctx, u.opts.Contract, tokenID)
	if err != nil {
		return transient("token uri %s: %w", key, err)
	}
	cid, err := metadata.ContentID(uri)
	if err != nil {
		pre.mints[key] = &fetchedDoc{err: fmt.Errorf("token %s: %w", key, err)}
		return nil
	}
	raw, err := u.fetch(ctx, cid, pre)
	if err != nil {
		return err
	}
	pre.mints[key] = &fetchedDoc{cid: cid, raw: raw}
	return nil
}

// prefetchStored loads the document of a known loan whose recorded commitment
// differs from the one the chain announces.
func (u *Usecase) prefetchStored(ctx context.Context, tc *chain.TokenCreated, pre *prefetched) error {
	if tc.TokenID == nil {
		return nil
	}
	l, err := findLoan(ctx, u.d.Loans, tc.TokenID.String())
	if err != nil || l == nil || l.MetadataCID == "" || l.MetadataHash == tc.FingerprintHex() {
		return err
	}
	_, err = u.fetch(ctx, l.MetadataCID, pre)
	return err
}

func (u *Usecase) fetch(ctx context.Context, cid string, pre *prefetched) ([]byte, error) {
	if raw, ok := pre.content[cid]; ok {
		return raw, nil
	}
	raw, err := u.d.Store.Fetch(ctx, cid)
	if err != nil {
		return nil, transient("fetch metadata %s: %w", cid, err)
	}
	pre.content[cid] = raw
	return raw, nil
}

// validSupply rejects a TokenCreated supply the ledger cannot hold as a slice count.
func validSupply(tc *chain.TokenCreated) error {
	if tc.Supply == nil || tc.Supply.Sign() <= 0 || !tc.Supply.IsInt64() || tc.Supply.Int64() > math.MaxInt32 {
		return fmt.Errorf("%w: token %s supply %v", metadata.ErrInvalidField, tc.TokenID, tc.Supply)
	}
	return nil
}

func (u *Usecase) onTokenCreated(ctx context.Context, r uow.Repos, ev *chain.Event, pre *prefetched) error {
	tc := ev.TokenCreated
	if err := validSupply(tc); err != nil {
		return err
	}
	id := tc.TokenID.String()
	l, err := findLoan(ctx, r.Loans, id)
	if err != nil {
		return err
	}
	if l != nil {
		l.Tokenized = true
		l.Status = loan.StatusPerforming
		if fp := tc.FingerprintHex(); fp != l.MetadataHash {
			l.MetadataHash = fp
			u.verify(l, id, pre)
		}
		if l.TokenContract == "" {
			l.TokenContract = ev.Contract
		}
		if l.TxHash == "" {
			l.TxHash = ev.TxHash
		}
		return r.Loans.Save(ctx, l)
	}

	// first sight of a token minted elsewhere; the mint adopts it once metadata is known
	l = &loan.Loan{
		LoanID:        loan.ProvisionalPrefix + id,
		Title:         "Loan #" + id,
		Borrower:      "Unknown",
		TermMonths:    12,
		Status:        loan.StatusPerforming,
		TokenContract: ev.Contract,
		TokenID:       &id,
		TotalSlices:   int(tc.Supply.Int64()),
		UnitPrice:     decimal.NewFromBigInt(tc.PriceUnits, -6),
		TxHash:        ev.TxHash,
		MetadataHash:  tc.FingerprintHex(),
		Tokenized:     true,
		Provisional:   true,
	}
	logger.Warnf("reconcile: token created with no local loan", logger.Fields{"TokenID": id, "TxHash": ev.TxHash})
	return r.Loans.Create(ctx, l)
}

// verify recomputes the integrity flag of a loan whose document and
// commitment are both known. A mismatch is reported, never repaired: the
// chain is the authority.
func (u *Usecase) verify(l *loan.Loan, tokenID string, pre *prefetched) {
	if l.MetadataCID == "" || l.MetadataHash == "" {
		l.Synchronized = false
		return
	}
	raw, ok := pre.content[l.MetadataCID]
	if !ok {
		l.Synchronized = false
		logger.Warnf("reconcile: metadata not at hand, integrity left unverified", logger.Fields{
			"Loan": l.LoanID, "TokenID": tokenID, "CID": l.MetadataCID,
		})
		return
	}
	l.Synchronized = metadata.Verify(raw, l.MetadataHash)
	if !l.Synchronized {
		logger.Warnf("reconcile: metadata does not match on-chain commitment", logger.Fields{
			"Loan": l.LoanID, "TokenID": tokenID, "CID": l.MetadataCID, "Commitment": l.MetadataHash,
		})
	}
}

func (u *Usecase) onMint(ctx context.Context, r uow.Repos, ev *chain.Event, pre *prefetched) error {
	ts := ev.TransferSingle
	id := ts.TokenID.String()
	l, err := findLoan(ctx, r.Loans, id)
	if err != nil {
		return err
	}
	if doc := pre.mints[id]; doc != nil {
		if doc.err != nil {
			return doc.err
		}
		terms, err := metadata.Decode(doc.raw)
		if err != nil {
			return fmt.Errorf("token %s metadata %s: %w", id, doc.cid, err)
		}
		if l, err = u.adopt(ctx, r, l, id, ev, doc, terms, pre); err != nil {
			return err
		}
	}
	if l == nil {
		return fmt.Errorf("%w: token %s", ErrUnknownLoan, id)
	}
	if ts.Value.Sign() == 0 {
		return nil
	}
	if u.isAdmin(ts.To) && u.opts.AdminPolicy == AdminSkip {
		logger.Debugf("reconcile: mint to admin not booked", logger.Fields{"Loan": l.LoanID, "Slices": ts.Value.String()})
		return nil
	}
	if err := credit(ctx, r, l, ts.To, mintInvestorName, decimal.NewFromBigInt(ts.Value, 0), ev); err != nil {
		return err
	}
	return checkSupply(ctx, r, l)
}

// adopt binds fetched metadata to the loan carrying the token, creating,
// renaming or merging a provisional record as needed. Tranche metadata binds
// the loan to the whole senior/junior pair.
func (u *Usecase) adopt(ctx context.Context, r uow.Repos, l *loan.Loan, tokenID string, ev *chain.Event, doc *fetchedDoc, terms *metadata.Terms, pre *prefetched) (*loan.Loan, error) {
	create := false
	switch {
	case l == nil:
		existing, err := r.Loans.GetByLoanID(ctx, terms.LoanID)
		switch {
		case err == nil:
			l = existing
		case isNotFound(err):
			l = &loan.Loan{LoanID: terms.LoanID}
			create = true
		default:
			return nil, err
		}
		if l.TokenID == nil {
			l.TokenID = &tokenID
		}
	case l.Provisional:
		other, err := r.Loans.GetByLoanID(ctx, terms.LoanID)
		switch {
		case err == nil && other.ID != l.ID:
			if other, err = u.merge(ctx, r, l, other); err != nil {
				return nil, err
			}
			l = other
		case err == nil || isNotFound(err):
			l.LoanID = terms.LoanID
		default:
			return nil, err
		}
	}

	if terms.Tranche != nil {
		if err := bindTranche(ctx, r, l, tokenID); err != nil {
			return nil, err
		}
	}

	l.Provisional = false
	l.Tokenized = true
	l.MetadataCID = doc.cid
	l.Borrower = terms.Borrower
	l.Principal = terms.Principal
	l.AnnualInterestRate = terms.APR
	l.TermMonths = terms.TermMonths
	l.TotalSlices = terms.TotalSlices
	l.UnitPrice = terms.UnitPrice
	l.MonthlyPayment = terms.MonthlyPayment
	l.StartDate = terms.StartDate
	l.MaturityDate = terms.MaturityDate
	switch {
	case terms.Title != "":
		l.Title = terms.Title
	case l.Title == "" || l.Title == "Loan #"+tokenID:
		l.Title = "Loan " + terms.LoanID
	}
	if l.Status == "" {
		l.Status = loan.StatusPerforming
	}
	if l.TokenContract == "" {
		l.TokenContract = ev.Contract
	}
	if l.TxHash == "" {
		l.TxHash = ev.TxHash
	}

	// the commitment may only arrive with a later TokenCreated in the same tx
	u.verify(l, tokenID, pre)

	if create {
		return l, r.Loans.Create(ctx, l)
	}
	return l, r.Loans.Save(ctx, l)
}

// merge folds a provisional loan into the local loan its metadata names.
func (u *Usecase) merge(ctx context.Context, r uow.Repos, prov, target *loan.Loan) (*loan.Loan, error) {
	held, err := r.Positions.SumSlices(ctx, prov.ID)
	if err != nil {
		return nil, err
	}
	if held.IsPositive() {
		return nil, fmt.Errorf("%w: %s holds %s slices, cannot merge into %s",
			ErrProvisionalConflict, prov.LoanID, held.String(), target.LoanID)
	}
	provID := prov.TokenIDString()
	sibling := target.IsTranche() && (*target.SeniorID == provID || *target.JuniorID == provID)
	if target.TokenID != nil && *target.TokenID != provID && !sibling {
		return nil, fmt.Errorf("%w: %s already bound to token %s", ErrProvisionalConflict, target.LoanID, *target.TokenID)
	}
	if err := r.Loans.Delete(ctx, prov.ID); err != nil {
		return nil, err
	}
	if !sibling {
		target.TokenID = prov.TokenID
	}
	if prov.MetadataHash != "" {
		target.MetadataHash = prov.MetadataHash
	}
	if target.TokenContract == "" {
		target.TokenContract = prov.TokenContract
	}
	if target.TxHash == "" {
		target.TxHash = prov.TxHash
	}
	logger.Infof("reconcile: provisional loan merged", logger.Fields{"From": prov.LoanID, "Into": target.LoanID})
	return target, nil
}

// bindTranche points l at the senior/junior pair tokenID belongs to. A
// provisional record already created for the sibling token is folded in.
func bindTranche(ctx context.Context, r uow.Repos, l *loan.Loan, tokenID string) error {
	tok, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return fmt.Errorf("%w: token id %q", metadata.ErrInvalidField, tokenID)
	}
	parent, ok := id.TrancheParent(tok)
	if !ok {
		return fmt.Errorf("%w: token %s carries tranche metadata but is not a tranche id", metadata.ErrInvalidField, tokenID)
	}
	senior, junior := id.TrancheIDs(parent)
	for _, sib := range []string{senior.String(), junior.String()} {
		if sib == tokenID {
			continue
		}
		other, err := findLoan(ctx, r.Loans, sib)
		if err != nil {
			return err
		}
		if other == nil || other.ID == l.ID {
			continue
		}
		if !other.Provisional {
			return fmt.Errorf("%w: tranche token %s already belongs to %s", ErrProvisionalConflict, sib, other.LoanID)
		}
		held, err := r.Positions.SumSlices(ctx, other.ID)
		if err != nil {
			return err
		}
		if held.IsPositive() {
			return fmt.Errorf("%w: %s holds %s slices, cannot merge into %s",
				ErrProvisionalConflict, other.LoanID, held.String(), l.LoanID)
		}
		if err := r.Loans.Delete(ctx, other.ID); err != nil {
			return err
		}
		logger.Infof("reconcile: provisional tranche merged", logger.Fields{"From": other.LoanID, "Into": l.LoanID})
	}

	p, s, j := parent.String(), senior.String(), junior.String()
	l.TokenID, l.SeniorID, l.JuniorID = &p, &s, &j
	return nil
}

func (u *Usecase) onTransfer(ctx context.Context, r uow.Repos, ev *chain.Event) error {
	ts := ev.TransferSingle
	id := ts.TokenID.String()
	l, err := findLoan(ctx, r.Loans, id)
	if err != nil {
		return err
	}
	if l == nil {
		return fmt.Errorf("%w: token %s", ErrUnknownLoan, id)
	}
	if ts.Value.Sign() == 0 {
		return nil
	}
	value := decimal.NewFromBigInt(ts.Value, 0)
	skipAdmins := u.opts.AdminPolicy == AdminSkip

	if !(skipAdmins && u.isAdmin(ts.From)) {
		if err := debit(ctx, r, l, ts.From, value, ev); err != nil {
			return err
		}
	}
	if !ts.IsBurn() && !(skipAdmins && u.isAdmin(ts.To)) {
		if err := credit(ctx, r, l, ts.To, transferInvestorName, value, ev); err != nil {
			return err
		}
	}
	return checkSupply(ctx, r, l)
}

func (u *Usecase) onDividends(ctx context.Context, r uow.Repos, ev *chain.Event) error {
	dd := ev.DividendsDeposited
	id := dd.TokenID.String()
	l, err := findLoan(ctx, r.Loans, id)
	if err != nil {
		return err
	}
	if l == nil || l.TotalSlices <= 0 {
		logger.Warnf("reconcile: dividends for unknown or empty loan", logger.Fields{"TokenID": id, "TxHash": ev.TxHash})
		return nil
	}
	_, err = CreditDividends(ctx, r, l, Deposit{
		TxHash: ev.TxHash, LogIndex: ev.LogIndex, BlockNumber: ev.BlockNumber, Units: dd.Amount,
	})
	return err
}

// Deposit is one DividendsDeposited log as seen by the ledger.
type Deposit struct {
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
	// USDC base units, 6 decimals
	Units *big.Int
}

// CreditDividends splits a deposit across the loan's positions pro rata to
// slices held, rounding each share to 6 places. Each recipient gets one
// cashflow row keyed by (tx, log index, wallet); rows that already exist are
// not credited again. It returns the rows it created.
func CreditDividends(ctx context.Context, r uow.Repos, l *loan.Loan, dep Deposit) ([]cashflow.Cashflow, error) {
	positions, err := r.Positions.ListByLoan(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	actual := decimal.NewFromBigInt(dep.Units, -6)
	total := decimal.NewFromInt(int64(l.TotalSlices))
	var out []cashflow.Cashflow
	for i := range positions {
		p := &positions[i]
		if !p.SlicesOwned.IsPositive() {
			continue
		}
		share := actual.Mul(p.SlicesOwned).Div(total).Round(6)
		if !share.IsPositive() {
			continue
		}
		wallet, err := walletOf(ctx, r, p)
		if err != nil {
			return nil, err
		}
		cf := cashflow.Cashflow{
			LoanID:      l.ID,
			InvestorID:  p.InvestorID,
			Amount:      share,
			TxKey:       cashflow.Key(dep.TxHash, dep.LogIndex, wallet),
			TxHash:      strings.ToLower(dep.TxHash),
			BlockNumber: dep.BlockNumber,
			Description: fmt.Sprintf("Yield distribution block %d", dep.BlockNumber),
		}
		created, err := r.Cashflows.Insert(ctx, &cf)
		if err != nil {
			return nil, err
		}
		if !created {
			continue
		}
		p.BalanceDue = p.BalanceDue.Add(share)
		if err := r.Positions.Save(ctx, p); err != nil {
			return nil, err
		}
		out = append(out, cf)
	}
	logger.Infof("reconcile: dividends credited", logger.Fields{
		"Loan": l.LoanID, "Units": dep.Units.String(), "Recipients": len(out), "TxHash": dep.TxHash,
	})
	return out, nil
}

func walletOf(ctx context.Context, r uow.Repos, p *investor.Position) (string, error) {
	if p.Investor != nil {
		return p.Investor.WalletAddress, nil
	}
	inv, err := r.Investors.GetByID(ctx, p.InvestorID)
	if err != nil {
		return "", err
	}
	return inv.WalletAddress, nil
}

func credit(ctx context.Context, r uow.Repos, l *loan.Loan, wallet, name string, slices decimal.Decimal, ev *chain.Event) error {
	inv, err := r.Investors.GetByWallet(ctx, wallet)
	switch {
	case isNotFound(err):
		inv = &investor.Investor{Name: name, WalletAddress: wallet}
		if err := r.Investors.Create(ctx, inv); err != nil {
			return err
		}
	case err != nil:
		return err
	}

	pos, err := r.Positions.GetForUpdate(ctx, inv.ID, l.ID)
	switch {
	case isNotFound(err):
		pos = &investor.Position{InvestorID: inv.ID, LoanID: l.ID}
	case err != nil:
		return err
	}
	if err := pos.Add(slices); err != nil {
		return err
	}
	pos.TxHash = ev.TxHash
	pos.LastBlockSynced = ev.BlockNumber
	return r.Positions.Save(ctx, pos)
}

func debit(ctx context.Context, r uow.Repos, l *loan.Loan, wallet string, slices decimal.Decimal, ev *chain.Event) error {
	inv, err := r.Investors.GetByWallet(ctx, wallet)
	if isNotFound(err) {
		return fmt.Errorf("%w: %s holds nothing in %s", investor.ErrInsufficientSlices, wallet, l.LoanID)
	}
	if err != nil {
		return err
	}
	pos, err := r.Positions.GetForUpdate(ctx, inv.ID, l.ID)
	if isNotFound(err) {
		return fmt.Errorf("%w: %s holds nothing in %s", investor.ErrInsufficientSlices, wallet, l.LoanID)
	}
	if err != nil {
		return err
	}
	if err := pos.Remove(slices); err != nil {
		return fmt.Errorf("%s in %s: %w", wallet, l.LoanID, err)
	}
	pos.TxHash = ev.TxHash
	pos.LastBlockSynced = ev.BlockNumber
	return r.Positions.Save(ctx, pos)
}

func checkSupply(ctx context.Context, r uow.Repos, l *loan.Loan) error {
	if l.TotalSlices <= 0 {
		return nil
	}
	sum, err := r.Positions.SumSlices(ctx, l.ID)
	if err != nil {
		return err
	}
	if sum.GreaterThan(decimal.NewFromInt(int64(l.TotalSlices))) {
		return fmt.Errorf("%w: %s holds %s of %d", investor.ErrSliceOverflow, l.LoanID, sum.String(), l.TotalSlices)
	}
	return nil
}
