package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/xfund/backend/internal/models"
	"github.com/xfund/backend/internal/observability"
)

var (
	// ErrInvalidAmount is returned for a zero or negative amount.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInsufficientFunds is returned when the debited wallet balance is too low.
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrWalletExists      = errors.New("wallet already exists")
	ErrMissingReference  = errors.New("reference is required")
	ErrInvalidKind       = errors.New("invalid transaction kind")
	ErrSameWallet        = errors.New("cannot transfer to the same wallet")
	// ErrReferenceConflict is returned when a reference is reused for a
	// different movement. Identical replays are not errors.
	ErrReferenceConflict     = errors.New("reference already used for a different movement")
	ErrDuplicateReference    = errors.New("duplicate reference")
	ErrWalletHasTransactions = errors.New("wallet has transactions")
	ErrPlatformWallet        = errors.New("platform wallet cannot be deleted")
	// ErrLedgerMismatch is returned by Verify when replaying transactions does
	// not reproduce the stored balance.
	ErrLedgerMismatch = errors.New("ledger replay mismatch")
)

// TransferRequest moves Amount from one wallet to another as two legs.
type TransferRequest struct {
	From         uuid.UUID
	To           uuid.UUID
	Amount       int64
	Kind         string
	InvestmentID *uuid.UUID
	Reference    string
	Metadata     json.RawMessage
}

// Service is the only component allowed to change a wallet balance.
type Service interface {
	EnsurePlatformWallet(ctx context.Context) error
	CreateWallet(ctx context.Context, accountID uuid.UUID, currency string) (*models.Wallet, error)
	DeleteWallet(ctx context.Context, walletID uuid.UUID) error
	Wallet(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error)
	WalletByAccount(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error)
	PlatformWallet(ctx context.Context) (*models.Wallet, error)
	Deposit(ctx context.Context, walletID uuid.UUID, amount int64, reference string) (*models.Transaction, error)
	Withdraw(ctx context.Context, walletID uuid.UUID, amount int64, reference string) (*models.Transaction, error)
	Transfer(ctx context.Context, req TransferRequest) (from, to *models.Transaction, err error)
	Statement(ctx context.Context, walletID uuid.UUID) ([]*models.Transaction, error)
	Verify(ctx context.Context, walletID uuid.UUID) error
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WalletStore is the wallet persistence the service needs.
type WalletStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, w *models.Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	GetByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error)
	GetPlatform(ctx context.Context) (*models.Wallet, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Wallet, error)
	AddFunds(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64, deposit bool) (int64, error)
	DeductFunds(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64, withdrawal bool) (int64, error)
	DeleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	EnsurePlatform(ctx context.Context, tx pgx.Tx) error
}

// TransactionStore is the append-only transaction persistence the service needs.
type TransactionStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
	GetByReference(ctx context.Context, ref string) (*models.Transaction, error)
	ListByWallet(ctx context.Context, walletID uuid.UUID) ([]*models.Transaction, error)
	CountByWalletTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (int, error)
}

type service struct {
	db      TxBeginner
	wallets WalletStore
	txns    TransactionStore
	now     func() time.Time
}

func NewService(db TxBeginner, wallets WalletStore, txns TransactionStore) Service {
	return &service{db: db, wallets: wallets, txns: txns, now: time.Now}
}

var _ Service = (*service)(nil)

var tracer = otel.Tracer("ledger")

func (s *service) EnsurePlatformWallet(ctx context.Context) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := s.wallets.EnsurePlatform(ctx, tx); err != nil {
		return fmt.Errorf("ensure platform wallet: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *service) CreateWallet(ctx context.Context, accountID uuid.UUID, currency string) (*models.Wallet, error) {
	if currency == "" {
		currency = models.DefaultCurrency
	}
	w := &models.Wallet{ID: uuid.New(), AccountID: accountID, Currency: currency}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	if err := s.wallets.CreateTx(ctx, tx, w); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// DeleteWallet removes a wallet that never recorded a transaction.
func (s *service) DeleteWallet(ctx context.Context, walletID uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	w, err := s.wallets.GetByIDForUpdate(ctx, tx, walletID)
	if err != nil {
		return err
	}
	if w.IsPlatform {
		return ErrPlatformWallet
	}
	n, err := s.txns.CountByWalletTx(ctx, tx, walletID)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrWalletHasTransactions
	}
	if err := s.wallets.DeleteTx(ctx, tx, walletID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *service) Wallet(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	return s.wallets.GetByID(ctx, walletID)
}

func (s *service) WalletByAccount(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	return s.wallets.GetByAccountID(ctx, accountID)
}

func (s *service) PlatformWallet(ctx context.Context) (*models.Wallet, error) {
	return s.wallets.GetPlatform(ctx)
}

func (s *service) Deposit(ctx context.Context, walletID uuid.UUID, amount int64, reference string) (t *models.Transaction, err error) {
	ctx, span := tracer.Start(ctx, "ledger.Deposit")
	span.SetAttributes(attribute.String("wallet_id", walletID.String()), attribute.String("reference", reference))
	defer func(start time.Time) {
		observability.ObserveLedger("deposit", start, err)
		observability.EndSpan(span, err)
	}(time.Now())

	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.applySingle(ctx, walletID, amount, models.TxKindDeposit, reference)
}

func (s *service) Withdraw(ctx context.Context, walletID uuid.UUID, amount int64, reference string) (t *models.Transaction, err error) {
	ctx, span := tracer.Start(ctx, "ledger.Withdraw")
	span.SetAttributes(attribute.String("wallet_id", walletID.String()), attribute.String("reference", reference))
	defer func(start time.Time) {
		observability.ObserveLedger("withdraw", start, err)
		observability.EndSpan(span, err)
	}(time.Now())

	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.applySingle(ctx, walletID, -amount, models.TxKindWithdrawal, reference)
}

// applySingle applies a signed delta to one wallet and records it.
func (s *service) applySingle(ctx context.Context, walletID uuid.UUID, delta int64, kind, reference string) (*models.Transaction, error) {
	if reference == "" {
		return nil, ErrMissingReference
	}
	if prior, err := s.replay(ctx, reference, walletID, kind, delta); prior != nil || err != nil {
		return prior, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	w, err := s.wallets.GetByIDForUpdate(ctx, tx, walletID)
	if err != nil {
		return nil, err
	}
	if delta < 0 && w.Balance < -delta {
		return nil, ErrInsufficientFunds
	}

	var balance int64
	if delta > 0 {
		balance, err = s.wallets.AddFunds(ctx, tx, walletID, delta, true)
	} else {
		balance, err = s.wallets.DeductFunds(ctx, tx, walletID, -delta, true)
	}
	if err != nil {
		return nil, err
	}

	t := s.newTransaction(walletID, nil, kind, delta, balance, reference, nil)
	if err := s.txns.CreateTx(ctx, tx, t); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			// A concurrent call with the same reference won the insert.
			_ = tx.Rollback(ctx)
			return s.replay(ctx, reference, walletID, kind, delta)
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Transfer applies both legs in one database transaction. The debit leg is
// stored under "<reference>:debit" and the credit leg under "<reference>:credit".
func (s *service) Transfer(ctx context.Context, req TransferRequest) (from, to *models.Transaction, err error) {
	ctx, span := tracer.Start(ctx, "ledger.Transfer")
	span.SetAttributes(
		attribute.String("from_wallet_id", req.From.String()),
		attribute.String("to_wallet_id", req.To.String()),
		attribute.String("kind", req.Kind),
		attribute.String("reference", req.Reference),
	)
	defer func(start time.Time) {
		observability.ObserveLedger("transfer", start, err)
		observability.EndSpan(span, err)
	}(time.Now())

	if req.Amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if req.Reference == "" {
		return nil, nil, ErrMissingReference
	}
	if req.From == req.To {
		return nil, nil, ErrSameWallet
	}
	if !models.ValidTxKind(req.Kind) || req.Kind == models.TxKindDeposit || req.Kind == models.TxKindWithdrawal {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidKind, req.Kind)
	}

	if from, to, err := s.replayTransfer(ctx, req); from != nil || err != nil {
		return from, to, err
	}

	from, to, err = s.applyTransfer(ctx, req)
	if errors.Is(err, ErrDuplicateReference) {
		return s.replayTransfer(ctx, req)
	}
	return from, to, err
}

func (s *service) applyTransfer(ctx context.Context, req TransferRequest) (*models.Transaction, *models.Transaction, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	// Lock both wallets in deterministic order to avoid deadlock.
	ids := []uuid.UUID{req.From, req.To}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	locked := make(map[uuid.UUID]*models.Wallet, 2)
	for _, id := range ids {
		w, err := s.wallets.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return nil, nil, err
		}
		locked[id] = w
	}
	if locked[req.From].Balance < req.Amount {
		return nil, nil, ErrInsufficientFunds
	}

	fromBalance, err := s.wallets.DeductFunds(ctx, tx, req.From, req.Amount, false)
	if err != nil {
		return nil, nil, err
	}
	toBalance, err := s.wallets.AddFunds(ctx, tx, req.To, req.Amount, false)
	if err != nil {
		return nil, nil, err
	}

	from := s.newTransaction(req.From, req.InvestmentID, req.Kind, -req.Amount, fromBalance, debitRef(req.Reference), req.Metadata)
	if err := s.txns.CreateTx(ctx, tx, from); err != nil {
		return nil, nil, err
	}
	to := s.newTransaction(req.To, req.InvestmentID, req.Kind, req.Amount, toBalance, creditRef(req.Reference), req.Metadata)
	if err := s.txns.CreateTx(ctx, tx, to); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func (s *service) newTransaction(walletID uuid.UUID, investmentID *uuid.UUID, kind string, amount, balance int64, reference string, metadata json.RawMessage) *models.Transaction {
	return &models.Transaction{
		ID:               uuid.New(),
		WalletID:         walletID,
		InvestmentID:     investmentID,
		Kind:             kind,
		Amount:           amount,
		ResultingBalance: balance,
		Status:           models.TxStatusCompleted,
		Reference:        reference,
		Metadata:         metadata,
		ProcessedAt:      s.now(),
	}
}

// replay returns the transaction already recorded under reference, nil if
// there is none, or ErrReferenceConflict if it describes another movement.
func (s *service) replay(ctx context.Context, reference string, walletID uuid.UUID, kind string, amount int64) (*models.Transaction, error) {
	prior, err := s.txns.GetByReference(ctx, reference)
	if err != nil || prior == nil {
		return nil, err
	}
	if prior.WalletID != walletID || prior.Kind != kind || prior.Amount != amount {
		return nil, fmt.Errorf("%w: %s", ErrReferenceConflict, reference)
	}
	return prior, nil
}

func (s *service) replayTransfer(ctx context.Context, req TransferRequest) (*models.Transaction, *models.Transaction, error) {
	from, err := s.replay(ctx, debitRef(req.Reference), req.From, req.Kind, -req.Amount)
	if err != nil || from == nil {
		return nil, nil, err
	}
	to, err := s.replay(ctx, creditRef(req.Reference), req.To, req.Kind, req.Amount)
	if err != nil {
		return nil, nil, err
	}
	if to == nil {
		return nil, nil, fmt.Errorf("%w: credit leg missing for %s", ErrLedgerMismatch, req.Reference)
	}
	return from, to, nil
}

func (s *service) Statement(ctx context.Context, walletID uuid.UUID) ([]*models.Transaction, error) {
	if _, err := s.wallets.GetByID(ctx, walletID); err != nil {
		return nil, err
	}
	return s.txns.ListByWallet(ctx, walletID)
}

// Verify replays the wallet's completed transactions and checks both the
// running resulting balances and the final stored balance.
func (s *service) Verify(ctx context.Context, walletID uuid.UUID) error {
	w, err := s.wallets.GetByID(ctx, walletID)
	if err != nil {
		return err
	}
	txns, err := s.txns.ListByWallet(ctx, walletID)
	if err != nil {
		return err
	}
	var running int64
	for _, t := range txns {
		if t.Status != models.TxStatusCompleted {
			continue
		}
		running += t.Amount
		if t.ResultingBalance != running {
			return fmt.Errorf("%w: transaction %s resulting balance %d, replay %d", ErrLedgerMismatch, t.ID, t.ResultingBalance, running)
		}
	}
	if running != w.Balance {
		return fmt.Errorf("%w: wallet %s balance %d, replay %d", ErrLedgerMismatch, walletID, w.Balance, running)
	}
	return nil
}

func debitRef(ref string) string  { return ref + ":debit" }
func creditRef(ref string) string { return ref + ":credit" }
