package economy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fystack/community-bot/internal/metrics"
	"github.com/fystack/community-bot/pkg/common/config"
	"github.com/fystack/community-bot/pkg/common/logger"
	"github.com/fystack/community-bot/pkg/common/types"
	"github.com/fystack/community-bot/pkg/infra"
	"github.com/fystack/community-bot/pkg/retry"
	"github.com/shopspring/decimal"
)

type Options struct {
	PointsLedger   string
	MonthlyLedger  string
	GamblingLedger string
	TransferLedger string
	// ExchangeRate is how many gambling points one monthly point buys.
	ExchangeRate decimal.Decimal

	// Timeout bounds every single store round trip.
	Timeout           time.Duration
	ReadAttempts      int
	ReadRetryInterval time.Duration
}

func OptionsFromConfig(eco config.EconomyConfig, ledger config.LedgerConfig) (Options, error) {
	rate, err := decimal.NewFromString(eco.ExchangeRate)
	if err != nil {
		return Options{}, fmt.Errorf("parse exchange rate %q: %w", eco.ExchangeRate, err)
	}
	if !rate.IsPositive() {
		return Options{}, fmt.Errorf("exchange rate must be positive, got %s", rate)
	}
	return Options{
		PointsLedger:      eco.PointsLedger,
		MonthlyLedger:     eco.MonthlyLedger,
		GamblingLedger:    eco.GamblingLedger,
		TransferLedger:    eco.TransferLedger,
		ExchangeRate:      rate,
		Timeout:           ledger.Timeout,
		ReadAttempts:      ledger.ReadAttempts,
		ReadRetryInterval: ledger.ReadRetryInterval,
	}, nil
}

// Economy is the points ledger as the rest of the bot sees it. Every
// read-modify-write on a (ledger, user) pair runs under that pair's lock, so
// callers across betting, converting, transferring and settlement never lose
// updates. Balances never go below zero.
type Economy struct {
	store infra.LedgerStore
	opts  Options
	locks *keyLocks
}

func New(store infra.LedgerStore, opts Options) *Economy {
	return &Economy{
		store: store,
		opts:  opts,
		locks: newKeyLocks(),
	}
}

func (e *Economy) GamblingLedger() string { return e.opts.GamblingLedger }

// Balance returns 0 for a user without a row.
func (e *Economy) Balance(ctx context.Context, ledger, user string) (int64, error) {
	balance, _, err := e.read(ctx, ledger, user)
	metrics.RecordLedgerOp("balance", string(types.KindOf(err)))
	return balance, err
}

// Credit adds amount, creating the row on first credit.
func (e *Economy) Credit(ctx context.Context, ledger, user string, amount int64) (int64, error) {
	unlock := e.locks.lock(lockKey(ledger, user))
	defer unlock()

	balance, err := e.credit(ctx, ledger, user, amount, false)
	metrics.RecordLedgerOp("credit", string(types.KindOf(err)))
	return balance, err
}

// Debit removes amount against a freshly read balance.
func (e *Economy) Debit(ctx context.Context, ledger, user string, amount int64) (int64, error) {
	unlock := e.locks.lock(lockKey(ledger, user))
	defer unlock()

	balance, err := e.debit(ctx, ledger, user, amount)
	metrics.RecordLedgerOp("debit", string(types.KindOf(err)))
	return balance, err
}

// Convert moves amount monthly points into amount*rate gambling points. A
// failed credit is compensated by refunding the monthly debit.
func (e *Economy) Convert(ctx context.Context, user string, amount int64) (types.ConvertResult, error) {
	res, err := e.convert(ctx, user, amount)
	metrics.RecordLedgerOp("convert", string(types.KindOf(err)))
	return res, err
}

func (e *Economy) convert(ctx context.Context, user string, amount int64) (types.ConvertResult, error) {
	if amount <= 0 {
		return types.ConvertResult{}, types.Errorf(types.KindInvalidAmount, "amount must be positive, got %d", amount)
	}
	credited, err := e.exchange(amount)
	if err != nil {
		return types.ConvertResult{}, err
	}

	src, dst := e.opts.MonthlyLedger, e.opts.GamblingLedger
	unlock := e.locks.lock(lockKey(src, user), lockKey(dst, user))
	defer unlock()

	srcBalance, err := e.debit(ctx, src, user, amount)
	if err != nil {
		return types.ConvertResult{}, err
	}

	dstBalance, err := e.credit(ctx, dst, user, credited, false)
	if err != nil {
		e.compensate(ctx, "convert", src, user, amount, err)
		return types.ConvertResult{}, err
	}

	logger.Info("Points converted",
		"user", user, "amount", amount, "credited", credited,
		"source_ledger", src, "dest_ledger", dst,
	)
	return types.ConvertResult{
		Amount:        amount,
		Credited:      credited,
		SourceBalance: srcBalance,
		DestBalance:   dstBalance,
	}, nil
}

func (e *Economy) exchange(amount int64) (int64, error) {
	credited := decimal.NewFromInt(amount).Mul(e.opts.ExchangeRate).Floor()
	if credited.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, types.Errorf(types.KindInvalidAmount, "amount %d is too large to convert", amount)
	}
	if !credited.IsPositive() {
		return 0, types.Errorf(types.KindInvalidAmount, "amount %d converts to nothing", amount)
	}
	return credited.IntPart(), nil
}

// Transfer debits sender then credits recipient on the transfer ledger. The
// recipient must already have a row.
func (e *Economy) Transfer(ctx context.Context, sender, recipient string, amount int64) (types.TransferResult, error) {
	res, err := e.transfer(ctx, sender, recipient, amount)
	metrics.RecordLedgerOp("transfer", string(types.KindOf(err)))
	return res, err
}

func (e *Economy) transfer(ctx context.Context, sender, recipient string, amount int64) (types.TransferResult, error) {
	if amount <= 0 {
		return types.TransferResult{}, types.Errorf(types.KindInvalidAmount, "amount must be positive, got %d", amount)
	}
	ledger := e.opts.TransferLedger

	unlock := e.locks.lock(lockKey(ledger, sender), lockKey(ledger, recipient))
	defer unlock()

	if _, found, err := e.read(ctx, ledger, recipient); err != nil {
		return types.TransferResult{}, err
	} else if !found {
		return types.TransferResult{}, types.Errorf(types.KindUnknownRecipient, "%s has no %s balance yet", recipient, ledger)
	}

	senderBalance, err := e.debit(ctx, ledger, sender, amount)
	if err != nil {
		return types.TransferResult{}, err
	}

	if _, err := e.credit(ctx, ledger, recipient, amount, true); err != nil {
		e.compensate(ctx, "transfer", ledger, sender, amount, err)
		return types.TransferResult{}, err
	}

	logger.Info("Points transferred", "ledger", ledger, "sender", sender, "recipient", recipient, "amount", amount)
	return types.TransferResult{
		Amount:        amount,
		Recipient:     recipient,
		SenderBalance: senderBalance,
	}, nil
}

// compensate refunds a debit whose paired credit failed. The caller still
// holds the key lock. Uses a fresh context so an expired caller deadline does
// not also sink the refund.
func (e *Economy) compensate(ctx context.Context, op, ledger, user string, amount int64, cause error) {
	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout())
	defer cancel()

	if _, err := e.credit(refundCtx, ledger, user, amount, false); err != nil {
		logger.Error("Compensating refund failed, ledger needs manual repair",
			"op", op, "ledger", ledger, "user", user, "amount", amount,
			"cause", cause, "err", err,
		)
		metrics.RecordLedgerOp(op+"_rollback", string(types.KindInvariantViolation))
		return
	}
	logger.Warn("Rolled back debit after failed credit", "op", op, "ledger", ledger, "user", user, "amount", amount, "cause", cause)
	metrics.RecordLedgerOp(op+"_rollback", "")
}

// debit assumes the caller holds the (ledger, user) lock.
func (e *Economy) debit(ctx context.Context, ledger, user string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, types.Errorf(types.KindInvalidAmount, "amount must be positive, got %d", amount)
	}
	balance, found, err := e.read(ctx, ledger, user)
	if err != nil {
		return 0, err
	}
	if amount > balance {
		return balance, types.Errorf(types.KindInsufficientFunds,
			"your %s balance is %d, which is less than the requested %d", ledger, balance, amount)
	}
	next := balance - amount
	if err := e.write(ctx, ledger, user, next, found); err != nil {
		return balance, err
	}
	return next, nil
}

// credit assumes the caller holds the (ledger, user) lock. With mustExist set
// a missing row is UnknownRecipient instead of being created.
func (e *Economy) credit(ctx context.Context, ledger, user string, amount int64, mustExist bool) (int64, error) {
	if amount <= 0 {
		return 0, types.Errorf(types.KindInvalidAmount, "amount must be positive, got %d", amount)
	}
	balance, found, err := e.read(ctx, ledger, user)
	if err != nil {
		return 0, err
	}
	if !found && mustExist {
		return 0, types.Errorf(types.KindUnknownRecipient, "%s has no %s balance yet", user, ledger)
	}
	if balance > math.MaxInt64-amount {
		return balance, types.Errorf(types.KindInvalidAmount, "crediting %d would overflow the %s balance", amount, ledger)
	}
	next := balance + amount
	if err := e.write(ctx, ledger, user, next, found); err != nil {
		return balance, err
	}
	return next, nil
}

// read is idempotent, so transient failures are retried.
func (e *Economy) read(ctx context.Context, ledger, user string) (int64, bool, error) {
	var (
		balance int64
		found   bool
	)
	err := retry.ConstantContext(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout())
		defer cancel()

		b, err := e.store.Read(callCtx, ledger, user)
		switch {
		case err == nil:
			balance, found = b, true
			return nil
		case errors.Is(err, infra.ErrRowNotFound):
			balance, found = 0, false
			return nil
		case errors.Is(err, infra.ErrKeyEmpty):
			return retry.Permanent(err)
		default:
			return err
		}
	}, e.opts.ReadRetryInterval, e.opts.ReadAttempts)
	if err != nil {
		if errors.Is(err, infra.ErrKeyEmpty) {
			return 0, false, types.Errorf(types.KindUnknownRecipient, "a nickname is required")
		}
		logger.Error("Ledger read failed", "ledger", ledger, "user", user, "err", err)
		return 0, false, unavailable(err)
	}
	if balance < 0 {
		return 0, false, types.Wrap(types.KindInvariantViolation,
			fmt.Errorf("stored balance %d", balance), "the %s balance of %s is corrupted", ledger, user)
	}
	return balance, found, nil
}

// write is never retried: a timed-out write may have landed.
func (e *Economy) write(ctx context.Context, ledger, user string, balance int64, exists bool) error {
	if balance < 0 {
		return types.Errorf(types.KindInvariantViolation, "refusing to store a negative balance")
	}
	callCtx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	var err error
	if exists {
		err = e.store.Write(callCtx, ledger, user, balance)
	} else {
		err = e.store.AppendRow(callCtx, ledger, user, balance)
	}
	if err != nil {
		logger.Error("Ledger write failed", "ledger", ledger, "user", user, "append", !exists, "err", err)
		return unavailable(err)
	}
	return nil
}

func (e *Economy) timeout() time.Duration {
	if e.opts.Timeout <= 0 {
		return 3 * time.Second
	}
	return e.opts.Timeout
}

func unavailable(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.Wrap(types.KindStoreUnavailable, err, "the points ledger did not answer in time, please retry")
	}
	return types.Wrap(types.KindStoreUnavailable, err, "the points ledger is unavailable, please retry")
}
