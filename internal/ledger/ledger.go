// Package ledger owns prepaid token lifecycle: creation, balance, expiry and
// atomic debit/credit on top of the persistent store.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ruzakiff/crazygpt/internal/clock"
	"github.com/Ruzakiff/crazygpt/internal/models"
	"github.com/Ruzakiff/crazygpt/internal/security"
	internalsettings "github.com/Ruzakiff/crazygpt/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTokenNotFound       = errors.New("ledger: token not found")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrInvalidAmount       = errors.New("ledger: invalid amount")
)

// Ledger persists token balances. Every balance mutation is a single conditional
// UPDATE, so concurrent debits against one token are linearized by the store.
type Ledger struct {
	db    *gorm.DB
	clock clock.Clock
}

// New constructs a Ledger backed by GORM.
func New(db *gorm.DB, clk clock.Clock) *Ledger {
	return &Ledger{db: db, clock: clock.OrSystem(clk)}
}

// WithTx returns a Ledger bound to an open transaction.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx, clock: l.clock}
}

// TTL is the lifetime of newly created tokens.
func (l *Ledger) TTL() time.Duration {
	hours := internalsettings.Int(internalsettings.TokenTTLHoursKey, internalsettings.DefaultTokenTTLHours, 1)
	return time.Duration(hours) * time.Hour
}

// Create inserts a fresh token holding amount units and returns its id.
func (l *Ledger) Create(ctx context.Context, amount int64) (string, error) {
	return l.CreateTier(ctx, amount, "")
}

// CreateTier is Create with the purchase tier recorded on the token.
func (l *Ledger) CreateTier(ctx context.Context, amount int64, tier string) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}
	id, errID := security.GenerateTokenID()
	if errID != nil {
		return "", errID
	}
	now := l.clock.NowUTC()
	row := models.Token{
		ID:        id,
		Balance:   amount,
		Used:      0,
		Tier:      tier,
		ExpiresAt: now.Add(l.TTL()),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errCreate := l.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return "", fmt.Errorf("ledger: create token: %w", errCreate)
	}
	log.Infof("ledger: token created (token=%s amount=%d expires_at=%s)", security.MaskToken(id), amount, row.ExpiresAt.Format(time.RFC3339))
	return id, nil
}

// Get loads a live token, reclaiming it when it has expired.
func (l *Ledger) Get(ctx context.Context, id string) (*models.Token, error) {
	if id == "" {
		return nil, ErrTokenNotFound
	}
	var row models.Token
	errFind := l.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if errFind != nil {
		return nil, fmt.Errorf("ledger: get token: %w", errFind)
	}
	if row.Expired(l.clock.NowUTC()) {
		if errRevoke := l.Revoke(ctx, id); errRevoke != nil {
			return nil, errRevoke
		}
		log.Infof("ledger: expired token reclaimed (token=%s)", security.MaskToken(id))
		return nil, ErrTokenNotFound
	}
	return &row, nil
}

// Active reports whether the token exists and has not expired.
func (l *Ledger) Active(ctx context.Context, id string) (bool, error) {
	_, err := l.Get(ctx, id)
	if errors.Is(err, ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Validate reports whether the token exists, has not expired, and holds a positive balance.
func (l *Ledger) Validate(ctx context.Context, id string) (bool, error) {
	row, err := l.Get(ctx, id)
	if errors.Is(err, ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return row.Balance > 0, nil
}

// BalanceOf returns the remaining balance of a live token.
func (l *Ledger) BalanceOf(ctx context.Context, id string) (int64, error) {
	row, err := l.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return row.Balance, nil
}

// Debit removes amount units and returns the new balance. It fails without
// mutating state when amount exceeds the current balance.
func (l *Ledger) Debit(ctx context.Context, id string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Token{}).
			Where("id = ? AND balance >= ?", id, amount).
			Updates(map[string]any{
				"balance": gorm.Expr("balance - ?", amount),
				"used":    gorm.Expr("used + ?", amount),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if errCount := tx.Model(&models.Token{}).Where("id = ?", id).Count(&count).Error; errCount != nil {
				return errCount
			}
			if count == 0 {
				return ErrTokenNotFound
			}
			return ErrInsufficientBalance
		}
		return tx.Model(&models.Token{}).Select("balance").Where("id = ?", id).Scan(&balance).Error
	})
	if errTx != nil {
		if errors.Is(errTx, ErrTokenNotFound) || errors.Is(errTx, ErrInsufficientBalance) {
			return 0, errTx
		}
		return 0, fmt.Errorf("ledger: debit: %w", errTx)
	}
	return balance, nil
}

// DebitUpTo removes at most amount units, never taking the balance below zero.
// It returns the units actually charged and the new balance.
func (l *Ledger) DebitUpTo(ctx context.Context, id string, amount int64) (int64, int64, error) {
	if amount < 0 {
		return 0, 0, ErrInvalidAmount
	}
	var charged, balance int64
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Token
		errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "balance").
			Where("id = ?", id).
			Take(&row).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return ErrTokenNotFound
		}
		if errFind != nil {
			return errFind
		}
		charged = min(amount, row.Balance)
		if charged <= 0 {
			balance = row.Balance
			return nil
		}
		res := tx.Model(&models.Token{}).
			Where("id = ? AND balance >= ?", id, charged).
			Updates(map[string]any{
				"balance": gorm.Expr("balance - ?", charged),
				"used":    gorm.Expr("used + ?", charged),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientBalance
		}
		balance = row.Balance - charged
		return nil
	})
	if errTx != nil {
		if errors.Is(errTx, ErrTokenNotFound) || errors.Is(errTx, ErrInsufficientBalance) {
			return 0, 0, errTx
		}
		return 0, 0, fmt.Errorf("ledger: debit up to: %w", errTx)
	}
	return charged, balance, nil
}

// Credit adds amount units back to the token and returns the new balance.
// Used is cumulative and left unchanged; the credit is tracked in refunded.
func (l *Ledger) Credit(ctx context.Context, id string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Token{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"balance":  gorm.Expr("balance + ?", amount),
				"refunded": gorm.Expr("refunded + ?", amount),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTokenNotFound
		}
		return tx.Model(&models.Token{}).Select("balance").Where("id = ?", id).Scan(&balance).Error
	})
	if errTx != nil {
		if errors.Is(errTx, ErrTokenNotFound) {
			return 0, errTx
		}
		return 0, fmt.Errorf("ledger: credit: %w", errTx)
	}
	return balance, nil
}

// Revoke deletes the token record.
func (l *Ledger) Revoke(ctx context.Context, id string) error {
	if errDelete := l.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Token{}).Error; errDelete != nil {
		return fmt.Errorf("ledger: revoke token: %w", errDelete)
	}
	return nil
}
