package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/baraka-billing/internal/config"
	"github.com/example/baraka-billing/internal/models"
)

// ErrTrialUsed is returned when a user activates the free trial twice.
var ErrTrialUsed = errors.New("trial already used")

const trialDuration = 3 * 24 * time.Hour

// SubscriptionService maps paid amounts to subscription tiers and extends the
// user's subscription window. Thresholds come from configuration, never from
// the transaction state machine.
type SubscriptionService struct {
	db         *gorm.DB
	thresholds []config.GrantThreshold
	log        *zap.Logger
	now        func() time.Time
}

func NewSubscriptionService(db *gorm.DB, thresholds []config.GrantThreshold, log *zap.Logger) *SubscriptionService {
	return &SubscriptionService{
		db:         db,
		thresholds: thresholds,
		log:        log,
		now:        time.Now,
	}
}

// PlanFor resolves the tier and duration a paid amount buys. Thresholds are
// ordered highest first; the first one the amount exceeds wins.
func (s *SubscriptionService) PlanFor(amount decimal.Decimal) (string, int) {
	for _, t := range s.thresholds {
		if amount.GreaterThan(t.MinAmount) {
			return t.Tier, t.Months
		}
	}
	return models.SubscriptionMonthly, 1
}

// Grant extends the user's subscription inside the caller's transaction.
// Remaining time is preserved: the new window starts at max(now, current end),
// so stacked payments add up instead of overwriting each other. The grant is
// applied exactly once per performed transaction because the ledger only
// reaches this call on the Created to Performed transition.
func (s *SubscriptionService) Grant(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal) (string, error) {
	var user models.User
	if err := tx.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		return "", err
	}

	tier, months := s.PlanFor(amount)

	now := s.now()
	base := now
	if user.SubscriptionEndsAt != nil && user.SubscriptionEndsAt.After(now) {
		base = *user.SubscriptionEndsAt
	}
	endsAt := base.AddDate(0, months, 0)

	if err := tx.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"subscription_type":    tier,
			"subscription_ends_at": endsAt,
			"is_premium":           true,
		}).Error; err != nil {
		return "", err
	}

	s.log.Info("subscription granted",
		zap.String("user_id", userID.String()),
		zap.String("tier", tier),
		zap.Int("months", months),
		zap.Time("ends_at", endsAt))

	return tier, nil
}

// ActivateTrial grants the one-off 3-day trial.
func (s *SubscriptionService) ActivateTrial(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, err
	}

	if user.IsTrialUsed {
		return nil, ErrTrialUsed
	}

	endsAt := s.now().Add(trialDuration)
	if err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"subscription_type":    models.SubscriptionTrial,
			"subscription_ends_at": endsAt,
			"is_premium":           true,
			"is_trial_used":        true,
		}).Error; err != nil {
		return nil, err
	}

	user.SubscriptionType = models.SubscriptionTrial
	user.SubscriptionEndsAt = &endsAt
	user.IsPremium = true
	user.IsTrialUsed = true
	return &user, nil
}

// Status returns the user's current subscription fields.
func (s *SubscriptionService) Status(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
