package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ExpiryNotifier avisa al usuario que su suscripcion vencio.
type ExpiryNotifier interface {
	NotifyExpired(ctx context.Context, userID int64) error
}

// ExpirySweeper ejecuta SweepExpired de forma periodica.
type ExpirySweeper struct {
	logger        *zap.Logger
	subscriptions *SubscriptionService
	notifier      ExpiryNotifier
	firstDelay    time.Duration
	interval      time.Duration
	now           func() time.Time
}

func NewExpirySweeper(logger *zap.Logger, subscriptions *SubscriptionService, notifier ExpiryNotifier, firstDelay, interval time.Duration) *ExpirySweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if firstDelay < 0 {
		firstDelay = 0
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &ExpirySweeper{
		logger:        logger,
		subscriptions: subscriptions,
		notifier:      notifier,
		firstDelay:    firstDelay,
		interval:      interval,
		now:           time.Now,
	}
}

// SetNotifier se usa cuando el notificador se construye despues del sweeper.
func (s *ExpirySweeper) SetNotifier(n ExpiryNotifier) {
	s.notifier = n
}

// Run bloquea hasta que ctx se cancela.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	timer := time.NewTimer(s.firstDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("expiry sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce vence las suscripciones y notifica a cada usuario afectado.
// Los errores de notificacion no interrumpen el barrido.
func (s *ExpirySweeper) RunOnce(ctx context.Context) (int, error) {
	ids, err := s.subscriptions.SweepExpired(s.now().UTC())
	if err != nil {
		return 0, err
	}
	if s.notifier == nil {
		return len(ids), nil
	}
	for _, id := range ids {
		if err := s.notifier.NotifyExpired(ctx, id); err != nil {
			s.logger.Debug("expiry notice not delivered", zap.Int64("user_id", id), zap.Error(err))
		}
	}
	return len(ids), nil
}
