package service

import (
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"vpn-bot/internal/domain"
	"vpn-bot/internal/metrics"
	"vpn-bot/internal/repository"
)

var ErrInvalidDays = errors.New("subscription days must be positive")

// SubscriptionStatus resume el estado de acceso de un usuario.
type SubscriptionStatus struct {
	Known      bool
	Active     bool
	Subscribed bool
	Start      *time.Time
	End        *time.Time
}

// SubscriptionService aplica las reglas de alta, activacion y vencimiento
// sobre el UserStore.
type SubscriptionService struct {
	logger *zap.Logger
	store  *repository.UserStore
	now    func() time.Time
}

func NewSubscriptionService(logger *zap.Logger, store *repository.UserStore) *SubscriptionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubscriptionService{logger: logger, store: store, now: time.Now}
}

// Register crea el registro vacio del usuario si todavia no existe.
func (s *SubscriptionService) Register(userID int64) error {
	return s.store.Update(func(users map[int64]domain.UserRecord) (bool, error) {
		if _, ok := users[userID]; ok {
			return false, nil
		}
		users[userID] = domain.UserRecord{}
		return true, nil
	})
}

// Activate abre una ventana nueva [now, now+days). No extiende la anterior.
func (s *SubscriptionService) Activate(userID int64, days int) (time.Time, error) {
	if days <= 0 {
		return time.Time{}, ErrInvalidDays
	}
	start := s.now().UTC()
	end := start.AddDate(0, 0, days)
	err := s.store.Update(func(users map[int64]domain.UserRecord) (bool, error) {
		rec := users[userID]
		rec.Subscribed = true
		rec.SubscriptionStart = &start
		rec.SubscriptionEnd = &end
		users[userID] = rec
		return true, nil
	})
	if err != nil {
		return time.Time{}, err
	}
	metrics.SubscriptionsActivated.Inc()
	s.logger.Info("subscription activated",
		zap.Int64("user_id", userID),
		zap.Int("days", days),
		zap.Time("until", end),
	)
	return end, nil
}

// IsActive usa solo subscription_end; el flag subscribed no cuenta.
func (s *SubscriptionService) IsActive(userID int64) bool {
	rec, ok := s.store.Get(userID)
	if !ok {
		return false
	}
	return rec.IsActive(s.now())
}

func (s *SubscriptionService) Status(userID int64) SubscriptionStatus {
	rec, ok := s.store.Get(userID)
	if !ok {
		return SubscriptionStatus{}
	}
	return SubscriptionStatus{
		Known:      true,
		Active:     rec.IsActive(s.now()),
		Subscribed: rec.Subscribed,
		Start:      rec.SubscriptionStart,
		End:        rec.SubscriptionEnd,
	}
}

// SweepExpired marca subscribed=false en los registros vencidos que aun lo
// tenian en true y devuelve sus ids ordenados. Guarda una sola vez.
func (s *SubscriptionService) SweepExpired(now time.Time) ([]int64, error) {
	var expired []int64
	err := s.store.Update(func(users map[int64]domain.UserRecord) (bool, error) {
		expired = expired[:0]
		for id, rec := range users {
			// Sin fecha de fin no hay vencimiento que avisar.
			if !rec.Subscribed || rec.SubscriptionEnd == nil || rec.IsActive(now) {
				continue
			}
			rec.Subscribed = false
			users[id] = rec
			expired = append(expired, id)
		}
		return len(expired) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })
	if len(expired) > 0 {
		metrics.SubscriptionsExpired.Add(float64(len(expired)))
		s.logger.Info("subscriptions expired", zap.Int("count", len(expired)))
	}
	return expired, nil
}
