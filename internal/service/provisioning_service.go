package service

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"vpn-bot/internal/domain"
	"vpn-bot/internal/metrics"
	"vpn-bot/internal/repository"
	"vpn-bot/internal/wireguard"
)

// KeyGenerator produce un par de claves nuevo para un perfil.
type KeyGenerator func() (wireguard.KeyPair, error)

// ProvisioningService garantiza que un usuario tenga perfil WireGuard.
type ProvisioningService struct {
	logger *zap.Logger
	store  *repository.UserStore
	pool   AddressPool
	keys   KeyGenerator
}

func NewProvisioningService(logger *zap.Logger, store *repository.UserStore, pool AddressPool, keys KeyGenerator) *ProvisioningService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keys == nil {
		keys = wireguard.GenerateKeyPair
	}
	return &ProvisioningService{logger: logger, store: store, pool: pool, keys: keys}
}

// EnsureProfile devuelve el perfil existente o asigna uno nuevo. La asignacion
// de direccion y el guardado ocurren dentro de un unico Update del store.
func (s *ProvisioningService) EnsureProfile(userID int64) (domain.Profile, error) {
	if rec, ok := s.store.Get(userID); ok && rec.HasProfile() {
		return *rec.Profile, nil
	}

	// Las claves se generan fuera del lock del store.
	pair, err := s.keys()
	if err != nil {
		return domain.Profile{}, fmt.Errorf("generate key pair: %w", err)
	}

	var (
		profile domain.Profile
		created bool
	)
	err = s.store.Update(func(users map[int64]domain.UserRecord) (bool, error) {
		rec := users[userID]
		if rec.HasProfile() {
			profile = *rec.Profile
			return false, nil
		}
		addr, err := s.pool.Allocate(assignedAddresses(users))
		if err != nil {
			return false, err
		}
		profile = domain.Profile{
			PrivateKey: pair.PrivateKey,
			PublicKey:  pair.PublicKey,
			Address:    addr,
		}
		p := profile
		rec.Profile = &p
		users[userID] = rec
		created = true
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrPoolExhausted) {
			metrics.AddressPoolExhausted.Inc()
			s.logger.Error("address pool exhausted",
				zap.Int64("user_id", userID),
				zap.String("prefix", s.pool.Prefix),
			)
		}
		return domain.Profile{}, err
	}
	if created {
		metrics.ProfilesProvisioned.Inc()
		s.logger.Info("profile provisioned",
			zap.Int64("user_id", userID),
			zap.String("address", profile.Address),
		)
	}
	return profile, nil
}
