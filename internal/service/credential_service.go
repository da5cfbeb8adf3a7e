package service

import (
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"vpn-bot/internal/domain"
	"vpn-bot/internal/repository"
)

// ArtifactRenderer produce los archivos de configuracion distribuibles.
type ArtifactRenderer interface {
	WireGuard(userID int64, rec domain.UserRecord) (string, error)
	OpenVPN(userID int64, rec domain.UserRecord) (string, error)
}

var (
	ErrEmptyCode            = errors.New("empty code")
	ErrInvalidCode          = errors.New("invalid or expired code")
	ErrSubscriptionInactive = errors.New("subscription inactive")
)

// CodeValidation es la respuesta de una validacion sin consumo.
type CodeValidation struct {
	OK                 bool
	SubscriptionActive bool
	Message            string
}

// CredentialService es la fachada comun del API HTTP y del bot.
type CredentialService struct {
	logger        *zap.Logger
	store         *repository.UserStore
	tokens        *LoginTokenBroker
	subscriptions *SubscriptionService
	provisioning  *ProvisioningService
	renderer      ArtifactRenderer
	telegramLink  string
}

func NewCredentialService(
	logger *zap.Logger,
	store *repository.UserStore,
	tokens *LoginTokenBroker,
	subscriptions *SubscriptionService,
	provisioning *ProvisioningService,
	renderer ArtifactRenderer,
	telegramLink string,
) *CredentialService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialService{
		logger:        logger,
		store:         store,
		tokens:        tokens,
		subscriptions: subscriptions,
		provisioning:  provisioning,
		renderer:      renderer,
		telegramLink:  telegramLink,
	}
}

func (s *CredentialService) LoginCodeTTL() time.Duration {
	return s.tokens.TTL()
}

// IssueLoginCode emite un codigo para la app; exige acceso vigente.
func (s *CredentialService) IssueLoginCode(userID int64) (string, error) {
	if !s.subscriptions.IsActive(userID) {
		return "", ErrSubscriptionInactive
	}
	return s.tokens.Issue(userID)
}

// ValidateCode comprueba el codigo sin consumirlo.
func (s *CredentialService) ValidateCode(code string) CodeValidation {
	code = strings.TrimSpace(code)
	if code == "" {
		return CodeValidation{Message: ErrEmptyCode.Error()}
	}
	tok, ok := s.tokens.Peek(code)
	if !ok {
		return CodeValidation{Message: ErrInvalidCode.Error()}
	}
	if !s.subscriptions.IsActive(tok.UserID) {
		return CodeValidation{OK: true, Message: ErrSubscriptionInactive.Error()}
	}
	return CodeValidation{OK: true, SubscriptionActive: true, Message: "OK"}
}

// FetchConfig consume el codigo y devuelve la configuracion WireGuard.
func (s *CredentialService) FetchConfig(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrEmptyCode
	}
	tok, ok := s.tokens.Take(code)
	if !ok {
		return "", ErrInvalidCode
	}
	return s.WireGuardConfig(tok.UserID)
}

// WireGuardConfig asegura el perfil del usuario y renderiza su .conf.
func (s *CredentialService) WireGuardConfig(userID int64) (string, error) {
	if !s.subscriptions.IsActive(userID) {
		return "", ErrSubscriptionInactive
	}
	if _, err := s.provisioning.EnsureProfile(userID); err != nil {
		return "", err
	}
	rec, _ := s.store.Get(userID)
	out, err := s.renderer.WireGuard(userID, rec)
	if err != nil {
		s.logger.Error("render wireguard config failed", zap.Int64("user_id", userID), zap.Error(err))
		return "", err
	}
	return out, nil
}

// OpenVPNConfig renderiza el .ovpn del usuario.
func (s *CredentialService) OpenVPNConfig(userID int64) (string, error) {
	if !s.subscriptions.IsActive(userID) {
		return "", ErrSubscriptionInactive
	}
	rec, _ := s.store.Get(userID)
	out, err := s.renderer.OpenVPN(userID, rec)
	if err != nil {
		s.logger.Error("render openvpn config failed", zap.Int64("user_id", userID), zap.Error(err))
		return "", err
	}
	return out, nil
}

func (s *CredentialService) TelegramLink() string {
	return s.telegramLink
}
