package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"vpn-bot/internal/domain"
	"vpn-bot/internal/metrics"
	"vpn-bot/internal/repository"
)

// PaymentProvider es el proveedor externo de cobros.
type PaymentProvider interface {
	CreateInvoice(ctx context.Context, req domain.InvoiceRequest) (domain.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID int64) (domain.Invoice, error)
}

type CheckResult string

const (
	CheckPaid          CheckResult = "paid"
	CheckAlreadyActive CheckResult = "already_active"
	CheckPending       CheckResult = "pending"
	CheckExpired       CheckResult = "expired"
	CheckUnknown       CheckResult = "unknown"
)

// CheckOutcome describe el resultado de verificar un cobro.
// ProfileErr se informa aparte: la suscripcion queda activa aunque falle el perfil.
type CheckOutcome struct {
	Result     CheckResult
	Status     string
	Until      time.Time
	ProfileErr error
}

var (
	ErrInvoiceForeign  = errors.New("invoice belongs to another user")
	ErrInvoiceConsumed = errors.New("invoice already used")
	ErrPaymentProvider = errors.New("payment provider unavailable")
)

type PaymentConfig struct {
	Price        float64
	Asset        string
	Days         int
	InvoiceTTL   time.Duration
	CheckTimeout time.Duration
}

// PaymentService crea cobros y activa suscripciones cuando el proveedor
// informa que estan pagados.
type PaymentService struct {
	logger        *zap.Logger
	provider      PaymentProvider
	invoices      repository.InvoiceRepository
	subscriptions *SubscriptionService
	provisioning  *ProvisioningService
	cfg           PaymentConfig
	now           func() time.Time
}

func NewPaymentService(
	logger *zap.Logger,
	provider PaymentProvider,
	invoices repository.InvoiceRepository,
	subscriptions *SubscriptionService,
	provisioning *ProvisioningService,
	cfg PaymentConfig,
) *PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if invoices == nil {
		invoices = repository.NewMemoryInvoiceRepository()
	}
	if cfg.Asset == "" {
		cfg.Asset = "USDT"
	}
	if cfg.Days <= 0 {
		cfg.Days = 7
	}
	if cfg.InvoiceTTL <= 0 {
		cfg.InvoiceTTL = 15 * time.Minute
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 15 * time.Second
	}
	return &PaymentService{
		logger:        logger,
		provider:      provider,
		invoices:      invoices,
		subscriptions: subscriptions,
		provisioning:  provisioning,
		cfg:           cfg,
		now:           time.Now,
	}
}

func (s *PaymentService) Price() float64 { return s.cfg.Price }
func (s *PaymentService) Asset() string  { return s.cfg.Asset }
func (s *PaymentService) Days() int      { return s.cfg.Days }

// CreateInvoice emite un cobro atado al usuario mediante el payload.
func (s *PaymentService) CreateInvoice(ctx context.Context, userID int64) (domain.Invoice, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeout)
	defer cancel()

	inv, err := s.provider.CreateInvoice(ctx, domain.InvoiceRequest{
		Amount:      strconv.FormatFloat(s.cfg.Price, 'f', -1, 64),
		Asset:       s.cfg.Asset,
		Description: fmt.Sprintf("VPN subscription for %d days", s.cfg.Days),
		Payload:     strconv.FormatInt(userID, 10),
		ExpiresIn:   s.cfg.InvoiceTTL,
	})
	if err != nil {
		metrics.Invoices.WithLabelValues("create_failed").Inc()
		s.logger.Error("create invoice failed", zap.Int64("user_id", userID), zap.Error(err))
		return domain.Invoice{}, fmt.Errorf("%w: %w", ErrPaymentProvider, err)
	}
	inv.UserID = userID
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = s.now().UTC()
	}
	if err := s.invoices.Create(ctx, inv); err != nil {
		// El cobro ya existe en el proveedor; sin registro local se sigue pudiendo verificar.
		s.logger.Warn("store invoice failed", zap.Int64("invoice_id", inv.ID), zap.Error(err))
	}
	metrics.Invoices.WithLabelValues("created").Inc()
	s.logger.Info("invoice created", zap.Int64("user_id", userID), zap.Int64("invoice_id", inv.ID))
	return inv, nil
}

// CheckInvoice consulta el cobro y activa la suscripcion si esta pagado.
// Con acceso vigente no consulta al proveedor.
func (s *PaymentService) CheckInvoice(ctx context.Context, userID, invoiceID int64) (CheckOutcome, error) {
	if s.subscriptions.IsActive(userID) {
		return CheckOutcome{Result: CheckAlreadyActive}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeout)
	defer cancel()

	inv, err := s.provider.GetInvoice(ctx, invoiceID)
	if err != nil {
		metrics.Invoices.WithLabelValues("provider_error").Inc()
		s.logger.Warn("get invoice failed", zap.Int64("invoice_id", invoiceID), zap.Error(err))
		return CheckOutcome{}, fmt.Errorf("%w: %w", ErrPaymentProvider, err)
	}

	switch inv.Status {
	case domain.InvoiceStatusPaid:
	case domain.InvoiceStatusActive:
		metrics.Invoices.WithLabelValues("pending").Inc()
		return CheckOutcome{Result: CheckPending, Status: inv.Status}, nil
	case domain.InvoiceStatusExpired:
		metrics.Invoices.WithLabelValues("expired").Inc()
		return CheckOutcome{Result: CheckExpired, Status: inv.Status}, nil
	default:
		return CheckOutcome{Result: CheckUnknown, Status: inv.Status}, nil
	}

	if inv.Payload != strconv.FormatInt(userID, 10) {
		metrics.Invoices.WithLabelValues("foreign").Inc()
		s.logger.Warn("invoice payload mismatch",
			zap.Int64("user_id", userID),
			zap.Int64("invoice_id", invoiceID),
		)
		return CheckOutcome{}, ErrInvoiceForeign
	}

	first, err := s.invoices.MarkPaid(ctx, invoiceID, userID, s.now().UTC())
	if err != nil {
		return CheckOutcome{}, fmt.Errorf("mark invoice paid: %w", err)
	}
	if !first {
		metrics.Invoices.WithLabelValues("replayed").Inc()
		return CheckOutcome{}, ErrInvoiceConsumed
	}
	metrics.Invoices.WithLabelValues("paid").Inc()

	out, err := s.Grant(userID, s.cfg.Days)
	if err != nil {
		s.logger.Error("activation failed after payment",
			zap.Int64("user_id", userID),
			zap.Int64("invoice_id", invoiceID),
			zap.Error(err),
		)
		// Sin activacion guardada el cobro vuelve a pendiente para que /check pueda reintentar.
		if uerr := s.invoices.Unmark(context.WithoutCancel(ctx), invoiceID); uerr != nil {
			s.logger.Error("unmark invoice failed", zap.Int64("invoice_id", invoiceID), zap.Error(uerr))
		}
		return CheckOutcome{}, err
	}
	out.Status = inv.Status
	return out, nil
}

// Grant activa la suscripcion y prepara el perfil. Un fallo del perfil no
// revierte la activacion.
func (s *PaymentService) Grant(userID int64, days int) (CheckOutcome, error) {
	until, err := s.subscriptions.Activate(userID, days)
	if err != nil {
		return CheckOutcome{}, err
	}
	out := CheckOutcome{Result: CheckPaid, Until: until}
	if s.provisioning != nil {
		if _, err := s.provisioning.EnsureProfile(userID); err != nil {
			s.logger.Error("profile provisioning failed on activation",
				zap.Int64("user_id", userID),
				zap.Error(err),
			)
			out.ProfileErr = err
		}
	}
	return out, nil
}
