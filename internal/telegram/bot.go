// Package telegram implementa el front de comandos del bot.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"vpn-bot/internal/metrics"
	"vpn-bot/internal/render"
	"vpn-bot/internal/service"
)

// Sender es la parte del cliente de Telegram que usa el bot para responder.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// UpdateSource entrega los updates por long polling.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Config struct {
	DevMode bool
	OwnerID int64
}

type handlerFunc func(ctx context.Context, msg *tgbotapi.Message)

// Bot atiende los comandos de chat y avisa vencimientos.
type Bot struct {
	logger        *zap.Logger
	sender        Sender
	credentials   *service.CredentialService
	subscriptions *service.SubscriptionService
	payments      *service.PaymentService
	sweeper       *service.ExpirySweeper
	limiter       service.CommandLimiter
	cfg           Config
	handlers      map[string]handlerFunc
	wg            sync.WaitGroup
}

func NewBot(
	logger *zap.Logger,
	sender Sender,
	credentials *service.CredentialService,
	subscriptions *service.SubscriptionService,
	payments *service.PaymentService,
	sweeper *service.ExpirySweeper,
	limiter service.CommandLimiter,
	cfg Config,
) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bot{
		logger:        logger,
		sender:        sender,
		credentials:   credentials,
		subscriptions: subscriptions,
		payments:      payments,
		sweeper:       sweeper,
		limiter:       limiter,
		cfg:           cfg,
	}
	b.handlers = map[string]handlerFunc{
		"start":    b.handleStart,
		"buy":      b.handleBuy,
		"check":    b.handleCheck,
		"status":   b.handleStatus,
		"app_code": b.handleAppCode,
		"vpn":      b.handleVPN,
		"vpn_wg":   b.handleVPNWireGuard,
		"help":     b.handleHelp,
	}
	if cfg.DevMode {
		b.handlers["dev_paid"] = b.ownerOnly(b.handleDevPaid)
		b.handlers["grant"] = b.ownerOnly(b.handleGrant)
		b.handlers["dev_checksubs"] = b.ownerOnly(b.handleDevCheckSubs)
	}
	return b
}

// Run consume updates hasta que ctx se cancela y espera a los handlers en curso.
func (b *Bot) Run(ctx context.Context, source UpdateSource) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := source.GetUpdatesChan(u)
	b.logger.Info("telegram bot polling started")

	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			source.StopReceivingUpdates()
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.HandleUpdate(ctx, upd)
			}()
		}
	}
}

// HandleUpdate despacha un update. Los mensajes que no son comandos se ignoran.
func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || !msg.IsCommand() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("command handler panic",
				zap.String("command", msg.Command()),
				zap.Any("panic", r),
			)
			b.reply(msg, "⚠️ Server error. Please try again in a minute.")
		}
	}()

	handler, ok := b.handlers[msg.Command()]
	if !ok {
		b.reply(msg, "Unknown command. Available: /buy, /check, /vpn, /status")
		return
	}
	if b.throttled(msg) {
		return
	}
	handler(ctx, msg)
}

// NotifyExpired envia el aviso de vencimiento; el chat privado comparte id con el usuario.
func (b *Bot) NotifyExpired(_ context.Context, userID int64) error {
	_, err := b.sender.Send(tgbotapi.NewMessage(userID, "⛔ Your subscription has expired. To renew it use /buy."))
	return err
}

func (b *Bot) throttled(msg *tgbotapi.Message) bool {
	if b.limiter == nil {
		return false
	}
	if b.limiter.Allow(strconv.FormatInt(msg.From.ID, 10)) {
		return false
	}
	metrics.CommandsThrottled.Inc()
	b.reply(msg, "⏳ Too often. Please wait a couple of seconds.")
	return true
}

func (b *Bot) ownerOnly(next handlerFunc) handlerFunc {
	return func(ctx context.Context, msg *tgbotapi.Message) {
		if msg.From.ID != b.cfg.OwnerID {
			return
		}
		next(ctx, msg)
	}
}

func (b *Bot) handleStart(_ context.Context, msg *tgbotapi.Message) {
	if err := b.subscriptions.Register(msg.From.ID); err != nil {
		b.logger.Error("register user failed", zap.Int64("user_id", msg.From.ID), zap.Error(err))
		b.reply(msg, "⚠️ Server error. Please try again in a minute.")
		return
	}
	b.reply(msg, "👋 Hi! I am the VPN access bot.\n\n"+
		"Available commands:\n"+
		"/buy - create an invoice\n"+
		"/check <invoice_id> - check the payment\n"+
		"/status - subscription status\n"+
		"/vpn - get the VPN config\n"+
		"/help - help and commands")
}

func (b *Bot) handleBuy(ctx context.Context, msg *tgbotapi.Message) {
	inv, err := b.payments.CreateInvoice(ctx, msg.From.ID)
	if err != nil {
		b.reply(msg, "❌ Could not create an invoice. Please try again later.")
		return
	}
	price := strconv.FormatFloat(b.payments.Price(), 'f', -1, 64)
	text := fmt.Sprintf("💳 Invoice for %s %s created.\n\n🔗 Pay: %s\n🧾 Invoice ID: %d\n\nAfter paying send:\n/check %d",
		price, b.payments.Asset(), inv.PayURL, inv.ID, inv.ID)
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.DisableWebPagePreview = true
	b.send(out)
}

func (b *Bot) handleCheck(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 1 {
		b.reply(msg, "Usage: /check <invoice_id>")
		return
	}
	invoiceID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || invoiceID <= 0 {
		b.reply(msg, "❗ Invoice ID must be a number. Example: /check 32714801")
		return
	}

	out, err := b.payments.CheckInvoice(ctx, msg.From.ID, invoiceID)
	switch {
	case errors.Is(err, service.ErrInvoiceForeign):
		b.reply(msg, "⛔ This invoice was issued for another account.")
		return
	case errors.Is(err, service.ErrInvoiceConsumed):
		b.reply(msg, "⛔ This invoice has already been used. Create a new one with /buy.")
		return
	case errors.Is(err, service.ErrPaymentProvider):
		b.reply(msg, "❌ Could not check the invoice. Please try again in a minute.")
		return
	case err != nil:
		b.reply(msg, "⚠️ Server error. Please try again in a minute.")
		return
	}

	switch out.Result {
	case service.CheckAlreadyActive:
		b.reply(msg, "✅ Your subscription is already active. Use /vpn to get the config.")
	case service.CheckPaid:
		b.reply(msg, fmt.Sprintf("✅ Payment received! Subscription active until %s.", formatUntil(out.Until)))
		b.replyProfileErr(msg, out.ProfileErr)
	case service.CheckPending:
		b.reply(msg, "🕓 The invoice is not paid yet. If you just paid, wait a minute and send /check again.")
	case service.CheckExpired:
		b.reply(msg, "⌛ The invoice has expired. Create a new one with /buy.")
	default:
		b.reply(msg, "Invoice status: "+out.Status)
	}
}

func (b *Bot) handleStatus(_ context.Context, msg *tgbotapi.Message) {
	st := b.subscriptions.Status(msg.From.ID)
	switch {
	case !st.Known:
		b.reply(msg, "You have not started yet. Send /start")
	case st.End == nil:
		b.reply(msg, "⚠️ Subscription is not active.\nCreate an invoice: /buy\nAfter paying check it: /check <invoice_id>")
	case st.Active:
		b.reply(msg, fmt.Sprintf("✅ Subscription active.\nValid until: %s\n\nTo get the config send /vpn", formatUntil(*st.End)))
	default:
		b.reply(msg, "⛔ Subscription expired.\nCreate a new invoice: /buy")
	}
}

func (b *Bot) handleAppCode(_ context.Context, msg *tgbotapi.Message) {
	code, err := b.credentials.IssueLoginCode(msg.From.ID)
	if errors.Is(err, service.ErrSubscriptionInactive) {
		b.reply(msg, "⛔ No active subscription. Use /buy and /check first.")
		return
	}
	if err != nil {
		b.logger.Error("issue login code failed", zap.Int64("user_id", msg.From.ID), zap.Error(err))
		b.reply(msg, "⚠️ Server error. Please try again in a minute.")
		return
	}
	minutes := int(b.credentials.LoginCodeTTL() / time.Minute)
	b.reply(msg, fmt.Sprintf("🔑 App login code: %s\nValid for %d min.\n\nEnter this code in the app and it will download your config.", code, minutes))
}

func (b *Bot) handleVPN(_ context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	cfg, err := b.credentials.OpenVPNConfig(userID)
	switch {
	case errors.Is(err, service.ErrSubscriptionInactive):
		b.reply(msg, "⛔ You have no active subscription. Create an invoice with /buy.")
		return
	case errors.Is(err, render.ErrTemplateMissing):
		b.reply(msg, "⚠️ The OpenVPN template is not installed. Please contact support.")
		return
	case err != nil:
		b.reply(msg, "⚠️ Could not prepare the config. Please try again later.")
		return
	}
	b.sendDocument(msg, fmt.Sprintf("vpn_%d.ovpn", userID), cfg, "🔐 Your personal VPN config")
}

func (b *Bot) handleVPNWireGuard(_ context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	cfg, err := b.credentials.WireGuardConfig(userID)
	switch {
	case errors.Is(err, service.ErrSubscriptionInactive):
		b.reply(msg, "⛔ No active subscription. Use /buy and /check first.")
		return
	case errors.Is(err, service.ErrPoolExhausted):
		b.reply(msg, "⚠️ No free VPN addresses left. Please contact support.")
		return
	case errors.Is(err, render.ErrTemplateMissing):
		b.reply(msg, "⚠️ The WireGuard template is not installed. Please contact support.")
		return
	case err != nil:
		b.logger.Error("wireguard config failed", zap.Int64("user_id", userID), zap.Error(err))
		b.reply(msg, "⚠️ Could not prepare the WireGuard config. Please try again later.")
		return
	}
	b.sendDocument(msg, fmt.Sprintf("wg_%d.conf", userID), cfg, "🔐 Your personal WireGuard config")
}

func (b *Bot) handleHelp(_ context.Context, msg *tgbotapi.Message) {
	text := "ℹ️ Help\n\n" +
		"/buy - create an invoice\n" +
		"/check <invoice_id> - check the payment (active/paid/expired)\n" +
		"/status - show subscription status\n" +
		"/vpn - get the OpenVPN config (active subscription)\n" +
		"/vpn_wg - get the WireGuard config\n" +
		"/app_code - get a login code for the app"
	if b.cfg.DevMode && msg.From.ID == b.cfg.OwnerID {
		text += "\n\nDEV (owner only):\n" +
			"/dev_paid <invoice_id> - simulate a payment\n" +
			"/grant <days> - grant a subscription for N days\n" +
			"/dev_checksubs - run the expiry check now"
	}
	b.reply(msg, text)
}

func (b *Bot) handleDevPaid(_ context.Context, msg *tgbotapi.Message) {
	if len(strings.Fields(msg.CommandArguments())) != 1 {
		b.reply(msg, "Usage (dev): /dev_paid <invoice_id>")
		return
	}
	out, err := b.payments.Grant(msg.From.ID, b.payments.Days())
	if err != nil {
		b.reply(msg, "⚠️ Server error. Please try again in a minute.")
		return
	}
	b.reply(msg, "✅ (DEV) Payment simulated. Subscription activated.")
	b.replyProfileErr(msg, out.ProfileErr)
}

func (b *Bot) handleGrant(_ context.Context, msg *tgbotapi.Message) {
	days := b.payments.Days()
	if args := strings.Fields(msg.CommandArguments()); len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			b.reply(msg, "Usage (dev): /grant <days>")
			return
		}
		days = n
	}
	out, err := b.payments.Grant(msg.From.ID, days)
	if err != nil {
		b.reply(msg, "⚠️ Server error. Please try again in a minute.")
		return
	}
	b.reply(msg, fmt.Sprintf("🎁 (DEV) Subscription granted for %d days.", days))
	b.replyProfileErr(msg, out.ProfileErr)
}

func (b *Bot) handleDevCheckSubs(ctx context.Context, msg *tgbotapi.Message) {
	n, err := b.sweeper.RunOnce(ctx)
	if err != nil {
		b.reply(msg, "⚠️ Expiry check failed.")
		return
	}
	b.reply(msg, fmt.Sprintf("🔧 (DEV) Expiry check done, expired: %d.", n))
}

func (b *Bot) replyProfileErr(msg *tgbotapi.Message, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, service.ErrPoolExhausted) {
		b.reply(msg, "⚠️ No free VPN addresses left. Your subscription is active; please contact support.")
		return
	}
	b.reply(msg, "⚠️ The VPN profile is not ready yet. Use /vpn_wg later to retry.")
}

func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	b.send(tgbotapi.NewMessage(msg.Chat.ID, text))
}

func (b *Bot) sendDocument(msg *tgbotapi.Message, name, content, caption string) {
	doc := tgbotapi.NewDocument(msg.Chat.ID, tgbotapi.FileBytes{Name: name, Bytes: []byte(content)})
	doc.Caption = caption
	b.send(doc)
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.sender.Send(c); err != nil {
		b.logger.Warn("telegram send failed", zap.Error(err))
	}
}

func formatUntil(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 UTC")
}
