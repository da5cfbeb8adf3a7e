package telegram

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"vpn-bot/internal/domain"
	"vpn-bot/internal/render"
	"vpn-bot/internal/repository"
	"vpn-bot/internal/service"
)

const ownerID = 1

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeSender) lastText() string {
	texts := f.texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func (f *fakeSender) documents() []tgbotapi.DocumentConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.DocumentConfig
	for _, c := range f.sent {
		if d, ok := c.(tgbotapi.DocumentConfig); ok {
			out = append(out, d)
		}
	}
	return out
}

type fakeProvider struct {
	invoice domain.Invoice
}

func (p *fakeProvider) CreateInvoice(_ context.Context, req domain.InvoiceRequest) (domain.Invoice, error) {
	inv := p.invoice
	inv.Payload = req.Payload
	return inv, nil
}

func (p *fakeProvider) GetInvoice(_ context.Context, _ int64) (domain.Invoice, error) {
	return p.invoice, nil
}

type botFixture struct {
	store    *repository.UserStore
	sender   *fakeSender
	provider *fakeProvider
	subs     *service.SubscriptionService
	bot      *Bot
}

func newBotFixture(t *testing.T, cfg Config, limiter service.CommandLimiter) *botFixture {
	t.Helper()
	dir := t.TempDir()
	store, err := repository.OpenUserStore(filepath.Join(dir, "users.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	tplDir := filepath.Join(dir, "tpl")
	if err := os.MkdirAll(tplDir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tplDir, render.WireGuardTemplate), []byte("Address = {{CLIENT_ADDRESS}}\n"), 0o600); err != nil {
		t.Fatalf("write template: %v", err)
	}
	renderer, err := render.NewRenderer(zap.NewNop(), tplDir, render.Params{})
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}

	logger := zap.NewNop()
	pool := service.AddressPool{Prefix: "10.66.0", CIDR: 32, StartHost: 2}
	subs := service.NewSubscriptionService(logger, store)
	prov := service.NewProvisioningService(logger, store, pool, nil)
	tokens := service.NewLoginTokenBroker(10 * time.Minute)
	creds := service.NewCredentialService(logger, store, tokens, subs, prov, renderer, "https://t.me/thatvpn_bot")
	provider := &fakeProvider{}
	payments := service.NewPaymentService(logger, provider, nil, subs, prov, service.PaymentConfig{Price: 5, Asset: "USDT", Days: 7})
	sweeper := service.NewExpirySweeper(logger, subs, nil, 0, time.Hour)
	sender := &fakeSender{}

	bot := NewBot(logger, sender, creds, subs, payments, sweeper, limiter, cfg)
	sweeper.SetNotifier(bot)
	return &botFixture{store: store, sender: sender, provider: provider, subs: subs, bot: bot}
}

func command(userID int64, text string) tgbotapi.Update {
	cmd := strings.SplitN(text, " ", 2)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: text,
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len(cmd)},
		},
	}}
}

func (f *botFixture) send(userID int64, text string) {
	f.bot.HandleUpdate(context.Background(), command(userID, text))
}

func TestBot_StartRegisters(t *testing.T) {
	f := newBotFixture(t, Config{}, nil)
	f.send(42, "/start")
	if _, ok := f.store.Get(42); !ok {
		t.Fatalf("expected user registered")
	}
	if !strings.Contains(f.sender.lastText(), "/buy") {
		t.Fatalf("unexpected greeting %q", f.sender.lastText())
	}
}

func TestBot_IgnoresPlainText(t *testing.T) {
	f := newBotFixture(t, Config{}, nil)
	f.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 1},
		Chat: &tgbotapi.Chat{ID: 1},
		Text: "hello",
	}})
	f.bot.HandleUpdate(context.Background(), tgbotapi.Update{})
	if len(f.sender.texts()) != 0 {
		t.Fatalf("expected no replies, got %v", f.sender.texts())
	}
}

func TestBot_UnknownCommand(t *testing.T) {
	f := newBotFixture(t, Config{}, nil)
	f.send(42, "/dev_paid 1")
	if !strings.HasPrefix(f.sender.lastText(), "Unknown command") {
		t.Fatalf("dev commands must not exist without dev mode, got %q", f.sender.lastText())
	}
}

func TestBot_Throttle(t *testing.T) {
	f := newBotFixture(t, Config{}, service.NewCommandLimiter(time.Hour, 1))
	f.send(42, "/help")
	f.send(42, "/help")
	if !strings.Contains(f.sender.lastText(), "Too often") {
		t.Fatalf("expected throttle reply, got %q", f.sender.lastText())
	}
	f.send(43, "/help")
	if !strings.HasPrefix(f.sender.lastText(), "ℹ️ Help") {
		t.Fatalf("other users must not be throttled, got %q", f.sender.lastText())
	}
}

func TestBot_CheckArguments(t *testing.T) {
	f := newBotFixture(t, Config{}, nil)
	f.send(42, "/check")
	if f.sender.lastText() != "Usage: /check <invoice_id>" {
		t.Fatalf("unexpected reply %q", f.sender.lastText())
	}
	f.send(42, "/check abc")
	if !strings.Contains(f.sender.lastText(), "must be a number") {
		t.Fatalf("unexpected reply %q", f.sender.lastText())
	}
}

func TestBot_BuyAndCheckPaid(t *testing.T) {
	f := newBotFixture(t, Config{}, nil)
	f.provider.invoice = domain.Invoice{ID: 555, Status: domain.InvoiceStatusActive, PayURL: "https://pay/555"}

	f.send(42, "/buy")
	reply := f.sender.lastText()
	if !strings.Contains(reply, "https://pay/555") || !strings.Contains(reply, "/check 555") || !strings.Contains(reply, "5 USDT") {
		t.Fatalf("unexpected buy reply %q", reply)
	}

	f.send(42, "/check 555")
	if !strings.Contains(f.sender.lastText(), "not paid yet") {
		t.Fatalf("expected pending reply, got %q", f.sender.lastText())
	}

	f.provider.invoice = domain.Invoice{ID: 555, Status: domain.InvoiceStatusPaid, Payload: "42"}
	f.send(42, "/check 555")
	if !strings.Contains(f.sender.lastText(), "Payment received") {
		t.Fatalf("expected paid reply, got %q", f.sender.lastText())
	}
	rec, _ := f.store.Get(42)
	if !rec.HasProfile() || !f.subs.IsActive(42) {
		t.Fatalf("expected active subscription with profile, got %+v", rec)
	}

	f.send(42, "/check 555")
	if !strings.Contains(f.sender.lastText(), "already active") {
		t.Fatalf("expected already active reply, got %q", f.sender.lastText())
	}
}

func TestBot_CheckForeignInvoice(t *testing.T) {
	f := newBotFixture(t, Config{}, nil)
	f.provider.invoice = domain.Invoice{ID: 9, Status: domain.InvoiceStatusPaid, Payload: "7"}
	f.send(42, "/check 9")
	if !strings.Contains(f.sender.lastText(), "another account") {
		t.Fatalf("unexpected reply %q", f.sender.lastText())
	}
}

func TestBot_AppCodeAndWireGuard(t *testing.T) {
	f := newBotFixture(t, Config{}, nil)
	f.send(42, "/app_code")
	if !strings.Contains(f.sender.lastText(), "No active subscription") {
		t.Fatalf("unexpected reply %q", f.sender.lastText())
	}
	f.send(42, "/vpn_wg")
	if len(f.sender.documents()) != 0 {
		t.Fatalf("inactive user must not get a config")
	}

	if _, err := f.subs.Activate(42, 7); err != nil {
		t.Fatalf("activate: %v", err)
	}
	f.send(42, "/app_code")
	if !strings.Contains(f.sender.lastText(), "App login code") || !strings.Contains(f.sender.lastText(), "Valid for 10 min") {
		t.Fatalf("unexpected reply %q", f.sender.lastText())
	}

	f.send(42, "/vpn_wg")
	docs := f.sender.documents()
	if len(docs) != 1 {
		t.Fatalf("expected one document, got %d", len(docs))
	}
	file, ok := docs[0].File.(tgbotapi.FileBytes)
	if !ok || file.Name != "wg_42.conf" || string(file.Bytes) != "Address = 10.66.0.2/32\n" {
		t.Fatalf("unexpected document %+v", docs[0].File)
	}
}

func TestBot_VPNTemplateMissing(t *testing.T) {
	f := newBotFixture(t, Config{}, nil)
	if _, err := f.subs.Activate(42, 7); err != nil {
		t.Fatalf("activate: %v", err)
	}
	f.send(42, "/vpn")
	if !strings.Contains(f.sender.lastText(), "OpenVPN template is not installed") {
		t.Fatalf("unexpected reply %q", f.sender.lastText())
	}
}

func TestBot_Status(t *testing.T) {
	f := newBotFixture(t, Config{}, nil)
	f.send(5, "/status")
	if !strings.Contains(f.sender.lastText(), "/start") {
		t.Fatalf("unexpected reply %q", f.sender.lastText())
	}

	f.send(5, "/start")
	f.send(5, "/status")
	if !strings.Contains(f.sender.lastText(), "not active") {
		t.Fatalf("unexpected reply %q", f.sender.lastText())
	}

	past := time.Now().UTC().Add(-time.Hour)
	err := f.store.Update(func(users map[int64]domain.UserRecord) (bool, error) {
		users[5] = domain.UserRecord{Subscribed: true, SubscriptionEnd: &past}
		return true, nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.send(5, "/status")
	if !strings.Contains(f.sender.lastText(), "expired") {
		t.Fatalf("unexpected reply %q", f.sender.lastText())
	}

	if _, err := f.subs.Activate(5, 7); err != nil {
		t.Fatalf("activate: %v", err)
	}
	f.send(5, "/status")
	if !strings.Contains(f.sender.lastText(), "Valid until") {
		t.Fatalf("unexpected reply %q", f.sender.lastText())
	}
}

func TestBot_DevCommandsOwnerOnly(t *testing.T) {
	f := newBotFixture(t, Config{DevMode: true, OwnerID: ownerID}, nil)

	f.send(99, "/grant 3")
	if len(f.sender.texts()) != 0 {
		t.Fatalf("non-owner must get no reply, got %v", f.sender.texts())
	}
	if f.subs.IsActive(99) {
		t.Fatalf("non-owner must not be granted")
	}

	f.send(ownerID, "/grant 3")
	if !strings.Contains(f.sender.lastText(), "granted for 3 days") {
		t.Fatalf("unexpected reply %q", f.sender.lastText())
	}
	if !f.subs.IsActive(ownerID) {
		t.Fatalf("expected owner granted")
	}

	f.send(ownerID, "/grant zero")
	if !strings.HasPrefix(f.sender.lastText(), "Usage (dev)") {
		t.Fatalf("unexpected reply %q", f.sender.lastText())
	}

	f.send(ownerID, "/dev_paid 123")
	if !strings.Contains(f.sender.lastText(), "Payment simulated") {
		t.Fatalf("unexpected reply %q", f.sender.lastText())
	}
}

func TestBot_DevCheckSubsNotifies(t *testing.T) {
	f := newBotFixture(t, Config{DevMode: true, OwnerID: ownerID}, nil)
	past := time.Now().UTC().Add(-time.Minute)
	err := f.store.Update(func(users map[int64]domain.UserRecord) (bool, error) {
		users[77] = domain.UserRecord{Subscribed: true, SubscriptionEnd: &past}
		return true, nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	f.send(ownerID, "/dev_checksubs")
	texts := f.sender.texts()
	if len(texts) != 2 {
		t.Fatalf("expected notice and confirmation, got %v", texts)
	}
	if !strings.Contains(texts[0], "subscription has expired") {
		t.Fatalf("unexpected notice %q", texts[0])
	}
	if !strings.Contains(texts[1], "expired: 1") {
		t.Fatalf("unexpected confirmation %q", texts[1])
	}
}
