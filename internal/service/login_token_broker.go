package service

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"
	"time"

	"vpn-bot/internal/domain"
	"vpn-bot/internal/metrics"
)

// DefaultLoginCodeTTL es la vida de un codigo de acceso para la app.
const DefaultLoginCodeTTL = 600 * time.Second

const loginCodeAttempts = 16

var errLoginCodeSpace = errors.New("could not draw an unused login code")

// LoginTokenBroker guarda en memoria los codigos de un solo uso para la app.
// Su mutex solo protege el mapa; nunca se mantiene durante I/O.
type LoginTokenBroker struct {
	mu     sync.Mutex
	ttl    time.Duration
	items  map[string]domain.LoginToken
	now    func() time.Time
	random io.Reader
}

func NewLoginTokenBroker(ttl time.Duration) *LoginTokenBroker {
	if ttl <= 0 {
		ttl = DefaultLoginCodeTTL
	}
	return &LoginTokenBroker{
		ttl:    ttl,
		items:  make(map[string]domain.LoginToken),
		now:    time.Now,
		random: rand.Reader,
	}
}

// TTL devuelve la vida configurada de cada codigo.
func (b *LoginTokenBroker) TTL() time.Duration {
	return b.ttl
}

// Issue genera un codigo nuevo de 6 digitos para userID. No invalida otros
// codigos del mismo usuario.
func (b *LoginTokenBroker) Issue(userID int64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now().UTC()
	b.purgeExpiredLocked(now)

	for i := 0; i < loginCodeAttempts; i++ {
		code, err := randomCode(b.random)
		if err != nil {
			return "", err
		}
		if _, taken := b.items[code]; taken {
			continue
		}
		b.items[code] = domain.LoginToken{
			Code:      code,
			UserID:    userID,
			ExpiresAt: now.Add(b.ttl),
		}
		metrics.LoginCodes.WithLabelValues("issue", "ok").Inc()
		return code, nil
	}
	return "", errLoginCodeSpace
}

// Take devuelve y elimina el codigo si sigue vivo. Un codigo vencido tambien se elimina.
func (b *LoginTokenBroker) Take(code string) (domain.LoginToken, bool) {
	code = strings.TrimSpace(code)
	b.mu.Lock()
	defer b.mu.Unlock()

	tok, ok := b.items[code]
	if !ok {
		metrics.LoginCodes.WithLabelValues("take", "miss").Inc()
		return domain.LoginToken{}, false
	}
	delete(b.items, code)
	if tok.Expired(b.now().UTC()) {
		metrics.LoginCodes.WithLabelValues("take", "miss").Inc()
		return domain.LoginToken{}, false
	}
	metrics.LoginCodes.WithLabelValues("take", "ok").Inc()
	return tok, true
}

// Peek hace la misma comprobacion que Take sin consumir el codigo.
func (b *LoginTokenBroker) Peek(code string) (domain.LoginToken, bool) {
	code = strings.TrimSpace(code)
	b.mu.Lock()
	defer b.mu.Unlock()

	tok, ok := b.items[code]
	if !ok {
		metrics.LoginCodes.WithLabelValues("peek", "miss").Inc()
		return domain.LoginToken{}, false
	}
	if tok.Expired(b.now().UTC()) {
		delete(b.items, code)
		metrics.LoginCodes.WithLabelValues("peek", "miss").Inc()
		return domain.LoginToken{}, false
	}
	metrics.LoginCodes.WithLabelValues("peek", "ok").Inc()
	return tok, true
}

// Pending devuelve cuantos codigos hay guardados, vencidos incluidos.
func (b *LoginTokenBroker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *LoginTokenBroker) purgeExpiredLocked(now time.Time) {
	for code, tok := range b.items {
		if tok.Expired(now) {
			delete(b.items, code)
		}
	}
}

func randomCode(r io.Reader) (string, error) {
	n, err := rand.Int(r, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate login code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
