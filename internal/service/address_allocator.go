package service

import (
	"errors"
	"fmt"

	"vpn-bot/internal/domain"
)

// ErrPoolExhausted indica que no queda ningun host libre en el pool.
var ErrPoolExhausted = errors.New("address pool exhausted")

// AddressPool describe el rango prefix.host/cidr con host en [StartHost, 255).
type AddressPool struct {
	Prefix    string
	CIDR      int
	StartHost int
}

// Allocate devuelve la primera direccion del pool que no este en existing.
func (p AddressPool) Allocate(existing map[string]struct{}) (string, error) {
	return AllocateAddress(existing, p.Prefix, p.CIDR, p.StartHost)
}

// AllocateAddress recorre los hosts en orden y devuelve el primer candidato libre.
// El pool tiene como mucho 253 hosts.
func AllocateAddress(existing map[string]struct{}, prefix string, cidr, startHost int) (string, error) {
	for host := startHost; host < 255; host++ {
		candidate := fmt.Sprintf("%s.%d/%d", prefix, host, cidr)
		if _, used := existing[candidate]; !used {
			return candidate, nil
		}
	}
	return "", ErrPoolExhausted
}

func assignedAddresses(users map[int64]domain.UserRecord) map[string]struct{} {
	out := make(map[string]struct{}, len(users))
	for _, u := range users {
		if u.Profile != nil && u.Profile.Address != "" {
			out[u.Profile.Address] = struct{}{}
		}
	}
	return out
}
