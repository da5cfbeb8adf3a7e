package domain

import (
	"encoding/json"
	"time"
)

// Profile es el perfil de credenciales WireGuard asignado a un usuario.
type Profile struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
	Address    string `json:"address"`
}

// UserRecord guarda el estado de suscripcion y el perfil de un usuario.
// SubscriptionEnd es la unica fuente de verdad para saber si el acceso sigue vigente;
// Subscribed solo evita avisos de expiracion duplicados.
type UserRecord struct {
	Subscribed        bool
	SubscriptionStart *time.Time
	SubscriptionEnd   *time.Time
	Profile           *Profile
}

// IsActive indica si la ventana de acceso cubre el instante now.
func (u UserRecord) IsActive(now time.Time) bool {
	return u.SubscriptionEnd != nil && now.Before(*u.SubscriptionEnd)
}

// HasProfile indica si el usuario ya tiene un perfil completo.
func (u UserRecord) HasProfile() bool {
	p := u.Profile
	return p != nil && p.PrivateKey != "" && p.PublicKey != "" && p.Address != ""
}

// Clone devuelve una copia profunda del registro.
func (u UserRecord) Clone() UserRecord {
	out := UserRecord{Subscribed: u.Subscribed}
	if u.SubscriptionStart != nil {
		t := *u.SubscriptionStart
		out.SubscriptionStart = &t
	}
	if u.SubscriptionEnd != nil {
		t := *u.SubscriptionEnd
		out.SubscriptionEnd = &t
	}
	if u.Profile != nil {
		p := *u.Profile
		out.Profile = &p
	}
	return out
}

// userRecordJSON es la forma persistida: campos planos, null cuando no hay valor.
type userRecordJSON struct {
	Subscribed        bool       `json:"subscribed"`
	SubscriptionStart *time.Time `json:"subscription_start"`
	SubscriptionEnd   *time.Time `json:"subscription_end"`
	WGPrivateKey      *string    `json:"wg_private_key"`
	WGPublicKey       *string    `json:"wg_public_key"`
	WGAddress         *string    `json:"wg_address"`
}

func (u UserRecord) MarshalJSON() ([]byte, error) {
	raw := userRecordJSON{
		Subscribed:        u.Subscribed,
		SubscriptionStart: utcPtr(u.SubscriptionStart),
		SubscriptionEnd:   utcPtr(u.SubscriptionEnd),
	}
	if u.Profile != nil {
		raw.WGPrivateKey = &u.Profile.PrivateKey
		raw.WGPublicKey = &u.Profile.PublicKey
		raw.WGAddress = &u.Profile.Address
	}
	return json.Marshal(raw)
}

func (u *UserRecord) UnmarshalJSON(data []byte) error {
	var raw userRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*u = UserRecord{
		Subscribed:        raw.Subscribed,
		SubscriptionStart: utcPtr(raw.SubscriptionStart),
		SubscriptionEnd:   utcPtr(raw.SubscriptionEnd),
	}
	// Un perfil a medias se descarta; se regenera en el proximo aprovisionamiento.
	if nonEmpty(raw.WGPrivateKey) && nonEmpty(raw.WGPublicKey) && nonEmpty(raw.WGAddress) {
		u.Profile = &Profile{
			PrivateKey: *raw.WGPrivateKey,
			PublicKey:  *raw.WGPublicKey,
			Address:    *raw.WGAddress,
		}
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}
