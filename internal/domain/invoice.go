package domain

import "time"

const (
	InvoiceStatusActive  = "active"
	InvoiceStatusPaid    = "paid"
	InvoiceStatusExpired = "expired"
)

// Invoice representa un cobro creado en el proveedor de pagos.
type Invoice struct {
	ID        int64      `json:"invoice_id"`
	UserID    int64      `json:"user_id"`
	Status    string     `json:"status"`
	Amount    string     `json:"amount"`
	Asset     string     `json:"asset"`
	PayURL    string     `json:"pay_url"`
	Payload   string     `json:"payload,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
}

// InvoiceRequest son los datos para crear un cobro en el proveedor.
type InvoiceRequest struct {
	Amount      string
	Asset       string
	Description string
	Payload     string
	ExpiresIn   time.Duration
}
