// Package metrics registra los contadores Prometheus del servicio.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubscriptionsActivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vpnbot_subscriptions_activated_total",
			Help: "Total number of subscription activations",
		},
	)

	SubscriptionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vpnbot_subscriptions_expired_total",
			Help: "Total number of subscriptions flipped to expired by the sweep",
		},
	)

	ProfilesProvisioned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vpnbot_profiles_provisioned_total",
			Help: "Total number of WireGuard profiles allocated",
		},
	)

	AddressPoolExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vpnbot_address_pool_exhausted_total",
			Help: "Provisioning attempts that found no free address",
		},
	)

	// LoginCodes cuenta operaciones sobre codigos de acceso por op y resultado.
	LoginCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpnbot_login_codes_total",
			Help: "Login code operations by operation and result",
		},
		[]string{"op", "result"}, // issue|peek|take, ok|miss
	)

	Invoices = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpnbot_invoices_total",
			Help: "Invoice operations by outcome",
		},
		[]string{"outcome"},
	)

	CommandsThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vpnbot_commands_throttled_total",
			Help: "Chat commands rejected by the per-user cooldown",
		},
	)
)
