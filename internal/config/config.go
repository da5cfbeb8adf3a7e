package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort  string `env:"HTTP_PORT" envDefault:"8080"`
	UsersFile string `env:"USERS_FILE" envDefault:"users.json"`

	BotToken      string `env:"BOT_TOKEN,required,notEmpty"`
	TGBotUsername string `env:"TG_BOT_USERNAME" envDefault:"thatvpn_bot"`
	DevMode       bool   `env:"DEV_MODE" envDefault:"false"`
	OwnerID       int64  `env:"OWNER_ID" envDefault:"0"`

	CryptoPayToken   string        `env:"CRYPTOPAY_TOKEN,required,notEmpty"`
	CryptoPayBaseURL string        `env:"CRYPTOPAY_BASE_URL" envDefault:"https://pay.crypt.bot/api"`
	CryptoPayTimeout time.Duration `env:"CRYPTOPAY_TIMEOUT" envDefault:"15s"`
	PriceUSDT        float64       `env:"PRICE_USDT" envDefault:"5"`
	PayAsset         string        `env:"PAY_ASSET" envDefault:"USDT"`
	SubDays          int           `env:"SUB_DAYS" envDefault:"7"`
	InvoiceTTL       time.Duration `env:"INVOICE_TTL" envDefault:"15m"`

	TemplateDir string `env:"TEMPLATE_DIR" envDefault:"vpn_configs"`
	ServerHost  string `env:"SERVER_HOST" envDefault:"127.0.0.1"`
	ServerPort  int    `env:"SERVER_PORT" envDefault:"1194"`

	WGEndpointHost    string `env:"WG_ENDPOINT_HOST" envDefault:"127.0.0.1"`
	WGEndpointPort    int    `env:"WG_ENDPOINT_PORT" envDefault:"51820"`
	WGAllowedIPs      string `env:"WG_ALLOWED_IPS" envDefault:"0.0.0.0/0, ::/0"`
	WGDNS             string `env:"WG_DNS" envDefault:"1.1.1.1"`
	WGServerPublicKey string `env:"WG_SERVER_PUBLIC_KEY"`
	WGAddressPrefix   string `env:"WG_ADDRESS_PREFIX" envDefault:"10.66.0"`
	WGAddressCIDR     int    `env:"WG_ADDRESS_CIDR" envDefault:"32"`
	WGStartHost       int    `env:"WG_START_HOST" envDefault:"2"`

	LoginCodeTTL    time.Duration `env:"LOGIN_CODE_TTL" envDefault:"10m"`
	CommandCooldown time.Duration `env:"COMMAND_COOLDOWN" envDefault:"2s"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
	SweepFirstDelay time.Duration `env:"SWEEP_FIRST_DELAY" envDefault:"60s"`

	RedisAddr      string `env:"REDIS_ADDR"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`
	DatabaseURL    string `env:"DATABASE_URL"`
	AdminJWTSecret string `env:"ADMIN_JWT_SECRET"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rechaza valores que harian fallar el aprovisionamiento mas tarde.
func (c *Config) Validate() error {
	var errs []error
	if c.SubDays <= 0 {
		errs = append(errs, fmt.Errorf("SUB_DAYS must be positive, got %d", c.SubDays))
	}
	if c.PriceUSDT <= 0 {
		errs = append(errs, fmt.Errorf("PRICE_USDT must be positive, got %v", c.PriceUSDT))
	}
	if c.WGStartHost < 1 || c.WGStartHost > 254 {
		errs = append(errs, fmt.Errorf("WG_START_HOST must be in [1,254], got %d", c.WGStartHost))
	}
	if c.WGAddressCIDR < 0 || c.WGAddressCIDR > 32 {
		errs = append(errs, fmt.Errorf("WG_ADDRESS_CIDR must be in [0,32], got %d", c.WGAddressCIDR))
	}
	if strings.Count(strings.TrimSpace(c.WGAddressPrefix), ".") != 2 {
		errs = append(errs, fmt.Errorf("WG_ADDRESS_PREFIX must have three octets, got %q", c.WGAddressPrefix))
	}
	if c.LoginCodeTTL <= 0 {
		errs = append(errs, errors.New("LOGIN_CODE_TTL must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

// TelegramLink devuelve el enlace publico del bot.
func (c *Config) TelegramLink() string {
	username := strings.TrimPrefix(strings.TrimSpace(c.TGBotUsername), "@")
	if username == "" {
		username = "thatvpn_bot"
	}
	return "https://t.me/" + username
}

// ToolConfig es el subconjunto que usa vpnctl; no exige los tokens del bot.
type ToolConfig struct {
	UsersFile       string `env:"USERS_FILE" envDefault:"users.json"`
	SubDays         int    `env:"SUB_DAYS" envDefault:"7"`
	WGAddressPrefix string `env:"WG_ADDRESS_PREFIX" envDefault:"10.66.0"`
	WGAddressCIDR   int    `env:"WG_ADDRESS_CIDR" envDefault:"32"`
	WGStartHost     int    `env:"WG_START_HOST" envDefault:"2"`
	AdminJWTSecret  string `env:"ADMIN_JWT_SECRET"`
}

// LoadToolConfig carga la configuracion de las herramientas de operacion.
func LoadToolConfig() (*ToolConfig, error) {
	var cfg ToolConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
