// Package render arma los archivos de configuracion a partir de plantillas
// con marcadores {{KEY}}.
package render

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"vpn-bot/internal/domain"
)

const (
	WireGuardTemplate = "default_wg.conf"
	OpenVPNTemplate   = "default.ovpn"
)

var ErrTemplateMissing = errors.New("template missing")

// Params son los datos del lado servidor que se inyectan en las plantillas.
type Params struct {
	ServerHost        string
	ServerPort        int
	WGEndpointHost    string
	WGEndpointPort    int
	WGAllowedIPs      string
	WGDNS             string
	WGServerPublicKey string
}

// Renderer mantiene las plantillas en memoria y las recarga al cambiar en disco.
type Renderer struct {
	logger    *zap.Logger
	dir       string
	params    Params
	mu        sync.RWMutex
	templates map[string]string
}

func NewRenderer(logger *zap.Logger, dir string, params Params) (*Renderer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Renderer{
		logger:    logger,
		dir:       dir,
		params:    params,
		templates: make(map[string]string),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload vuelve a leer las plantillas. Una plantilla ausente no es error aqui;
// se informa al renderizar.
func (r *Renderer) Reload() error {
	loaded := make(map[string]string, 2)
	for _, name := range []string{WireGuardTemplate, OpenVPNTemplate} {
		data, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				r.logger.Warn("template not found", zap.String("dir", r.dir), zap.String("template", name))
				continue
			}
			return fmt.Errorf("read template %s: %w", name, err)
		}
		loaded[name] = string(data)
	}
	r.mu.Lock()
	r.templates = loaded
	r.mu.Unlock()
	return nil
}

// WireGuard renderiza el .conf del usuario.
func (r *Renderer) WireGuard(userID int64, rec domain.UserRecord) (string, error) {
	priv, addr := "<MISSING_PRIV>", "<MISSING_ADDR>"
	if rec.Profile != nil {
		if rec.Profile.PrivateKey != "" {
			priv = rec.Profile.PrivateKey
		}
		if rec.Profile.Address != "" {
			addr = rec.Profile.Address
		}
	}
	return r.render(WireGuardTemplate, map[string]string{
		"USER_ID":              strconv.FormatInt(userID, 10),
		"SUB_END":              subEnd(rec),
		"WG_ENDPOINT_HOST":     r.params.WGEndpointHost,
		"WG_ENDPOINT_PORT":     strconv.Itoa(r.params.WGEndpointPort),
		"WG_ALLOWED_IPS":       r.params.WGAllowedIPs,
		"WG_DNS":               r.params.WGDNS,
		"WG_SERVER_PUBLIC_KEY": r.params.WGServerPublicKey,
		"CLIENT_PRIVATE_KEY":   priv,
		"CLIENT_ADDRESS":       addr,
	})
}

// OpenVPN renderiza el .ovpn del usuario.
func (r *Renderer) OpenVPN(userID int64, rec domain.UserRecord) (string, error) {
	return r.render(OpenVPNTemplate, map[string]string{
		"SERVER_HOST": r.params.ServerHost,
		"SERVER_PORT": strconv.Itoa(r.params.ServerPort),
		"USER_ID":     strconv.FormatInt(userID, 10),
		"SUB_END":     subEnd(rec),
	})
}

func (r *Renderer) render(name string, values map[string]string) (string, error) {
	r.mu.RLock()
	tpl, ok := r.templates[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTemplateMissing, name)
	}
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl), nil
}

// Watch recarga las plantillas cuando cambian en disco. Bloquea hasta que ctx se cancela.
func (r *Renderer) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		return fmt.Errorf("watch %s: %w", r.dir, err)
	}
	r.logger.Info("watching templates", zap.String("dir", r.dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isTemplate(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// Los editores suelen escribir en varios pasos.
			time.Sleep(50 * time.Millisecond)
			if err := r.Reload(); err != nil {
				r.logger.Error("reload templates failed", zap.Error(err))
				continue
			}
			r.logger.Info("templates reloaded", zap.String("trigger", filepath.Base(event.Name)))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("template watcher error", zap.Error(err))
		}
	}
}

func isTemplate(path string) bool {
	base := filepath.Base(path)
	return base == WireGuardTemplate || base == OpenVPNTemplate
}

func subEnd(rec domain.UserRecord) string {
	if rec.SubscriptionEnd == nil {
		return ""
	}
	return rec.SubscriptionEnd.UTC().Format(time.RFC3339)
}
