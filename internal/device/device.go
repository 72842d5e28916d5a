// Package device provides the stable per-install identifier attached to
// every registration and every queued write.
package device

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"skysurvey-agent/internal/store"
)

// Provider returns the device identity, generating and persisting it on
// first use. Generation never blocks on the network: the platform
// identifier comes from the environment or the hostname, with a random
// fallback when neither is usable.
type Provider struct {
	store *store.Store
	now   func() time.Time

	// PlatformID overrides discovery, for tests and for shells that inject
	// the vendor identifier themselves.
	PlatformID string
}

func NewProvider(st *store.Store) *Provider {
	return &Provider{store: st, now: time.Now}
}

// GetOrCreate returns the persisted identifier, creating it on first call.
// The value is stable for the lifetime of the install; it survives logout
// and ClearAll.
func (p *Provider) GetOrCreate() (string, error) {
	id, ok, err := p.store.DeviceID()
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}

	id = p.generate()
	if err := p.store.SetDeviceID(id); err != nil {
		return "", err
	}
	return id, nil
}

func (p *Provider) generate() string {
	platform := p.PlatformID
	if platform == "" {
		platform = os.Getenv("SKYSURVEY_DEVICE_ID")
	}
	if platform == "" {
		if host, err := os.Hostname(); err == nil {
			platform = host
		}
	}

	suffix := uuid.NewString()[:8]
	if platform != "" {
		platform = strings.ToLower(strings.ReplaceAll(platform, " ", "-"))
		return fmt.Sprintf("device-%s-%s", platform, suffix)
	}
	return fmt.Sprintf("device-%d-%s", p.now().UnixMilli(), suffix)
}
