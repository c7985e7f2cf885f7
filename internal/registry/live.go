package registry

import (
	"context"
	"sync"

	"feed_relay/internal/model"
)

// Live holds the settings currently in effect. They change only through
// Reload or Set.
type Live struct {
	reg *Registry

	mu  sync.RWMutex
	cur model.AppSettings
}

// Live loads the stored settings and returns a holder for them.
func (r *Registry) Live(ctx context.Context) (*Live, error) {
	s, err := r.LoadSettings(ctx)
	if err != nil {
		return nil, err
	}
	return &Live{reg: r, cur: s}, nil
}

// Settings returns a copy of the settings in effect.
func (l *Live) Settings() model.AppSettings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

// Reload re-reads the settings from storage.
func (l *Live) Reload(ctx context.Context) error {
	s, err := l.reg.LoadSettings(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.cur = s
	l.mu.Unlock()
	return nil
}

// Set parses and stores one setting and puts it into effect.
func (l *Live) Set(ctx context.Context, name, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.cur
	if err := ParseSetting(&next, name, value); err != nil {
		return err
	}
	if err := l.reg.SaveSettings(ctx, next); err != nil {
		return err
	}
	l.cur = next.Normalize()
	return nil
}
