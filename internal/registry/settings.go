package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"feed_relay/internal/model"
	"feed_relay/internal/storage"
)

// Setting names as stored in the settings table.
const (
	SettingNitter       = "nitter_instance"
	SettingDeepLKey     = "deepl_auth_key"
	SettingPiped        = "piped_instance"
	SettingTeddit       = "teddit_instance"
	SettingDelay        = "delay_minutes"
	SettingMaxAge       = "max_age_hours"
	SettingSendErrors   = "send_errors"
	SettingErrorHookURL = "error_webhook_url"
)

// LoadSettings reads the process-wide settings. Settings that were never
// stored are written with their defaults.
func (r *Registry) LoadSettings(ctx context.Context) (model.AppSettings, error) {
	var out model.AppSettings
	err := r.store.RunInTx(ctx, func(tx storage.Storage) error {
		s, err := r.loadSettings(ctx, tx)
		out = s
		return err
	})
	if err != nil {
		return model.AppSettings{}, err
	}
	return out, nil
}

func (r *Registry) loadSettings(ctx context.Context, s storage.Storage) (model.AppSettings, error) {
	defaults := model.DefaultSettings()
	values := encodeSettings(defaults)
	for name, def := range values {
		v, err := s.GetSetting(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			if err := s.SetSetting(ctx, name, def); err != nil {
				return model.AppSettings{}, fmt.Errorf("store default setting: %w", err)
			}
			continue
		}
		if err != nil {
			return model.AppSettings{}, fmt.Errorf("load settings: %w", err)
		}
		values[name] = v
	}
	return r.decodeSettings(values, defaults).Normalize(), nil
}

// SaveSettings stores the settings. When the Nitter instance changes, every
// feed on the old instance and every group's feed list move to the new one.
func (r *Registry) SaveSettings(ctx context.Context, settings model.AppSettings) error {
	settings = settings.Normalize()
	var moved int
	err := r.store.RunInTx(ctx, func(tx storage.Storage) error {
		old, err := r.loadSettings(ctx, tx)
		if err != nil {
			return err
		}
		for name, v := range encodeSettings(settings) {
			if err := tx.SetSetting(ctx, name, v); err != nil {
				return fmt.Errorf("save settings: %w", err)
			}
		}
		if old.NitterInstance == settings.NitterInstance || old.NitterInstance == "" {
			return nil
		}
		moved, err = moveInstance(ctx, tx, old.NitterInstance, settings.NitterInstance)
		return err
	})
	if err != nil {
		return err
	}
	if moved > 0 {
		r.logger.Info("feeds moved to new nitter instance", "instance", settings.NitterInstance, "feeds", moved)
	}
	return nil
}

func moveInstance(ctx context.Context, s storage.Storage, from, to string) (int, error) {
	feeds, err := s.ListFeeds(ctx)
	if err != nil {
		return 0, fmt.Errorf("list feeds: %w", err)
	}
	moved := 0
	for _, f := range feeds {
		if !strings.HasPrefix(f.URL, from+"/") {
			continue
		}
		if err := s.RenameFeed(ctx, f.URL, to+strings.TrimPrefix(f.URL, from)); err != nil {
			return 0, fmt.Errorf("move feed %s: %w", f.URL, err)
		}
		moved++
	}

	groups, err := s.ListGroups(ctx)
	if err != nil {
		return 0, fmt.Errorf("list groups: %w", err)
	}
	for i := range groups {
		g := &groups[i]
		changed := false
		for j, u := range g.Feeds {
			if strings.HasPrefix(u, from+"/") {
				g.Feeds[j] = to + strings.TrimPrefix(u, from)
				changed = true
			}
		}
		if !changed {
			continue
		}
		if err := s.SaveGroup(ctx, g); err != nil {
			return 0, fmt.Errorf("save group %s: %w", g.Name, err)
		}
	}
	return moved, nil
}

func encodeSettings(s model.AppSettings) map[string]string {
	return map[string]string{
		SettingNitter:       s.NitterInstance,
		SettingDeepLKey:     s.DeepLAuthKey,
		SettingPiped:        s.PipedInstance,
		SettingTeddit:       s.TedditInstance,
		SettingDelay:        strconv.Itoa(s.DelayMinutes),
		SettingMaxAge:       strconv.Itoa(s.MaxAgeHours),
		SettingSendErrors:   strconv.FormatBool(s.SendErrors),
		SettingErrorHookURL: s.ErrorWebhookURL,
	}
}

func (r *Registry) decodeSettings(values map[string]string, defaults model.AppSettings) model.AppSettings {
	s := model.AppSettings{
		NitterInstance:  values[SettingNitter],
		DeepLAuthKey:    values[SettingDeepLKey],
		PipedInstance:   values[SettingPiped],
		TedditInstance:  values[SettingTeddit],
		ErrorWebhookURL: values[SettingErrorHookURL],
		DelayMinutes:    defaults.DelayMinutes,
		MaxAgeHours:     defaults.MaxAgeHours,
	}
	if n, err := strconv.Atoi(values[SettingDelay]); err == nil {
		s.DelayMinutes = n
	} else {
		r.logger.Warn("invalid stored setting, using default", "setting", SettingDelay, "value", values[SettingDelay])
	}
	if n, err := strconv.Atoi(values[SettingMaxAge]); err == nil {
		s.MaxAgeHours = n
	} else {
		r.logger.Warn("invalid stored setting, using default", "setting", SettingMaxAge, "value", values[SettingMaxAge])
	}
	if b, err := strconv.ParseBool(values[SettingSendErrors]); err == nil {
		s.SendErrors = b
	}
	return s
}

// ParseSetting applies one name=value pair typed by an operator to s.
func ParseSetting(s *model.AppSettings, name, value string) error {
	value = strings.TrimSpace(value)
	switch name {
	case SettingNitter:
		s.NitterInstance = value
	case SettingDeepLKey:
		s.DeepLAuthKey = value
	case SettingPiped:
		s.PipedInstance = value
	case SettingTeddit:
		s.TedditInstance = value
	case SettingErrorHookURL:
		s.ErrorWebhookURL = value
	case SettingDelay, SettingMaxAge:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%s must be a non-negative integer, got %q", name, value)
		}
		if name == SettingDelay {
			s.DelayMinutes = n
		} else {
			s.MaxAgeHours = n
		}
	case SettingSendErrors:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s must be true or false, got %q", name, value)
		}
		s.SendErrors = b
	default:
		return fmt.Errorf("unknown setting %q", name)
	}
	return nil
}

// SettingNames lists the names accepted by ParseSetting.
func SettingNames() []string {
	return []string{
		SettingNitter, SettingDeepLKey, SettingPiped, SettingTeddit,
		SettingDelay, SettingMaxAge, SettingSendErrors, SettingErrorHookURL,
	}
}

// SettingValue returns the stored text form of one setting.
func SettingValue(s model.AppSettings, name string) string {
	return encodeSettings(s)[name]
}
