package tracker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"tsundoku/internal/services"
	"tsundoku/internal/storage"
)

const settingsKey = "settings"

// Settings are the user toggles persisted alongside the library.
type Settings struct {
	Notifications     bool `json:"notifications"`
	AutoStatusCheck   bool `json:"autoStatusCheck"`
	AutoAnnouncements bool `json:"autoAnnouncements"`
}

// DefaultSettings enables everything.
func DefaultSettings() Settings {
	return Settings{Notifications: true, AutoStatusCheck: true, AutoAnnouncements: true}
}

// Values returns the settings keyed by their stored names.
func (s Settings) Values() map[string]bool {
	return map[string]bool{
		"notifications":     s.Notifications,
		"autoStatusCheck":   s.AutoStatusCheck,
		"autoAnnouncements": s.AutoAnnouncements,
	}
}

// SettingNames lists the accepted setting keys in display order.
func SettingNames() []string {
	names := make([]string, 0, 3)
	for name := range DefaultSettings().Values() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Tracker) loadSettings(ctx context.Context) error {
	settings, err := storage.GetOr(ctx, t.store, settingsKey, DefaultSettings())
	if err != nil {
		return services.Wrap(services.ErrStorage, "tracker", "load_settings", "", err)
	}
	t.settingsMu.Lock()
	t.settings = settings
	t.settingsMu.Unlock()
	return nil
}

// Settings returns the current settings.
func (t *Tracker) Settings() Settings {
	t.settingsMu.RLock()
	defer t.settingsMu.RUnlock()
	return t.settings
}

// SetSetting updates one toggle by name. Names match case-insensitively and
// values accept the strconv.ParseBool forms plus on/off.
func (t *Tracker) SetSetting(ctx context.Context, name, value string) (Settings, error) {
	enabled, err := parseToggle(value)
	if err != nil {
		return Settings{}, services.Wrap(services.ErrValidation, "tracker", "set_setting", err.Error(), nil)
	}
	t.settingsMu.Lock()
	defer t.settingsMu.Unlock()
	next := t.settings
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "notifications":
		next.Notifications = enabled
	case "autostatuscheck", "auto_status_check":
		next.AutoStatusCheck = enabled
	case "autoannouncements", "auto_announcements":
		next.AutoAnnouncements = enabled
	default:
		return Settings{}, services.Wrap(services.ErrValidation, "tracker", "set_setting",
			fmt.Sprintf("unknown setting %q (use %s)", name, strings.Join(SettingNames(), ", ")), nil)
	}
	if err := t.saveSettingsLocked(ctx, next); err != nil {
		return Settings{}, err
	}
	return next, nil
}

func (t *Tracker) saveSettingsLocked(ctx context.Context, next Settings) error {
	if err := t.store.Set(ctx, settingsKey, next); err != nil {
		return services.Wrap(services.ErrStorage, "tracker", "save_settings", "", err)
	}
	t.settings = next
	return nil
}

func parseToggle(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	enabled, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("invalid toggle value %q", value)
	}
	return enabled, nil
}
