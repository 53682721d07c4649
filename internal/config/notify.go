package config

import (
	"github.com/agusx1211/baton/internal/notify"
)

// Notifier builds the configured notification fan-out.
func (c *Config) Notifier() notify.Notifier {
	var out notify.Multi
	if c.DesktopNotifications() {
		out = append(out, notify.NewDesktop())
	}
	if p := c.Notify.Pushover; p.UserKey != "" && p.AppToken != "" {
		out = append(out, &notify.Pushover{
			UserKey:  p.UserKey,
			AppToken: p.AppToken,
			Priority: p.Priority,
		})
	}
	if len(out) == 0 {
		return notify.Nop{}
	}
	return out
}
