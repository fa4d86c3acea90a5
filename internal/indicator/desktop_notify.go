package indicator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/gen2brain/beeep"
)

const (
	notificationsDest  = "org.freedesktop.Notifications"
	notificationsPath  = "/org/freedesktop/Notifications"
	notificationsIface = "org.freedesktop.Notifications"
)

// desktopNotifier sends replaceable freedesktop notifications over DBus via busctl.
type desktopNotifier struct {
	appName string

	mu sync.Mutex
	id uint32
}

// Notify replaces the previous notification when the server assigned one.
func (d *desktopNotifier) Notify(ctx context.Context, text string, timeoutMS int) error {
	d.mu.Lock()
	replaceID := d.id
	d.mu.Unlock()

	out, err := busctl(ctx,
		"Notify",
		"susssasa{sv}i",
		d.appName,
		strconv.FormatUint(uint64(replaceID), 10),
		"",
		text,
		"",
		"0", // actions
		"0", // hints
		strconv.Itoa(timeoutMS),
	)
	if err != nil {
		return fmt.Errorf("desktop notify failed: %w", err)
	}

	id, err := parseNotificationID(out)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.id = id
	d.mu.Unlock()
	return nil
}

// Dismiss closes the current notification when one is showing.
func (d *desktopNotifier) Dismiss(ctx context.Context) error {
	d.mu.Lock()
	id := d.id
	d.id = 0
	d.mu.Unlock()

	if id == 0 {
		return nil
	}
	if _, err := busctl(ctx, "CloseNotification", "u", strconv.FormatUint(uint64(id), 10)); err != nil {
		return fmt.Errorf("desktop dismiss failed: %w", err)
	}
	return nil
}

func busctl(ctx context.Context, method string, args ...string) (string, error) {
	argv := append([]string{"--user", "call", notificationsDest, notificationsPath, notificationsIface, method}, args...)
	out, err := exec.CommandContext(ctx, "busctl", argv...).CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		if trimmed == "" {
			return "", err
		}
		return "", fmt.Errorf("%w (%s)", err, trimmed)
	}
	return trimmed, nil
}

// parseNotificationID reads busctl's "u <id>" reply.
func parseNotificationID(out string) (uint32, error) {
	fields := strings.Fields(out)
	if len(fields) < 2 || fields[0] != "u" {
		return 0, fmt.Errorf("desktop notify invalid response: %q", out)
	}
	value, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("desktop notify parse id %q: %w", fields[1], err)
	}
	return uint32(value), nil
}

// beeepNotifier uses the platform notifier beeep selects. Notifications cannot be
// replaced or dismissed, so every call raises a new one.
type beeepNotifier struct {
	appName string
}

func (b beeepNotifier) Notify(_ context.Context, text string, _ int) error {
	return beeep.Notify(b.appName, text, "")
}

func (beeepNotifier) Dismiss(context.Context) error { return nil }
