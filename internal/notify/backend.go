package notify

import (
	"context"
	"fmt"

	"github.com/gen2brain/beeep"
	"github.com/godbus/dbus/v5"
)

// Urgency follows the freedesktop notification urgency levels.
type Urgency byte

const (
	UrgencyLow      Urgency = 0
	UrgencyNormal   Urgency = 1
	UrgencyCritical Urgency = 2
)

// Notification is one desktop message.
type Notification struct {
	Title   string
	Body    string
	Urgency Urgency
	// Persist keeps the notification on screen until it is closed explicitly.
	Persist bool
	// ReplaceID updates an existing notification in place when non-zero.
	ReplaceID uint32
}

// Backend shows and closes desktop notifications.
type Backend interface {
	Notify(ctx context.Context, n Notification) (uint32, error)
	Close(ctx context.Context, id uint32) error
}

const (
	dbusDest      = "org.freedesktop.Notifications"
	dbusPath      = dbus.ObjectPath("/org/freedesktop/Notifications")
	dbusNotify    = dbusDest + ".Notify"
	dbusCloseCall = dbusDest + ".CloseNotification"
)

// DBus talks to the freedesktop notification daemon on the session bus.
type DBus struct {
	appName string
	connect func() (*dbus.Conn, error)
}

func NewDBus(appName string) *DBus {
	return &DBus{appName: appName, connect: func() (*dbus.Conn, error) { return dbus.ConnectSessionBus() }}
}

func (d *DBus) Notify(ctx context.Context, n Notification) (uint32, error) {
	var id uint32
	err := d.call(ctx, func(obj dbus.BusObject) error {
		expire := int32(-1)
		if n.Persist {
			expire = 0
		}
		hints := map[string]dbus.Variant{"urgency": dbus.MakeVariant(byte(n.Urgency))}
		return obj.CallWithContext(ctx, dbusNotify, 0,
			d.appName, n.ReplaceID, "", n.Title, n.Body, []string{}, hints, expire,
		).Store(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("dbus notify: %w", err)
	}
	return id, nil
}

func (d *DBus) Close(ctx context.Context, id uint32) error {
	if id == 0 {
		return nil
	}
	err := d.call(ctx, func(obj dbus.BusObject) error {
		return obj.CallWithContext(ctx, dbusCloseCall, 0, id).Err
	})
	if err != nil {
		return fmt.Errorf("dbus close notification %d: %w", id, err)
	}
	return nil
}

// Ping verifies that a notification daemon owns the well-known name.
func (d *DBus) Ping(ctx context.Context) error {
	return d.call(ctx, func(obj dbus.BusObject) error {
		var name, vendor, version, specVersion string
		return obj.CallWithContext(ctx, dbusDest+".GetServerInformation", 0).Store(&name, &vendor, &version, &specVersion)
	})
}

func (d *DBus) call(ctx context.Context, fn func(dbus.BusObject) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := d.connect()
	if err != nil {
		return fmt.Errorf("connect session bus: %w", err)
	}
	defer conn.Close()
	return fn(conn.Object(dbusDest, dbusPath))
}

// Beeep shows notifications through gen2brain/beeep. It cannot replace or
// close notifications, so handles are always zero.
type Beeep struct {
	notify func(title, body string) error
}

func NewBeeep() *Beeep {
	return &Beeep{notify: func(title, body string) error { return beeep.Notify(title, body, "") }}
}

func (b *Beeep) Notify(ctx context.Context, n Notification) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := b.notify(n.Title, n.Body); err != nil {
		return 0, fmt.Errorf("beeep notify: %w", err)
	}
	return 0, nil
}

func (b *Beeep) Close(context.Context, uint32) error { return nil }

// Discard drops every notification. It backs notifications.enabled=false.
type Discard struct{}

func (Discard) Notify(context.Context, Notification) (uint32, error) { return 0, nil }
func (Discard) Close(context.Context, uint32) error                  { return nil }
