package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/benbjohnson/clock"
	"github.com/micmonay/keybd_event"
)

// ErrClipboardUnavailable is returned when no clipboard utility is installed.
var ErrClipboardUnavailable = errors.New("no clipboard utility available")

// SystemClipboard writes through xclip, xsel or wl-copy via atotto/clipboard.
type SystemClipboard struct{}

func (SystemClipboard) SetText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if clipboard.Unsupported {
		return ErrClipboardUnavailable
	}
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("clipboard write: %w", err)
	}
	return nil
}

// KeyboardPaster sends Ctrl+V through a virtual keyboard. On Linux the
// uinput device needs a moment before the compositor accepts its events.
type KeyboardPaster struct {
	clock clock.Clock
	delay time.Duration
}

func NewKeyboardPaster(clk clock.Clock, delay time.Duration) *KeyboardPaster {
	if clk == nil {
		clk = clock.New()
	}
	return &KeyboardPaster{clock: clk, delay: delay}
}

func (p *KeyboardPaster) Paste(ctx context.Context) error {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return fmt.Errorf("virtual keyboard: %w", err)
	}
	if p.delay > 0 {
		select {
		case <-p.clock.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	kb.HasCTRL(true)
	kb.SetKeys(keybd_event.VK_V)
	if err := kb.Launching(); err != nil {
		return fmt.Errorf("send ctrl+v: %w", err)
	}
	return nil
}

// CommandPaster runs an external paste helper such as wtype or xdotool.
type CommandPaster struct {
	argv  []string
	clock clock.Clock
	delay time.Duration
}

func NewCommandPaster(argv []string, clk clock.Clock, delay time.Duration) *CommandPaster {
	if clk == nil {
		clk = clock.New()
	}
	return &CommandPaster{argv: append([]string(nil), argv...), clock: clk, delay: delay}
}

func (p *CommandPaster) Paste(ctx context.Context) error {
	if len(p.argv) == 0 || strings.TrimSpace(p.argv[0]) == "" {
		return errors.New("paste command is empty")
	}
	if p.delay > 0 {
		select {
		case <-p.clock.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.argv[0], p.argv[1:]...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return fmt.Errorf("paste command %s: %w: %s", p.argv[0], err, detail)
		}
		return fmt.Errorf("paste command %s: %w", p.argv[0], err)
	}
	return nil
}
