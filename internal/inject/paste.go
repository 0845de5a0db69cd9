package inject

import (
	"context"
	"runtime"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"

	"github.com/polyvoice/polyvoice/internal/config"
)

type pasteInjector struct {
	cfg config.InjectConfig
}

// New creates a new text injector
func New(cfg config.InjectConfig) Injector {
	return &pasteInjector{
		cfg: cfg,
	}
}

// Paste puts the text on the clipboard, sends the platform paste chord, and
// restores the previous clipboard contents.
func (p *pasteInjector) Paste(ctx context.Context, text string) error {
	orig, _ := clipboard.ReadAll()
	if err := clipboard.WriteAll(text); err != nil {
		return err
	}
	// Give the clipboard owner a beat before the chord fires.
	time.Sleep(80 * time.Millisecond)

	if err := sendPasteChord(); err != nil {
		return err
	}

	time.Sleep(120 * time.Millisecond)
	_ = clipboard.WriteAll(orig)
	return nil
}

func sendPasteChord() error {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return err
	}
	if runtime.GOOS == "darwin" {
		kb.HasSuper(true)
	} else {
		kb.HasCTRL(true)
	}
	kb.SetKeys(keybd_event.VK_V)
	return kb.Launching()
}

// Type injects text one keystroke at a time; only the clipboard-less subset
// of characters keybd_event can express is supported, so Paste is preferred.
func (p *pasteInjector) Type(ctx context.Context, text string) error {
	// Fall back to the clipboard path without the restore step: typing
	// arbitrary unicode via virtual keycodes is not portable.
	if err := clipboard.WriteAll(text); err != nil {
		return err
	}
	time.Sleep(80 * time.Millisecond)
	return sendPasteChord()
}

// PasteOrType tries paste first, falls back to type if needed
func (p *pasteInjector) PasteOrType(ctx context.Context, text string) error {
	if p.cfg.PreferPaste {
		if err := p.Paste(ctx, text); err == nil {
			return nil
		}
	}
	return p.Type(ctx, text)
}
