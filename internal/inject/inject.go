// Package inject delivers finished transcripts to the user: as keystrokes or
// a clipboard paste into the focused application via robotgo, or over BLE to
// a receiver that types them on another machine.
package inject

import (
	"fmt"
	"runtime"

	"github.com/go-vgo/robotgo"
)

// TextInjector delivers text.
type TextInjector interface {
	Inject(text string) error
}

// Injector types or pastes text into the active application.
type Injector struct {
	method string // "type" or "paste"
}

var _ TextInjector = (*Injector)(nil)

// NewInjector creates an Injector. method is "type" (keystroke simulation)
// or "paste" (clipboard).
func NewInjector(method string) *Injector {
	return &Injector{method: method}
}

// Inject sends text using the configured method.
func (inj *Injector) Inject(text string) error {
	if text == "" {
		return nil
	}
	if inj.method == "paste" {
		return paste(text)
	}
	robotgo.Type(text)
	return nil
}

// paste writes text to the clipboard, sends the paste shortcut and restores
// the previous clipboard on a best effort basis.
func paste(text string) error {
	prev, _ := robotgo.ReadAll()
	if err := robotgo.WriteAll(text); err != nil {
		return fmt.Errorf("inject: write to clipboard: %w", err)
	}
	if err := robotgo.KeyTap("v", pasteModifier()); err != nil {
		return fmt.Errorf("inject: paste shortcut: %w", err)
	}
	_ = robotgo.WriteAll(prev)
	return nil
}

func pasteModifier() string {
	if runtime.GOOS == "darwin" {
		return "cmd"
	}
	return "ctrl"
}
