//go:build darwin

package hotkey

/*
#cgo LDFLAGS: -framework Carbon
#include <Carbon/Carbon.h>

// Forward declaration for Go callback
extern void goHotkeyCallback(int pressed);

static UInt32 targetModifierMask = 0;
static int modifierDown = 0;

// Bare modifiers never arrive as hotkey events; they only show up in the
// raw-modifiers-changed stream, so the trigger key is tracked by watching
// its bit in the modifier mask.
static OSStatus modifierHandler(EventHandlerCallRef nextHandler, EventRef theEvent, void* userData) {
    UInt32 modifiers = 0;
    GetEventParameter(theEvent, kEventParamKeyModifiers, typeUInt32, NULL, sizeof(modifiers), NULL, &modifiers);

    int down = (modifiers & targetModifierMask) != 0;
    if (down != modifierDown) {
        modifierDown = down;
        goHotkeyCallback(down);
    }
    return noErr;
}

static int watchModifier(UInt32 mask) {
    targetModifierMask = mask;
    modifierDown = 0;

    EventTypeSpec spec;
    spec.eventClass = kEventClassKeyboard;
    spec.eventKind = kEventRawKeyModifiersChanged;

    EventHandlerUPP handlerUPP = NewEventHandlerUPP(modifierHandler);
    OSStatus status = InstallApplicationEventHandler(handlerUPP, 1, &spec, NULL, NULL);

    return (status == noErr) ? 1 : 0;
}

// Event handler for non-modifier trigger keys (F13)
static OSStatus hotkeyHandler(EventHandlerCallRef nextHandler, EventRef theEvent, void* userData) {
    UInt32 eventKind = GetEventKind(theEvent);
    int pressed = (eventKind == kEventHotKeyPressed) ? 1 : 0;

    goHotkeyCallback(pressed);

    return noErr;
}

static EventHotKeyRef hotKeyRef = NULL;

static int registerHotkey(UInt32 keyCode) {
    EventTypeSpec eventTypes[2];
    eventTypes[0].eventClass = kEventClassKeyboard;
    eventTypes[0].eventKind = kEventHotKeyPressed;
    eventTypes[1].eventClass = kEventClassKeyboard;
    eventTypes[1].eventKind = kEventHotKeyReleased;

    EventHandlerUPP handlerUPP = NewEventHandlerUPP(hotkeyHandler);
    InstallApplicationEventHandler(handlerUPP, 2, eventTypes, NULL, NULL);

    EventHotKeyID hotKeyID;
    hotKeyID.signature = 'pvtk';
    hotKeyID.id = 1;

    OSStatus status = RegisterEventHotKey(keyCode, 0, hotKeyID, GetApplicationEventTarget(), 0, &hotKeyRef);

    return (status == noErr) ? 1 : 0;
}

static void unregisterHotkey() {
    if (hotKeyRef != NULL) {
        UnregisterEventHotKey(hotKeyRef);
        hotKeyRef = NULL;
    }
    targetModifierMask = 0;
}
*/
import "C"

import (
	"fmt"
)

// Carbon modifier masks; Carbon keeps separate bits for the right-hand keys.
const (
	maskCmd          = 0x0100
	maskRightOption  = 0x4000
	maskRightControl = 0x8000
)

const keyCodeF13 = 105

type darwinManager struct {
	callback func(bool)
}

var globalManager *darwinManager

// New creates a new macOS hotkey manager using Carbon
func New() (Manager, error) {
	mgr := &darwinManager{}
	return mgr, nil
}

//export goHotkeyCallback
func goHotkeyCallback(pressed C.int) {
	if globalManager != nil && globalManager.callback != nil {
		globalManager.callback(pressed == 1)
	}
}

func (m *darwinManager) Register(accel string, callback func(pressed bool)) error {
	key, err := ParseAccel(accel)
	if err != nil {
		return err
	}

	m.callback = callback
	globalManager = m

	switch key {
	case KeyRightAlt:
		if C.watchModifier(C.UInt32(maskRightOption)) == 0 {
			return fmt.Errorf("failed to install modifier watch for %q", accel)
		}
	case KeyRightCtrl:
		if C.watchModifier(C.UInt32(maskRightControl)) == 0 {
			return fmt.Errorf("failed to install modifier watch for %q", accel)
		}
	case KeyRightSuper:
		// Carbon has no right-command bit; watch command as a whole.
		if C.watchModifier(C.UInt32(maskCmd)) == 0 {
			return fmt.Errorf("failed to install modifier watch for %q", accel)
		}
	case KeyF13:
		if C.registerHotkey(C.UInt32(keyCodeF13)) == 0 {
			return fmt.Errorf("failed to register hotkey %q", accel)
		}
	}

	return nil
}

func (m *darwinManager) Unregister(accel string) error {
	C.unregisterHotkey()
	m.callback = nil
	return nil
}

func (m *darwinManager) Close() error {
	C.unregisterHotkey()
	globalManager = nil
	return nil
}
