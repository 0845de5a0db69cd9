//go:build linux

package hotkey

/*
#cgo pkg-config: x11
#include <X11/Xlib.h>
#include <X11/keysym.h>
#include <stdlib.h>

Display* displayPtr = NULL;

int openDisplay() {
    if (displayPtr == NULL) {
        displayPtr = XOpenDisplay(NULL);
    }
    return displayPtr != NULL;
}

int grabKeysym(unsigned long keysym) {
    if (!openDisplay()) return 0;

    int keycode = XKeysymToKeycode(displayPtr, keysym);
    if (keycode == 0) return 0;

    Window root = DefaultRootWindow(displayPtr);
    XGrabKey(displayPtr, keycode, AnyModifier, root, False, GrabModeAsync, GrabModeAsync);
    XSelectInput(displayPtr, root, KeyPressMask | KeyReleaseMask);
    XSync(displayPtr, False);

    return keycode;
}

void ungrabKeycode(int keycode) {
    if (displayPtr == NULL) return;
    Window root = DefaultRootWindow(displayPtr);
    XUngrabKey(displayPtr, keycode, AnyModifier, root);
    XSync(displayPtr, False);
}

int checkEvent(int* keycode, int* pressed) {
    if (displayPtr == NULL) return 0;

    XEvent event;
    if (XPending(displayPtr) > 0) {
        XNextEvent(displayPtr, &event);
        if (event.type == KeyPress || event.type == KeyRelease) {
            *keycode = event.xkey.keycode;
            *pressed = (event.type == KeyPress) ? 1 : 0;
            return 1;
        }
    }
    return 0;
}

void closeDisplay() {
    if (displayPtr != NULL) {
        XCloseDisplay(displayPtr);
        displayPtr = NULL;
    }
}
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
)

// x11Keysym maps trigger keys to X keysyms.
func x11Keysym(key Key) C.ulong {
	switch key {
	case KeyRightAlt:
		return 0xffea // XK_Alt_R
	case KeyRightCtrl:
		return 0xffe4 // XK_Control_R
	case KeyRightSuper:
		return 0xffec // XK_Super_R
	case KeyF13:
		return 0xffc8 // XK_F13
	}
	return 0
}

type linuxManager struct {
	mu        sync.Mutex
	callbacks map[int]func(bool)
	byAccel   map[string]int
	down      map[int]bool
	stop      chan struct{}
}

// New creates a new Linux hotkey manager using X11
func New() (Manager, error) {
	mgr := &linuxManager{
		callbacks: make(map[int]func(bool)),
		byAccel:   make(map[string]int),
		down:      make(map[int]bool),
		stop:      make(chan struct{}),
	}

	go mgr.eventLoop()

	return mgr, nil
}

func (m *linuxManager) Register(accel string, callback func(pressed bool)) error {
	key, err := ParseAccel(accel)
	if err != nil {
		return err
	}

	keycode := int(C.grabKeysym(x11Keysym(key)))
	if keycode == 0 {
		return fmt.Errorf("failed to grab key %q", accel)
	}

	m.mu.Lock()
	m.callbacks[keycode] = callback
	m.byAccel[accel] = keycode
	m.mu.Unlock()
	return nil
}

func (m *linuxManager) eventLoop() {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			var keycode, pressed C.int
			for C.checkEvent(&keycode, &pressed) != 0 {
				m.dispatch(int(keycode), pressed == 1)
			}
		}
	}
}

// dispatch forwards a transition, dropping the key-repeat press/release
// bursts X generates while a key is held.
func (m *linuxManager) dispatch(keycode int, pressed bool) {
	m.mu.Lock()
	cb, ok := m.callbacks[keycode]
	if !ok {
		m.mu.Unlock()
		return
	}
	if m.down[keycode] == pressed {
		m.mu.Unlock()
		return
	}
	m.down[keycode] = pressed
	m.mu.Unlock()

	cb(pressed)
}

func (m *linuxManager) Unregister(accel string) error {
	m.mu.Lock()
	keycode, ok := m.byAccel[accel]
	if ok {
		delete(m.byAccel, accel)
		delete(m.callbacks, keycode)
		delete(m.down, keycode)
	}
	m.mu.Unlock()

	if ok {
		C.ungrabKeycode(C.int(keycode))
	}
	return nil
}

func (m *linuxManager) Close() error {
	close(m.stop)
	C.closeDisplay()
	return nil
}
