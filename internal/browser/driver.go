package browser

import "context"

// WindowHandle identifies a tab in the remote browser.
type WindowHandle string

// Driver is the remote browser control capability used by the playback session.
// Page operations apply to the current window.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	// Click clicks the first element matching selector, or returns ErrElementNotFound.
	Click(ctx context.Context, selector string) error
	// Evaluate runs a JavaScript expression and decodes its result into out.
	Evaluate(ctx context.Context, script string, out any) error
	NewTab(ctx context.Context) (WindowHandle, error)
	CloseTab(ctx context.Context, handle WindowHandle) error
	SwitchTo(ctx context.Context, handle WindowHandle) error
	CurrentWindow(ctx context.Context) (WindowHandle, error)
	// SendKeys delivers host-level keystrokes, reaching UI that is not part of the page.
	SendKeys(ctx context.Context, keys ...string) error
	// DebugURL returns the devtools websocket for a tab, if the endpoint exposes one.
	DebugURL(handle WindowHandle) string
	Close() error
}

// Keyboard sends synthetic keystrokes to the display the browser renders on.
type Keyboard interface {
	Press(ctx context.Context, keys ...string) error
}
