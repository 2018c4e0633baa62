package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// CDPDriver drives a remote Chrome over the DevTools protocol.
type CDPDriver struct {
	endpoint string
	keyboard Keyboard
	logger   *zap.Logger
	onClose  func() error

	allocCancel context.CancelFunc
	root        context.Context

	mu      sync.Mutex
	tabs    map[WindowHandle]tab
	current WindowHandle
	closed  bool
}

// DialCDP connects to the CDP websocket at endpoint and attaches to a fresh tab.
// onClose runs after the connection is torn down, and may be nil.
func DialCDP(ctx context.Context, endpoint string, keyboard Keyboard, logger *zap.Logger, onClose func() error) (*CDPDriver, error) {
	// The browser outlives the dialing request, so its contexts are rooted in Background.
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), endpoint, chromedp.NoModifyURL)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	d := &CDPDriver{
		endpoint:    endpoint,
		keyboard:    keyboard,
		logger:      logger,
		onClose:     onClose,
		allocCancel: allocCancel,
		root:        tabCtx,
		tabs:        make(map[WindowHandle]tab),
	}

	if err := startTab(ctx, tabCtx, tabCancel); err != nil {
		allocCancel()
		return nil, fmt.Errorf("failed to connect to browser at %s: %w", endpoint, err)
	}
	if err := d.runOn(ctx, tabCtx, d.grantMediaPermissions()); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to grant media permissions: %w", err)
	}

	handle := WindowHandle(chromedp.FromContext(tabCtx).Target.TargetID)
	d.tabs[handle] = tab{ctx: tabCtx, cancel: tabCancel}
	d.current = handle

	logger.Info("connected to remote browser", zap.String("endpoint", endpoint), zap.String("window", string(handle)))
	return d, nil
}

func (d *CDPDriver) grantMediaPermissions() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		c := chromedp.FromContext(ctx)
		return cdpbrowser.GrantPermissions([]cdpbrowser.PermissionType{
			cdpbrowser.PermissionTypeAudioCapture,
			cdpbrowser.PermissionTypeVideoCapture,
		}).Do(cdp.WithExecutor(ctx, c.Browser))
	})
}

// startTab performs the first Run on a fresh tab context. chromedp binds the
// browser and target lifetime to the context of that first Run, so it must not
// be a derived context; the caller's ctx can only abort it by cancelling the tab.
func startTab(ctx, tabCtx context.Context, cancel context.CancelFunc) error {
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return err
	}
	return nil
}

// runOn runs actions on a tab context while honouring the caller's cancellation.
// Cancelling a context derived from a tab context does not close the tab.
func (d *CDPDriver) runOn(ctx, tabCtx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(tabCtx)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (d *CDPDriver) currentTab() (tab, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return tab{}, ErrDriverClosed
	}
	t, ok := d.tabs[d.current]
	if !ok {
		return tab{}, fmt.Errorf("%w: %s", ErrUnknownWindow, d.current)
	}
	return t, nil
}

func (d *CDPDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	t, err := d.currentTab()
	if err != nil {
		return err
	}
	return d.runOn(ctx, t.ctx, actions...)
}

func (d *CDPDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, chromedp.Navigate(url))
}

func (d *CDPDriver) Reload(ctx context.Context) error {
	return d.run(ctx, chromedp.Reload())
}

func (d *CDPDriver) Click(ctx context.Context, selector string) error {
	var nodes []*cdp.Node
	if err := d.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		return fmt.Errorf("failed to query %s: %w", selector, err)
	}
	if len(nodes) == 0 {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return d.run(ctx, chromedp.MouseClickNode(nodes[0]))
}

func (d *CDPDriver) Evaluate(ctx context.Context, script string, out any) error {
	return d.run(ctx, chromedp.Evaluate(script, out))
}

func (d *CDPDriver) NewTab(ctx context.Context) (WindowHandle, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return "", ErrDriverClosed
	}

	tabCtx, cancel := chromedp.NewContext(d.root)
	if err := startTab(ctx, tabCtx, cancel); err != nil {
		return "", fmt.Errorf("failed to open tab: %w", err)
	}

	handle := WindowHandle(chromedp.FromContext(tabCtx).Target.TargetID)

	d.mu.Lock()
	d.tabs[handle] = tab{ctx: tabCtx, cancel: cancel}
	d.mu.Unlock()

	return handle, nil
}

func (d *CDPDriver) CloseTab(ctx context.Context, handle WindowHandle) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDriverClosed
	}
	t, ok := d.tabs[handle]
	if ok {
		delete(d.tabs, handle)
	}
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWindow, handle)
	}
	t.cancel()
	return nil
}

func (d *CDPDriver) SwitchTo(ctx context.Context, handle WindowHandle) error {
	d.mu.Lock()
	closed := d.closed
	t, ok := d.tabs[handle]
	d.mu.Unlock()
	if closed {
		return ErrDriverClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWindow, handle)
	}

	activate := chromedp.ActionFunc(func(ctx context.Context) error {
		c := chromedp.FromContext(ctx)
		return target.ActivateTarget(target.ID(handle)).Do(cdp.WithExecutor(ctx, c.Browser))
	})
	if err := d.runOn(ctx, t.ctx, activate); err != nil {
		return fmt.Errorf("failed to activate %s: %w", handle, err)
	}

	d.mu.Lock()
	d.current = handle
	d.mu.Unlock()
	return nil
}

func (d *CDPDriver) CurrentWindow(ctx context.Context) (WindowHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return "", ErrDriverClosed
	}
	return d.current, nil
}

func (d *CDPDriver) SendKeys(ctx context.Context, keys ...string) error {
	if d.keyboard == nil {
		return fmt.Errorf("no keyboard configured for synthetic input")
	}
	return d.keyboard.Press(ctx, keys...)
}

func (d *CDPDriver) DebugURL(handle WindowHandle) string {
	return PageDebugURL(d.endpoint, handle)
}

// Close disconnects from the browser and runs the onClose hook.
func (d *CDPDriver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	tabs := d.tabs
	d.tabs = make(map[WindowHandle]tab)
	d.mu.Unlock()

	for _, t := range tabs {
		t.cancel()
	}
	d.allocCancel()

	if d.onClose != nil {
		return d.onClose()
	}
	return nil
}

// PageDebugURL maps a browser websocket endpoint to the devtools socket of one page.
func PageDebugURL(endpoint string, handle WindowHandle) string {
	if handle == "" {
		return ""
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	u.Path = "/devtools/page/" + string(handle)
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/")
}
