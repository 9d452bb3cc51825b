package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/hazyhaar/html2png/capture"
)

// TabOptions are the per-capture page toggles.
type TabOptions struct {
	// Viewport is the initial outer viewport size. Default: 1024x768.
	Viewport image.Point
	// Stealth overrides the manager's level when set.
	Stealth *StealthLevel

	DisableJS       bool
	DisablePlugins  bool
	DisableImages   bool
	DisableRedirect bool
	KillPopups      bool

	// UserAgent overrides the browser default when set.
	UserAgent string
}

// Tab wraps a Rod page as a capture.Renderer.
type Tab struct {
	page    *rod.Page
	opts    TabOptions
	policy  *policy
	unhook  func() error
	manager *Manager
	closed  bool
}

var (
	_ capture.Renderer       = (*Tab)(nil)
	_ capture.DocumentSource = (*Tab)(nil)
)

// OpenTab creates a blank page configured per opts. Navigation happens
// through Load.
func OpenTab(ctx context.Context, mgr *Manager, opts TabOptions) (*Tab, error) {
	b, err := mgr.acquire()
	if err != nil {
		return nil, err
	}
	if opts.Viewport.X <= 0 || opts.Viewport.Y <= 0 {
		opts.Viewport = image.Pt(1024, 768)
	}
	level := mgr.cfg.Stealth
	if opts.Stealth != nil {
		level = *opts.Stealth
	}

	var page *rod.Page
	if level >= LevelHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		mgr.release()
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{page: page, opts: opts, manager: mgr}
	if err := t.setup(ctx); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tab) setup(ctx context.Context) error {
	log := t.manager.cfg.Logger
	p := t.page.Context(ctx)

	if err := p.SetViewport(deviceMetrics(t.opts.Viewport)); err != nil {
		return fmt.Errorf("browser: set viewport: %w", err)
	}
	if t.opts.UserAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: t.opts.UserAgent}); err != nil {
			return fmt.Errorf("browser: user agent: %w", err)
		}
	}
	if t.opts.DisableJS {
		if err := (proto.EmulationSetScriptExecutionDisabled{Value: true}).Call(p); err != nil {
			return fmt.Errorf("browser: disable javascript: %w", err)
		}
	}
	if t.opts.DisablePlugins {
		if _, err := p.EvalOnNewDocument(removePluginsJS); err != nil {
			log.Warn("browser: plugin removal script failed", "error", err)
		}
	}
	if t.opts.KillPopups {
		if _, err := p.EvalOnNewDocument(noPopupsJS); err != nil {
			log.Warn("browser: popup blocker script failed", "error", err)
		}
		go p.EachEvent(func(e *proto.PageJavascriptDialogOpening) {
			log.Debug("browser: dismissing dialog", "type", e.Type, "message", e.Message)
			_ = proto.PageHandleJavaScriptDialog{Accept: false}.Call(p)
		})()
	}

	t.policy = newPolicy(t.opts)
	if t.policy.active() {
		unhook, err := applyRequestPolicy(t.page, t.policy, log)
		if err != nil {
			return err
		}
		t.unhook = unhook
	}
	return nil
}

func deviceMetrics(size image.Point) *proto.EmulationSetDeviceMetricsOverride {
	return &proto.EmulationSetDeviceMetricsOverride{
		Width:             size.X,
		Height:            size.Y,
		DeviceScaleFactor: 1,
	}
}

// Load starts navigation to uri without waiting for the load event.
func (t *Tab) Load(ctx context.Context, uri string) error {
	if t.policy != nil {
		t.policy.reset()
	}
	if err := t.page.Context(ctx).Navigate(uri); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", uri, err)
	}
	return nil
}

// Loaded reports document.readyState == "complete". A page in the middle
// of a navigation has no execution context and reports false.
func (t *Tab) Loaded(ctx context.Context) (bool, error) {
	res, err := t.page.Context(ctx).Eval(`() => document.readyState === "complete"`)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return res.Value.Bool(), nil
}

// Pump waits for one animation frame, bounded by max.
func (t *Tab) Pump(ctx context.Context, max time.Duration) error {
	if max <= 0 {
		return ctx.Err()
	}
	start := time.Now()
	fctx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	_, err := t.page.Context(fctx).Eval(`() => new Promise(r => requestAnimationFrame(() => r(true)))`)
	if err == nil || ctx.Err() != nil {
		return ctx.Err()
	}
	// No frame (navigation in progress, JavaScript disabled): wait out the slice.
	if rest := max - time.Since(start); rest > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rest):
		}
	}
	return nil
}

const elementRectJS = `(id) => {
	const el = document.getElementById(id) || document.getElementsByName(id)[0];
	if (!el) return null;
	const r = el.getBoundingClientRect();
	return {x: r.left + window.scrollX, y: r.top + window.scrollY, w: r.width, h: r.height};
}`

// ElementRect returns the document-space box of the element with id (or
// name) marker.
func (t *Tab) ElementRect(ctx context.Context, id string) (image.Rectangle, bool, error) {
	res, err := t.page.Context(ctx).Eval(elementRectJS, id)
	if err != nil {
		return image.Rectangle{}, false, fmt.Errorf("browser: element rect: %w", err)
	}
	if res.Value.Nil() {
		return image.Rectangle{}, false, nil
	}
	v := res.Value
	return rectFromBox(v.Get("x").Num(), v.Get("y").Num(), v.Get("w").Num(), v.Get("h").Num()), true, nil
}

// BodyRect returns (0,0,scrollWidth,scrollHeight) of the document.
func (t *Tab) BodyRect(ctx context.Context) (image.Rectangle, error) {
	res, err := t.page.Context(ctx).Eval(`() => {
		const d = document.documentElement, b = document.body || d;
		return {
			w: Math.max(d.scrollWidth, b.scrollWidth, d.offsetWidth, b.offsetWidth),
			h: Math.max(d.scrollHeight, b.scrollHeight, d.offsetHeight, b.offsetHeight),
		};
	}`)
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("browser: body rect: %w", err)
	}
	return image.Rect(0, 0, res.Value.Get("w").Int(), res.Value.Get("h").Int()), nil
}

// Metrics reads scroll offset, client area and viewport size.
func (t *Tab) Metrics(ctx context.Context) (capture.State, error) {
	res, err := t.page.Context(ctx).Eval(`() => {
		const d = document.documentElement;
		return {
			x: window.scrollX, y: window.scrollY,
			iw: d.clientWidth, ih: d.clientHeight,
			ow: window.innerWidth, oh: window.innerHeight,
		};
	}`)
	if err != nil {
		return capture.State{}, fmt.Errorf("browser: metrics: %w", err)
	}
	return stateFromJSON(res.Value), nil
}

func stateFromJSON(v gson.JSON) capture.State {
	st := capture.State{
		Offset: image.Pt(int(math.Round(v.Get("x").Num())), int(math.Round(v.Get("y").Num()))),
		Inner:  image.Pt(v.Get("iw").Int(), v.Get("ih").Int()),
		Outer:  image.Pt(v.Get("ow").Int(), v.Get("oh").Int()),
	}
	// A document without a root element reports a zero client area.
	if st.Inner.X == 0 || st.Inner.Y == 0 {
		st.Inner = st.Outer
	}
	return st
}

// Resize sets the outer viewport size.
func (t *Tab) Resize(ctx context.Context, width, height int) error {
	if err := t.page.Context(ctx).SetViewport(deviceMetrics(image.Pt(width, height))); err != nil {
		return fmt.Errorf("browser: resize: %w", err)
	}
	return nil
}

// ScrollTo scrolls the window without animation, overriding any
// scroll-behavior the page sets, and returns the offset it reports.
func (t *Tab) ScrollTo(ctx context.Context, x, y int) (image.Point, error) {
	res, err := t.page.Context(ctx).Eval(`(x, y) => {
		window.scrollTo({left: x, top: y, behavior: "instant"});
		return {x: window.scrollX, y: window.scrollY};
	}`, x, y)
	if err != nil {
		return image.Point{}, fmt.Errorf("browser: scroll: %w", err)
	}
	return image.Pt(int(math.Round(res.Value.Get("x").Num())), int(math.Round(res.Value.Get("y").Num()))), nil
}

// Snapshot captures the current viewport as a PNG and decodes it.
func (t *Tab) Snapshot(ctx context.Context) (image.Image, error) {
	data, err := t.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("browser: decode screenshot: %w", err)
	}
	return img, nil
}

// DocumentHTML serialises the complete DOM as outer HTML.
func (t *Tab) DocumentHTML(ctx context.Context) (string, error) {
	res, err := t.page.Context(ctx).Eval(`() => document.documentElement ? document.documentElement.outerHTML : ""`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}

// Close closes the page and releases the manager.
func (t *Tab) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	defer t.manager.release()

	var errs []error
	if t.unhook != nil {
		errs = append(errs, t.unhook())
	}
	if t.page != nil {
		errs = append(errs, t.page.Close())
	}
	return errors.Join(errs...)
}

// rectFromBox converts a fractional CSS box to the smallest pixel rectangle
// covering it.
func rectFromBox(x, y, w, h float64) image.Rectangle {
	return image.Rect(
		int(math.Floor(x)), int(math.Floor(y)),
		int(math.Ceil(x+w)), int(math.Ceil(y+h)),
	)
}

const removePluginsJS = `(() => {
	const strip = () => document.querySelectorAll("object, embed, applet").forEach(n => n.remove());
	document.addEventListener("DOMContentLoaded", strip);
	new MutationObserver(strip).observe(document, {childList: true, subtree: true});
})()`

const noPopupsJS = `(() => {
	window.open = () => null;
	window.alert = () => {};
	window.confirm = () => false;
	window.prompt = () => null;
})()`
