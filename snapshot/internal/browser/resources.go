// CLAUDE:SUMMARY Request policy on Rod pages: blocks images/media when disabled and refuses navigations after the first document.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// policy decides which requests a capture page may issue.
type policy struct {
	block      map[string]bool
	noRedirect bool
	documents  atomic.Int32
}

func newPolicy(opts TabOptions) *policy {
	p := &policy{block: map[string]bool{}, noRedirect: opts.DisableRedirect}
	if opts.DisableImages {
		p.block["image"] = true
		p.block["imageset"] = true
	}
	if opts.DisablePlugins {
		p.block["media"] = true
		p.block["object"] = true
	}
	return p
}

func (p *policy) active() bool { return len(p.block) > 0 || p.noRedirect }

// reset forgets the documents seen so the next navigation is allowed.
func (p *policy) reset() { p.documents.Store(0) }

// allow reports whether a request of resType may proceed. With redirects
// disabled only the first top-level document gets through; later ones are
// meta refreshes, script navigations or server redirects.
func (p *policy) allow(resType string, mainFrame bool) bool {
	if p.block[strings.ToLower(resType)] {
		return false
	}
	if p.noRedirect && mainFrame && strings.EqualFold(resType, string(proto.NetworkResourceTypeDocument)) {
		return p.documents.Add(1) == 1
	}
	return true
}

// isMainFrame reports whether a request from frame belongs to the top-level
// document. Requests Chrome sends without a frame are top-level.
func isMainFrame(frame, main proto.PageFrameID) bool {
	return frame == "" || frame == main
}

// applyRequestPolicy pauses every request of page through the Fetch domain
// and applies p. The paused event carries the initiating frame, which is
// how redirects of the top-level document are told apart from iframes.
// The returned function stops the interception.
func applyRequestPolicy(page *rod.Page, p *policy, log *slog.Logger) (func() error, error) {
	if err := (proto.FetchEnable{}).Call(page); err != nil {
		return nil, fmt.Errorf("browser: enable request interception: %w", err)
	}
	main := page.FrameID
	ctx, cancel := context.WithCancel(context.Background())

	go page.Context(ctx).EachEvent(func(e *proto.FetchRequestPaused) {
		resType := string(e.ResourceType)
		if !p.allow(resType, isMainFrame(e.FrameID, main)) {
			log.Debug("browser: request blocked", "type", resType, "frame", e.FrameID, "url", e.Request.URL)
			go func() {
				_ = proto.FetchFailRequest{RequestID: e.RequestID, ErrorReason: proto.NetworkErrorReasonBlockedByClient}.Call(page)
			}()
			return
		}
		go func() {
			_ = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(page)
		}()
	})()

	return func() error {
		cancel()
		return proto.FetchDisable{}.Call(page)
	}, nil
}
