package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"
)

// Tab is one watched page in the current browser.
type Tab struct {
	Page *rod.Page
	URL  string
}

// Open creates a stealth tab, installs resource blocking and navigates to
// url, waiting up to timeout for the load event. A slow load is logged, not
// fatal: the DOM is watched either way.
func (m *Manager) Open(ctx context.Context, url string, timeout time.Duration) (*Tab, error) {
	b := m.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: open %s: no browser", url)
	}
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: new tab: %w", err)
	}
	if bl := newBlockList(m.cfg.Block); !bl.empty() {
		bl.install(page)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	nav, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := page.Context(nav).Navigate(url); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := page.Context(nav).WaitLoad(); err != nil {
		m.logger.Warn("browser: load not finished", "url", url, "error", err)
	}
	return &Tab{Page: page, URL: url}, nil
}

// HTML returns the serialised document of the tab.
func (t *Tab) HTML() (string, error) {
	s, err := t.Page.HTML()
	if err != nil {
		return "", fmt.Errorf("browser: html: %w", err)
	}
	return s, nil
}

func (t *Tab) Close() error {
	if t.Page == nil {
		return nil
	}
	return t.Page.Close()
}
