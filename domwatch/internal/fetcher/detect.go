package fetcher

import (
	"bytes"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Thresholds below which a static page is treated as a script-rendered
// shell that needs a browser.
const (
	minBodyBytes = 256
	minTextBytes = 200
	minTextRatio = 0.10
)

var shellMarkers = [][]byte{
	[]byte(`<div id="root"></div>`),
	[]byte(`<div id="app"></div>`),
	[]byte(`<div id="__next"></div>`),
	[]byte(`<noscript>you need to enable javascript`),
	[]byte(`<noscript>enable javascript`),
}

// IsSufficient reports whether body carries enough visible text for rules
// to be evaluated without running its scripts.
func IsSufficient(body []byte) bool {
	if len(body) < minBodyBytes {
		return false
	}
	text, markup := textMarkupRatio(body)
	if text < minTextBytes || float64(text)/float64(text+markup) < minTextRatio {
		return false
	}
	lower := bytes.ToLower(body)
	for _, m := range shellMarkers {
		if bytes.Contains(lower, m) {
			return false
		}
	}
	return true
}

// textMarkupRatio counts non-space text bytes against everything else.
// Script, style and template contents count as markup.
func textMarkupRatio(body []byte) (text, markup int) {
	z := html.NewTokenizer(bytes.NewReader(body))
	hidden := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return text, markup
		}
		raw := z.Raw()
		switch tt {
		case html.TextToken:
			if hidden > 0 {
				markup += len(raw)
				continue
			}
			for _, c := range raw {
				switch c {
				case ' ', '\t', '\n', '\r', '\f':
				default:
					text++
				}
			}
		case html.StartTagToken, html.EndTagToken:
			markup += len(raw)
			name, _ := z.TagName()
			if !invisible(atom.Lookup(name)) {
				continue
			}
			if tt == html.StartTagToken {
				hidden++
			} else if hidden > 0 {
				hidden--
			}
		default:
			markup += len(raw)
		}
	}
}

func invisible(a atom.Atom) bool {
	return a == atom.Script || a == atom.Style || a == atom.Template || a == atom.Noscript
}
