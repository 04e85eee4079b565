package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// aliases maps the plural config names onto CDP resource types.
var aliases = map[string]proto.NetworkResourceType{
	"images":      proto.NetworkResourceTypeImage,
	"fonts":       proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
}

type blockList map[proto.NetworkResourceType]bool

func newBlockList(names []string) blockList {
	bl := make(blockList, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if t, ok := aliases[n]; ok {
			bl[t] = true
			continue
		}
		for _, t := range []proto.NetworkResourceType{
			proto.NetworkResourceTypeImage, proto.NetworkResourceTypeFont,
			proto.NetworkResourceTypeMedia, proto.NetworkResourceTypeStylesheet,
			proto.NetworkResourceTypeScript, proto.NetworkResourceTypeXHR,
			proto.NetworkResourceTypeFetch, proto.NetworkResourceTypeWebSocket,
		} {
			if strings.EqualFold(string(t), n) {
				bl[t] = true
			}
		}
	}
	return bl
}

func (bl blockList) empty() bool { return len(bl) == 0 }

func (bl blockList) blocks(t proto.NetworkResourceType) bool { return bl[t] }

// install fails every request of a blocked type on page.
func (bl blockList) install(page *rod.Page) {
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if bl.blocks(h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
}
