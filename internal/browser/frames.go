package browser

import (
	"strings"

	"github.com/go-rod/rod"
)

const (
	maxFrameDepth = 3
	maxTotalFrames = 20
)

// FrameVisitor is called once per visited frame with its current URL.
type FrameVisitor func(frame *rod.Page, url string) error

// frameWork is one pending frame to visit, carrying its depth so the walk
// can enforce the depth bound without recursion.
type frameWork struct {
	page  *rod.Page
	depth int
}

// WalkFrames performs a depth-first visit of root and its descendant
// frames, bounded by depth=3 and total-frames=20, skipping non-http(s)
// frames. Uses an explicit stack instead of recursion: on a failure to
// list a frame's children, that frame's subtree is dropped and the walk
// continues with the frames still on the stack. The walk does not restart
// from root after such a failure.
func WalkFrames(root *rod.Page, visit FrameVisitor) error {
	stack := []frameWork{{page: root, depth: 0}}
	visited := 0

	for len(stack) > 0 {
		if visited >= maxTotalFrames {
			return nil
		}

		work := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		info, err := work.page.Info()
		if err != nil {
			continue
		}

		if !isHTTPURL(info.URL) {
			continue
		}

		visited++
		if err := visit(work.page, info.URL); err != nil {
			continue
		}

		if work.depth >= maxFrameDepth {
			continue
		}

		children, err := listChildFrames(work.page)
		if err != nil {
			// Tolerate frame-tree mutation mid-walk: drop this subtree and
			// continue with whatever siblings remain on the stack.
			continue
		}

		for _, child := range children {
			stack = append(stack, frameWork{page: child, depth: work.depth + 1})
		}
	}

	return nil
}

func isHTTPURL(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// listChildFrames enumerates the direct child frames of page.
func listChildFrames(page *rod.Page) ([]*rod.Page, error) {
	elements, err := page.Elements("iframe, frame")
	if err != nil {
		return nil, err
	}

	var frames []*rod.Page
	for _, el := range elements {
		frame, err := el.Frame()
		if err != nil {
			continue
		}
		frames = append(frames, frame)
	}
	return frames, nil
}
