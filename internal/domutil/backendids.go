// Package domutil holds small CDP helpers shared by the DOM serializer and
// the element finder: both need to turn a live in-page array of DOM
// elements into backend node ids without paying an O(n) CDP round trip per
// element.
package domutil

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
)

// ResolveBackendIDs enumerates arrayObjectID's own integer-indexed
// properties and issues DOM.describeNode for each concurrently, returning
// backend node ids in the same order as the in-page array (spec §4.9's
// "backend-id resolution" algorithm). A slot whose array entry was not an
// object (e.g. a placeholder null) or whose describeNode call failed is
// left as the zero BackendNodeID.
func ResolveBackendIDs(ctx context.Context, arrayObjectID runtime.RemoteObjectID) ([]cdp.BackendNodeID, error) {
	props, err := runtime.GetProperties(arrayObjectID).WithOwnProperties(true).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("domutil: get properties: %w", err)
	}

	type candidate struct {
		idx   int
		objID runtime.RemoteObjectID
	}
	var candidates []candidate
	maxIdx := -1
	for _, p := range props {
		idx, convErr := strconv.Atoi(p.Name)
		if convErr != nil || strconv.Itoa(idx) != p.Name {
			// Round-trip check so "+0", "01", etc. are rejected the way
			// V8's own array index coercion would reject them.
			continue
		}
		if idx > maxIdx {
			maxIdx = idx
		}
		if p.Value == nil || p.Value.ObjectID == "" {
			continue
		}
		candidates = append(candidates, candidate{idx: idx, objID: p.Value.ObjectID})
	}
	if maxIdx < 0 {
		return nil, nil
	}

	results := make([]cdp.BackendNodeID, maxIdx+1)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range candidates {
		wg.Add(1)
		go func(c candidate) {
			defer wg.Done()
			node, err := dom.DescribeNode().WithObjectID(c.objID).Do(ctx)
			if err != nil {
				return
			}
			mu.Lock()
			results[c.idx] = node.BackendNodeID
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	return results, nil
}
