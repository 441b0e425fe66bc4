// internal/browser/context.go
package browser

import (
	"context"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CombineContext derives a context from ctx1 that is also canceled when ctx2
// is. Values come from ctx1 only, which is what chromedp needs: the tab lives
// in ctx1, the caller's deadline in ctx2.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(ctx1)
	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
