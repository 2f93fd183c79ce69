package session

import (
	"context"

	"github.com/chromedp/chromedp"

	"openchrome/internal/cdptransport"
)

func navigate(_ context.Context, tr *cdptransport.Transport, tab *cdptransport.Tab, url string) error {
	return tr.SendOp(tab, 0, chromedp.Navigate(url), "navigate")
}
