package render

import (
	"context"
	"fmt"
	"io"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// ChromePrinter prints HTML to PDF with a headless Chrome launched per call.
// An empty bin lets the launcher find or download a browser.
func ChromePrinter(bin string) PrintFunc {
	return func(ctx context.Context, html []byte) ([]byte, error) {
		launch := launcher.New().Context(ctx).Headless(true)
		if bin != "" {
			launch = launch.Bin(bin)
		}
		defer launch.Cleanup()

		controlURL, err := launch.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}

		browser := rod.New().ControlURL(controlURL).Context(ctx)
		if err := browser.Connect(); err != nil {
			return nil, fmt.Errorf("connect to chrome: %w", err)
		}
		defer func() { _ = browser.Close() }()

		page, err := browser.Page(proto.TargetCreateTarget{})
		if err != nil {
			return nil, fmt.Errorf("open page: %w", err)
		}
		if err := page.SetDocumentContent(string(html)); err != nil {
			return nil, fmt.Errorf("load report html: %w", err)
		}
		if err := page.WaitLoad(); err != nil {
			return nil, fmt.Errorf("wait for report html: %w", err)
		}

		stream, err := page.PDF(&proto.PagePrintToPDF{
			PrintBackground:   true,
			PreferCSSPageSize: true,
		})
		if err != nil {
			return nil, fmt.Errorf("print to pdf: %w", err)
		}
		return io.ReadAll(stream)
	}
}
