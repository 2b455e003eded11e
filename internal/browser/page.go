package browser

import "context"

// Page is the minimal page-driving capability the agent needs: navigate,
// wait for elements, read element text. Selectors starting with "/" or "//"
// are treated as XPath expressions, everything else as CSS selectors.
//
// All methods honor ctx cancellation and deadlines; none block indefinitely
// on their own.
type Page interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error

	// WaitVisible blocks until the element matching selector is visible.
	WaitVisible(ctx context.Context, selector string) error

	// Exists reports whether at least one element matches selector right
	// now, without waiting.
	Exists(ctx context.Context, selector string) (bool, error)

	// Text returns the visible text of the first element matching selector.
	Text(ctx context.Context, selector string) (string, error)

	// BodyText returns the rendered text of the whole page, including
	// same-origin iframes.
	BodyText(ctx context.Context) (string, error)

	// SendKeys clears the element matching selector and types value into
	// it. A trailing "\r" submits the enclosing form.
	SendKeys(ctx context.Context, selector, value string) error

	// Click clicks the first element matching selector.
	Click(ctx context.Context, selector string) error

	// Location returns the current page URL.
	Location(ctx context.Context) (string, error)

	// Title returns the current page title.
	Title(ctx context.Context) (string, error)

	// Screenshot captures the viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)

	// Close releases the underlying browser resources. The Page must not
	// be used afterwards.
	Close() error
}

// IsXPath reports whether selector uses the XPath convention.
func IsXPath(selector string) bool {
	return len(selector) > 0 && selector[0] == '/'
}
