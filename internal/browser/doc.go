// Package browser abstracts the headless rendering runtime behind the Page
// interface: navigate, wait for elements, read element text. The session
// manager and extractor only ever see Page, so tests drive them with an
// in-memory fake while production uses the chromedp implementation
// (NewChromePage), which speaks the Chrome DevTools protocol.
package browser
