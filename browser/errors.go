package browser

import "fmt"

// NavigationError is returned when the browser answers a navigation with an error text,
// e.g. "net::ERR_NAME_NOT_RESOLVED".
type NavigationError struct {
	URL  string
	Text string
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigating to %q: %s", e.URL, e.Text)
}
