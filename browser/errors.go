package browser

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("browser: session closed")

// NavigationError indicates a page could not be loaded within its timeout.
type NavigationError struct {
	URL string
	Err error
}

func NewNavigationError(url string, err error) *NavigationError {
	return &NavigationError{URL: url, Err: err}
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}
