package provider

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// FromGoogleAPI maps Google API failures onto the shared taxonomy.
// Errors outside it pass through unchanged.
func FromGoogleAPI(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case apiErr.Code >= 500:
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
	}
	return err
}
