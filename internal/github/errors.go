package github

import (
	"errors"
	"fmt"
	"net/http"

	gh "github.com/google/go-github/v57/github"
)

// FetchError is a failed call to the GitHub API. StatusCode is 0 when the
// request never produced an HTTP response.
type FetchError struct {
	StatusCode int
	Resource   string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("fetching %s: %v", e.Resource, e.Err)
	}
	return fmt.Sprintf("fetching %s: HTTP %d: %v", e.Resource, e.StatusCode, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// wrap converts a go-github error into a FetchError.
func wrap(resource string, resp *gh.Response, err error) error {
	if err == nil {
		return nil
	}
	return &FetchError{StatusCode: statusCode(resp), Resource: resource, Err: err}
}

func statusCode(resp *gh.Response) int {
	if resp != nil && resp.Response != nil {
		return resp.StatusCode
	}
	return 0
}

func isNotFound(resp *gh.Response) bool {
	return statusCode(resp) == http.StatusNotFound
}

// FriendlyMessage renders err the way indexing results report it.
func FriendlyMessage(err error) string {
	var fe *FetchError
	if !errors.As(err, &fe) || fe.StatusCode == 0 {
		return err.Error()
	}
	switch fe.StatusCode {
	case http.StatusUnauthorized:
		return "GitHub API authentication failed."
	case http.StatusForbidden:
		return "GitHub API rate limit exceeded or access denied."
	case http.StatusNotFound:
		return "Repository not found. Check the URL and make sure the repo is public."
	case http.StatusUnavailableForLegalReasons:
		return "Repository is unavailable due to a legal request."
	default:
		return fmt.Sprintf("GitHub API returned %d while fetching %s", fe.StatusCode, fe.Resource)
	}
}
