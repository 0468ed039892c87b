package model

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrValidation is raised before any network call when the input cannot start a run
	ErrValidation = goerr.New("invalid input")

	// ErrRunFailed aborts a whole run. Story and cover failures end up here.
	ErrRunFailed = goerr.New("comic generation failed")

	// ErrServiceBusy marks rate limiting or resource exhaustion on the generative API
	ErrServiceBusy = goerr.New("generative service is busy")

	// ErrRunCancelled is returned to a caller whose run was superseded by reset or a newer run
	ErrRunCancelled = goerr.New("comic generation cancelled")

	// ErrPanelGeneration is a failure local to one panel
	ErrPanelGeneration = goerr.New("panel image generation failed")

	ErrStorage       = goerr.New("storage write failed")
	ErrQuotaExceeded = goerr.New("storage quota exceeded")
	ErrNotFound      = goerr.New("not found")
)

// UserMessage converts an error into text that can be shown to a user
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return err.Error()
	case errors.Is(err, ErrServiceBusy):
		return "The generative service is busy right now. Please wait a moment and try again."
	case errors.Is(err, ErrRunCancelled):
		return "Comic generation was cancelled."
	case errors.Is(err, ErrRunFailed):
		return "Failed to create your comic. Please try again."
	default:
		return "An unknown error occurred."
	}
}
