package interfaces

import (
	"context"

	"github.com/m-mizutani/comicforge/pkg/model"
)

// CapturePolicy decides whether a fully loaded comic is recorded in history
type CapturePolicy interface {
	EvaluateCapture(ctx context.Context, comic *model.Comic) (*model.CaptureDecision, error)
}
