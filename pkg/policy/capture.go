package policy

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/interfaces"
	"github.com/m-mizutani/comicforge/pkg/model"
	"github.com/m-mizutani/comicforge/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

// regoPrintHook forwards Rego print() statements to the context logger
type regoPrintHook struct {
	ctx context.Context
}

func (h *regoPrintHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// Capture evaluates the capture package of a policy directory against comics that are
// about to be recorded in history
type Capture struct {
	query *rego.PreparedEvalQuery
}

var _ interfaces.CapturePolicy = (*Capture)(nil)

// NewCapture loads .rego files from policyDir. With no files every comic is allowed
func NewCapture(ctx context.Context, policyDir string) (*Capture, error) {
	modules, err := loadModules(policyDir)
	if err != nil {
		return nil, err
	}
	if len(modules) == 0 {
		logging.From(ctx).Debug("no capture policy found", "dir", policyDir)
		return &Capture{}, nil
	}

	query, err := prepareQuery(ctx, modules, captureQuery)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare capture query", goerr.V("dir", policyDir))
	}

	return &Capture{query: query}, nil
}

// newCaptureInput renders the comic as plain JSON values for rego
func newCaptureInput(c *model.Comic) map[string]any {
	panels := make([]any, len(c.Panels))
	for i, p := range c.Panels {
		panels[i] = map[string]any{
			"id":        int(p.ID),
			"character": p.Character,
			"dialogue":  p.Dialogue,
			"status":    string(p.Status.Effective()),
			"has_image": len(p.Image) > 0,
		}
	}

	return map[string]any{
		"id":          string(c.ID),
		"title":       c.Title,
		"created_at":  c.CreatedAt.Format(time.RFC3339),
		"panel_count": len(c.Panels),
		"panels":      panels,
	}
}

// EvaluateCapture returns allow unless the policy sets allow to false
func (c *Capture) EvaluateCapture(ctx context.Context, comic *model.Comic) (*model.CaptureDecision, error) {
	if c.query == nil {
		return &model.CaptureDecision{Allow: true}, nil
	}

	rs, err := c.query.Eval(ctx,
		rego.EvalInput(newCaptureInput(comic)),
		rego.EvalPrintHook(&regoPrintHook{ctx: ctx}))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate capture policy", goerr.V("comic_id", comic.ID))
	}

	decision := &model.CaptureDecision{Allow: true}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return decision, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, goerr.New("invalid capture result: not an object", goerr.V("comic_id", comic.ID))
	}

	if v, exists := data["allow"]; exists {
		allow, ok := v.(bool)
		if !ok {
			return nil, goerr.New("invalid capture result: allow is not a boolean", goerr.V("allow", v))
		}
		decision.Allow = allow
	}
	if v, ok := data["reason"].(string); ok {
		decision.Reason = v
	}

	return decision, nil
}
