package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/model"
	"github.com/m-mizutani/comicforge/pkg/usecase/comic"
	"github.com/m-mizutani/comicforge/pkg/usecase/history"
	"github.com/m-mizutani/comicforge/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server exposes comic generation as MCP tools. All tools share one orchestrator, so
// a new create_comic call supersedes the previous run.
type Server struct {
	orch    *comic.Orchestrator
	history *history.Store
	server  *mcp.Server
}

func New(orch *comic.Orchestrator, store *history.Store, version string) *Server {
	s := &Server{
		orch:    orch,
		history: store,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "comicforge",
			Version: version,
		}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "create_comic",
		Description: "Generate a new comic from reference photos. Returns once the story and cover are ready; panels keep rendering in the background unless wait is set.",
	}, s.createComic)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "comic_status",
		Description: "Show the state of the current comic and the status of every panel",
	}, s.comicStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "retry_panel",
		Description: "Regenerate a failed panel of the current comic and wait for the result",
	}, s.retryPanel)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_history",
		Description: "List recently completed comics, newest first",
	}, s.listHistory)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "delete_history",
		Description: "Delete a comic from history",
	}, s.deleteHistory)

	return s
}

// Run serves until the transport closes or ctx is cancelled
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	if err := s.server.Run(ctx, transport); err != nil {
		return goerr.Wrap(err, "mcp server stopped")
	}
	return nil
}

// Connect starts one session on transport
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	session, err := s.server.Connect(ctx, transport, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect mcp session")
	}
	return session, nil
}

// HTTPHandler serves the tools over streamable HTTP
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to marshal tool result")
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(raw)},
		},
	}, nil, nil
}

type createComicParams struct {
	ImagePaths  []string `json:"image_paths" jsonschema:"Local file paths of reference photos of the main character"`
	ArtStyle    string   `json:"art_style" jsonschema:"Art style of the comic, for example 'gritty ink noir'"`
	Mood        string   `json:"mood,omitempty" jsonschema:"Mood of the story, for example 'High-Octane Action'"`
	StoryType   string   `json:"story_type,omitempty" jsonschema:"Kind of story, for example 'Rivalry'"`
	Description string   `json:"description,omitempty" jsonschema:"Free text description of the story"`
	Wait        bool     `json:"wait,omitempty" jsonschema:"Block until every panel is loaded or failed"`
}

type panelStatus struct {
	ID        model.PanelID     `json:"id"`
	Status    model.PanelStatus `json:"status"`
	Character string            `json:"character,omitempty"`
	Dialogue  string            `json:"dialogue,omitempty"`
}

type comicStatus struct {
	State    comic.State   `json:"state"`
	ComicID  model.ComicID `json:"comic_id,omitempty"`
	Title    string        `json:"title,omitempty"`
	Selected bool          `json:"selected"`
	Error    string        `json:"error,omitempty"`
	Panels   []panelStatus `json:"panels,omitempty"`
}

func newComicStatus(v comic.View) comicStatus {
	out := comicStatus{
		State:    v.State,
		Selected: v.Selected,
	}
	if v.Err != nil {
		out.Error = model.UserMessage(v.Err)
	}
	if v.Comic != nil {
		out.ComicID = v.Comic.ID
		out.Title = v.Comic.Title
		for _, p := range v.Comic.Panels {
			out.Panels = append(out.Panels, panelStatus{
				ID:        p.ID,
				Status:    p.Status.Effective(),
				Character: p.Character,
				Dialogue:  p.Dialogue,
			})
		}
	}
	return out
}

func readReferenceImages(paths []string) ([]model.ReferenceImage, error) {
	images := make([]model.ReferenceImage, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read reference image", goerr.V("path", path))
		}
		images = append(images, model.ReferenceImage{
			Data:     data,
			MIMEType: http.DetectContentType(data),
		})
	}
	return images, nil
}

func (s *Server) createComic(ctx context.Context, req *mcp.CallToolRequest, params *createComicParams) (*mcp.CallToolResult, any, error) {
	images, err := readReferenceImages(params.ImagePaths)
	if err != nil {
		return nil, nil, err
	}

	prefs := model.Preferences{
		Mood:        params.Mood,
		StoryType:   params.StoryType,
		Description: params.Description,
		ArtStyle:    params.ArtStyle,
	}

	logging.From(ctx).Info("create_comic called", "images", len(images), "wait", params.Wait)

	if _, err := s.orch.CreateComic(ctx, prefs, images); err != nil {
		return nil, nil, err
	}

	if params.Wait {
		if err := s.orch.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}

	return jsonResult(newComicStatus(s.orch.Snapshot()))
}

type comicStatusParams struct{}

func (s *Server) comicStatus(ctx context.Context, req *mcp.CallToolRequest, params *comicStatusParams) (*mcp.CallToolResult, any, error) {
	return jsonResult(newComicStatus(s.orch.Snapshot()))
}

type retryPanelParams struct {
	PanelID int `json:"panel_id" jsonschema:"ID of the failed panel"`
}

func (s *Server) retryPanel(ctx context.Context, req *mcp.CallToolRequest, params *retryPanelParams) (*mcp.CallToolResult, any, error) {
	status, err := s.orch.RetryPanel(ctx, model.PanelID(params.PanelID))
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(map[string]any{
		"panel_id": params.PanelID,
		"status":   status,
	})
}

type historySummary struct {
	ID        model.ComicID `json:"id"`
	Title     string        `json:"title"`
	CreatedAt string        `json:"created_at"`
	Panels    int           `json:"panels"`
}

type listHistoryParams struct {
	Query string `json:"query,omitempty" jsonschema:"Only list comics whose title contains this text"`
}

func (s *Server) listHistory(ctx context.Context, req *mcp.CallToolRequest, params *listHistoryParams) (*mcp.CallToolResult, any, error) {
	query := strings.ToLower(strings.TrimSpace(params.Query))

	entries := []historySummary{}
	for _, e := range s.history.List() {
		if query != "" && !strings.Contains(strings.ToLower(e.Title), query) {
			continue
		}
		entries = append(entries, historySummary{
			ID:        e.ID,
			Title:     e.Title,
			CreatedAt: e.CreatedAt.Format("2006-01-02 15:04:05"),
			Panels:    len(e.Panels),
		})
	}
	return jsonResult(map[string]any{"entries": entries})
}

type deleteHistoryParams struct {
	ID string `json:"id" jsonschema:"ID of the comic to delete"`
}

func (s *Server) deleteHistory(ctx context.Context, req *mcp.CallToolRequest, params *deleteHistoryParams) (*mcp.CallToolResult, any, error) {
	if params.ID == "" {
		return nil, nil, goerr.Wrap(model.ErrValidation, "id is required")
	}
	deleted := s.orch.DeleteHistory(ctx, model.ComicID(params.ID))
	return jsonResult(map[string]any{
		"id":      params.ID,
		"deleted": deleted,
	})
}
