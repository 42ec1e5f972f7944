// trello.go implements a thin Trello REST tool: boards, lists and
// cards, authenticated with the configured key/token pair.
package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/skippy-ai/skippy/pkg/skippy/config"
)

const trelloBase = "https://api.trello.com/1"

// TrelloTool talks to the Trello REST API.
type TrelloTool struct {
	cfg    config.TrelloToolConfig
	client *http.Client
}

// NewTrelloTool creates the Trello tool.
func NewTrelloTool(cfg config.TrelloToolConfig) *TrelloTool {
	return &TrelloTool{
		cfg:    cfg,
		client: &http.Client{Timeout: 20 * time.Second},
	}
}

func (t *TrelloTool) Name() string { return "trello" }

// Init checks credentials are configured. The tool registers anyway so
// the model gets an actionable error instead of "unknown tool".
func (t *TrelloTool) Init() error { return nil }

func (t *TrelloTool) KnownArgs() []string {
	return []string{"op", "operation", "action",
		"board_id", "list_id", "card_id", "name", "description", "due"}
}

func (t *TrelloTool) Run(ctx context.Context, args map[string]any) Result {
	if t.cfg.Key == "" || t.cfg.Token == "" {
		return Errorf("trello is not configured: set tools.trello.key and tools.trello.token")
	}

	switch op := opArg(args); op {
	case "boards", "":
		return t.request(ctx, http.MethodGet, "/members/me/boards", url.Values{
			"fields": {"id,name,url"},
		})
	case "lists":
		if fail := requireArgs(args, "board_id"); fail != nil {
			return fail
		}
		return t.request(ctx, http.MethodGet,
			"/boards/"+url.PathEscape(strArg(args, "board_id"))+"/lists", url.Values{
				"fields": {"id,name"},
			})
	case "cards":
		if fail := requireArgs(args, "list_id"); fail != nil {
			return fail
		}
		return t.request(ctx, http.MethodGet,
			"/lists/"+url.PathEscape(strArg(args, "list_id"))+"/cards", url.Values{
				"fields": {"id,name,desc,due,url"},
			})
	case "add_card":
		if fail := requireArgs(args, "list_id", "name"); fail != nil {
			return fail
		}
		params := url.Values{
			"idList": {strArg(args, "list_id")},
			"name":   {strArg(args, "name")},
		}
		if desc := strArg(args, "description"); desc != "" {
			params.Set("desc", desc)
		}
		if due := strArg(args, "due"); due != "" {
			params.Set("due", due)
		}
		return t.request(ctx, http.MethodPost, "/cards", params)
	case "move_card":
		if fail := requireArgs(args, "card_id", "list_id"); fail != nil {
			return fail
		}
		return t.request(ctx, http.MethodPut,
			"/cards/"+url.PathEscape(strArg(args, "card_id")), url.Values{
				"idList": {strArg(args, "list_id")},
			})
	case "archive_card":
		if fail := requireArgs(args, "card_id"); fail != nil {
			return fail
		}
		return t.request(ctx, http.MethodPut,
			"/cards/"+url.PathEscape(strArg(args, "card_id")), url.Values{
				"closed": {"true"},
			})
	default:
		return Errorf("unknown trello operation %q", op)
	}
}

// request performs one authenticated API call and decodes the JSON
// response into the result.
func (t *TrelloTool) request(ctx context.Context, method, path string, params url.Values) Result {
	params.Set("key", t.cfg.Key)
	params.Set("token", t.cfg.Token)

	endpoint := trelloBase + path
	var body io.Reader
	if method == http.MethodGet {
		endpoint += "?" + params.Encode()
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return Errorf("building trello request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Errorf("trello request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return Errorf("reading trello response: %v", err)
	}
	if resp.StatusCode >= 400 {
		return Errorf("trello returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		decoded = string(data)
	}
	return OK(map[string]any{"data": decoded})
}

func (t *TrelloTool) Context() string {
	return `Trello boards and cards. Operations:
- boards: {} → {success, data: [{id, name, url}]}
- lists: {op: "lists", board_id} → {success, data: [{id, name}]}
- cards: {op: "cards", list_id} → {success, data: [{id, name, desc, due}]}
- add_card: {op: "add_card", list_id, name, description?, due?}
- move_card: {op: "move_card", card_id, list_id}
- archive_card: {op: "archive_card", card_id}`
}
