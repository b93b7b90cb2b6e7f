package behavior

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/messaging"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/registry"
)

const (
	ActionUserInteraction = "UserInteraction"
	ActionUploadFile      = "UploadFile"
	ActionNoAction        = "NoAction"
)

// Action is one step requested by the model.
type Action struct {
	Name       string         `json:"ActionName"`
	Parameters map[string]any `json:"Parameters"`
}

func (a Action) String(param string) string {
	v, ok := a.Parameters[param]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

type actionEnvelope struct {
	Response []struct {
		Action Action `json:"Action"`
	} `json:"response"`
}

// ParseActions reads the model output as a JSON action list, optionally wrapped in a
// code fence. Anything else is a plain reply; blank output means no action.
func ParseActions(text string) []Action {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return []Action{{Name: ActionNoAction}}
	}

	var env actionEnvelope
	if err := json.Unmarshal([]byte(stripFence(trimmed)), &env); err == nil && len(env.Response) > 0 {
		out := make([]Action, 0, len(env.Response))
		for _, r := range env.Response {
			if strings.TrimSpace(r.Action.Name) == "" {
				continue
			}
			out = append(out, r.Action)
		}
		if len(out) > 0 {
			return out
		}
	}
	return []Action{{Name: ActionUserInteraction, Parameters: map[string]any{"value": trimmed}}}
}

func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	body := strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(body), "```"))
}

// decodeFileContent accepts base64 content and falls back to the raw text.
func decodeFileContent(raw string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) > 0 {
		return decoded
	}
	return []byte(raw)
}

// ActionContext is what a custom action can use to reach the conversation.
type ActionContext struct {
	Event     messaging.IncomingEvent
	Messenger Messenger
}

// ActionHandler runs a custom action. These are wrapped in the long-running action
// reactions.
type ActionHandler interface {
	Execute(ctx context.Context, ac ActionContext, action Action) error
}

type ActionFunc func(ctx context.Context, ac ActionContext, action Action) error

func (f ActionFunc) Execute(ctx context.Context, ac ActionContext, action Action) error {
	return f(ctx, ac, action)
}

type ActionRegistry = registry.Registry[ActionHandler]

func NewActionRegistry() *ActionRegistry {
	return registry.New[ActionHandler]("action")
}
