package command

import (
	"context"
	"fmt"

	"github.com/harun/wabridge/pkg/adapter"
)

// AutomationRequest is the loosely shaped command posted by workflow tools.
// The first populated action wins: text, then media, then mention.
type AutomationRequest struct {
	SessionID  string
	To         string `json:"to"`
	Message    string `json:"message"`
	MediaRef   string `json:"mediaRef"`
	MediaKind  string `json:"mediaKind"`
	Caption    string `json:"caption"`
	GroupID    string `json:"groupId"`
	MentionAll bool   `json:"mentionAll"`
	Anonymous  bool   `json:"anonymous"`
}

// Action names the command an automation request resolves to.
type Action string

const (
	ActionText    Action = "send_text"
	ActionMedia   Action = "send_media"
	ActionMention Action = "mention_all"
)

// Resolve picks the action for req.
func (req AutomationRequest) Resolve() (Action, error) {
	switch {
	case req.Message != "" && req.To != "":
		return ActionText, nil
	case req.MediaRef != "" && req.MediaKind != "" && req.To != "":
		return ActionMedia, nil
	case req.GroupID != "" && req.MentionAll:
		return ActionMention, nil
	}
	return "", fmt.Errorf("%w: expected message, media or mentionAll", ErrInvalidRequest)
}

// Automation dispatches req to the matching command.
func (r *Router) Automation(ctx context.Context, req AutomationRequest) Envelope {
	action, err := req.Resolve()
	if err != nil {
		// an unknown or logged out session is reported before a malformed body
		return r.withAdapter(ctx, "automation", req.SessionID, func(context.Context, adapter.Adapter) (any, error) {
			return nil, err
		})
	}

	switch action {
	case ActionText:
		return r.SendText(ctx, SendTextRequest{SessionID: req.SessionID, To: req.To, Body: req.Message})
	case ActionMedia:
		return r.SendMedia(ctx, SendMediaRequest{
			SessionID: req.SessionID,
			To:        req.To,
			MediaRef:  req.MediaRef,
			MediaKind: req.MediaKind,
			Caption:   req.Caption,
		})
	default:
		return r.MentionAll(ctx, MentionAllRequest{
			SessionID: req.SessionID,
			GroupID:   req.GroupID,
			Message:   req.Message,
			Anonymous: req.Anonymous,
		})
	}
}
