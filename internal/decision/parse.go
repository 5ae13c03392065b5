package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/talgya/agora/internal/action"
	"github.com/talgya/agora/internal/store"
)

// actionSchema constrains the shape of a model-proposed action before any
// world-state validation runs. Shape errors here never reach the pipeline.
const actionSchema = `{
  "type": "object",
  "required": ["kind"],
  "properties": {
    "kind": {
      "enum": ["forum_post", "forum_reply", "direct_message", "create_proposal",
               "vote", "work", "trade", "set_name", "idle"]
    },
    "content": {"type": "string"},
    "parent_id": {"type": "integer"},
    "recipient_id": {"type": "integer"},
    "title": {"type": "string"},
    "description": {"type": "string"},
    "proposal_type": {"enum": ["law", "repeal"]},
    "target_law_id": {"type": "integer"},
    "threshold": {"type": "number", "minimum": 0},
    "proposal_id": {"type": "integer"},
    "choice": {"enum": ["yes", "no", "abstain"]},
    "hours": {"type": "integer", "minimum": 1},
    "resource": {"enum": ["food", "energy", "materials"]},
    "amount": {"type": "number", "exclusiveMinimum": 0},
    "name": {"type": "string"},
    "reason": {"type": "string"}
  },
  "allOf": [
    {"if": {"properties": {"kind": {"const": "forum_post"}}},
     "then": {"required": ["content"]}},
    {"if": {"properties": {"kind": {"const": "forum_reply"}}},
     "then": {"required": ["content", "parent_id"]}},
    {"if": {"properties": {"kind": {"const": "direct_message"}}},
     "then": {"required": ["content", "recipient_id"]}},
    {"if": {"properties": {"kind": {"const": "create_proposal"}}},
     "then": {"required": ["title", "description", "proposal_type"]}},
    {"if": {"properties": {"kind": {"const": "vote"}}},
     "then": {"required": ["proposal_id", "choice"]}},
    {"if": {"properties": {"kind": {"const": "work"}}},
     "then": {"required": ["hours", "resource"]}},
    {"if": {"properties": {"kind": {"const": "trade"}}},
     "then": {"required": ["recipient_id", "resource", "amount"]}},
    {"if": {"properties": {"kind": {"const": "set_name"}}},
     "then": {"required": ["name"]}}
  ]
}`

var compiledActionSchema = jsonschema.MustCompileString("action.json", actionSchema)

// proposedAction is the raw decoded form before mapping to a typed Action.
type proposedAction struct {
	Kind         string  `json:"kind"`
	Content      string  `json:"content"`
	ParentID     int64   `json:"parent_id"`
	RecipientID  int64   `json:"recipient_id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	ProposalType string  `json:"proposal_type"`
	TargetLawID  *int64  `json:"target_law_id"`
	Threshold    float64 `json:"threshold"`
	ProposalID   int64   `json:"proposal_id"`
	Choice       string  `json:"choice"`
	Hours        int     `json:"hours"`
	Resource     string  `json:"resource"`
	Amount       float64 `json:"amount"`
	Name         string  `json:"name"`
	Reason       string  `json:"reason"`
}

// ParseAction validates raw model output against the action schema and
// maps it to a typed Action. Output may wrap the JSON object in prose or
// a code fence; only the first balanced object is considered.
func ParseAction(raw string) (action.Action, error) {
	doc := extractJSON(raw)
	if doc == "" {
		return nil, fmt.Errorf("no JSON object in model output")
	}

	var generic any
	if err := json.Unmarshal([]byte(doc), &generic); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}
	if err := compiledActionSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("action schema: %w", err)
	}

	var p proposedAction
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}

	switch action.Kind(p.Kind) {
	case action.KindForumPost:
		return action.ForumPost{Content: p.Content}, nil
	case action.KindForumReply:
		return action.ForumReply{ParentID: p.ParentID, Content: p.Content}, nil
	case action.KindDirectMessage:
		return action.DirectMessage{RecipientID: p.RecipientID, Content: p.Content}, nil
	case action.KindCreateProposal:
		return action.CreateProposal{
			Title:       p.Title,
			Description: p.Description,
			Type:        p.ProposalType,
			TargetLawID: p.TargetLawID,
			Threshold:   p.Threshold,
		}, nil
	case action.KindVote:
		return action.Vote{ProposalID: p.ProposalID, Choice: store.VoteChoice(p.Choice)}, nil
	case action.KindWork:
		return action.Work{Hours: p.Hours, Resource: store.Resource(p.Resource)}, nil
	case action.KindTrade:
		return action.Trade{RecipientID: p.RecipientID, Resource: store.Resource(p.Resource), Amount: p.Amount}, nil
	case action.KindSetName:
		return action.SetName{Name: p.Name}, nil
	case action.KindIdle:
		return action.Idle{Reason: p.Reason}, nil
	}
	return nil, fmt.Errorf("unknown action kind %q", p.Kind)
}

// extractJSON returns the first balanced top-level JSON object in s.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
