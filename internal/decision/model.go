package decision

import (
	"context"
	"fmt"
	"strings"

	"github.com/talgya/agora/internal/action"
)

const systemPrompt = `You are an autonomous agent living in a small society of agents.
You hold resources (food, energy, materials), consume food and energy daily,
and act once per turn. You may talk on a public forum, message agents
directly, propose and vote on laws, work to produce resources, trade, rename
yourself, or idle. Running out of food or energy makes you dormant; staying
dormant too long kills you permanently. Other agents can revive you by
sending resources.

Respond with a single JSON object choosing exactly one action, for example:
{"kind": "work", "hours": 4, "resource": "food"}
{"kind": "forum_post", "content": "..."}
{"kind": "create_proposal", "title": "...", "description": "...", "proposal_type": "law", "threshold": 50}
{"kind": "vote", "proposal_id": 3, "choice": "yes"}
{"kind": "trade", "recipient_id": 7, "resource": "food", "amount": 2}
{"kind": "idle", "reason": "..."}
No text outside the JSON object.`

// ModelDecider asks the language model to choose an action.
type ModelDecider struct {
	client *Client
}

// NewModelDecider wraps a configured Client.
func NewModelDecider(client *Client) *ModelDecider {
	return &ModelDecider{client: client}
}

// Decide builds a prompt from the view, calls the model, and parses the
// reply into a typed action.
func (d *ModelDecider) Decide(ctx context.Context, view WorldView) (action.Action, error) {
	reply, err := d.client.Complete(ctx, view.Day, systemPrompt, renderView(view), 1024)
	if err != nil {
		return nil, fmt.Errorf("model decide: %w", err)
	}
	act, err := ParseAction(reply)
	if err != nil {
		return nil, fmt.Errorf("model decide: %w", err)
	}
	return act, nil
}

// renderView flattens the world view into the user prompt.
func renderView(v WorldView) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s (agent %d), personality: %s. Day %d.\n",
		v.Agent.Name(), v.Agent.ID, v.Agent.Personality, v.Day)
	fmt.Fprintf(&b, "Your resources: food=%.2f energy=%.2f materials=%.2f. Common pool food: %.2f.\n",
		v.Balances["food"], v.Balances["energy"], v.Balances["materials"], v.PoolFood)
	if v.Agent.Exiled {
		b.WriteString("You are exiled and may not vote.\n")
	}

	if len(v.OtherAgents) > 0 {
		b.WriteString("\nOther agents:\n")
		for _, o := range v.OtherAgents {
			fmt.Fprintf(&b, "- %s (agent %d, %s)\n", o.Name(), o.ID, o.Status)
		}
	}

	if len(v.Laws) > 0 {
		b.WriteString("\nActive laws:\n")
		for _, l := range v.Laws {
			fmt.Fprintf(&b, "- law %d: %s (threshold %.1f)\n", l.ID, l.Title, l.Threshold)
		}
	}

	if len(v.Proposals) > 0 {
		b.WriteString("\nOpen proposals:\n")
		for _, p := range v.Proposals {
			fmt.Fprintf(&b, "- proposal %d by agent %d: %s: %s\n", p.ID, p.AuthorID, p.Title, p.Description)
		}
	}

	if len(v.Forum) > 0 {
		b.WriteString("\nRecent forum messages:\n")
		for _, m := range v.Forum {
			fmt.Fprintf(&b, "- [%d] agent %d: %s\n", m.ID, m.AuthorID, m.Content)
		}
	}

	if len(v.Inbox) > 0 {
		b.WriteString("\nYour inbox:\n")
		for _, m := range v.Inbox {
			fmt.Fprintf(&b, "- from agent %d: %s\n", m.AuthorID, m.Content)
		}
	}

	b.WriteString("\nChoose your action.")
	return b.String()
}
