// Package action implements the pipeline that validates and executes one
// proposed agent action per turn.
package action

import "github.com/talgya/agora/internal/store"

// Kind names one of the nine action types.
type Kind string

const (
	KindForumPost      Kind = "forum_post"
	KindForumReply     Kind = "forum_reply"
	KindDirectMessage  Kind = "direct_message"
	KindCreateProposal Kind = "create_proposal"
	KindVote           Kind = "vote"
	KindWork           Kind = "work"
	KindTrade          Kind = "trade"
	KindSetName        Kind = "set_name"
	KindIdle           Kind = "idle"
)

// Action is a closed sum over the nine action kinds. Each variant carries
// only its own fields; the pipeline matches exhaustively, so there is no
// such thing as an unknown action at runtime.
type Action interface {
	Kind() Kind
	isAction()
}

// ForumPost publishes a new top-level forum message.
type ForumPost struct {
	Content string
}

// ForumReply answers an existing forum message.
type ForumReply struct {
	ParentID int64
	Content  string
}

// DirectMessage sends a private message to another agent.
type DirectMessage struct {
	RecipientID int64
	Content     string
}

// CreateProposal opens a governance proposal. TargetLawID is set only for
// repeal proposals; Threshold is the resource ceiling a law-type proposal
// legislates.
type CreateProposal struct {
	Title       string
	Description string
	Type        string
	TargetLawID *int64
	Threshold   float64
}

// Vote casts or replaces the agent's ballot on an active proposal.
type Vote struct {
	ProposalID int64
	Choice     store.VoteChoice
}

// Work converts hours of labor into a produced resource with diminishing
// returns.
type Work struct {
	Hours    int
	Resource store.Resource
}

// Trade moves resources to another agent. Dormant recipients are allowed;
// this is the revival path.
type Trade struct {
	RecipientID int64
	Resource    store.Resource
	Amount      float64
}

// SetName pays to change the agent's display name.
type SetName struct {
	Name string
}

// Idle does nothing beyond logging a reason.
type Idle struct {
	Reason string
}

func (ForumPost) Kind() Kind      { return KindForumPost }
func (ForumReply) Kind() Kind     { return KindForumReply }
func (DirectMessage) Kind() Kind  { return KindDirectMessage }
func (CreateProposal) Kind() Kind { return KindCreateProposal }
func (Vote) Kind() Kind           { return KindVote }
func (Work) Kind() Kind           { return KindWork }
func (Trade) Kind() Kind          { return KindTrade }
func (SetName) Kind() Kind        { return KindSetName }
func (Idle) Kind() Kind           { return KindIdle }

func (ForumPost) isAction()      {}
func (ForumReply) isAction()     {}
func (DirectMessage) isAction()  {}
func (CreateProposal) isAction() {}
func (Vote) isAction()           {}
func (Work) isAction()           {}
func (Trade) isAction()          {}
func (SetName) isAction()        {}
func (Idle) isAction()           {}
