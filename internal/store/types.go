package store

import "time"

// Resource enumerates the tradeable world resources.
type Resource string

const (
	ResourceFood      Resource = "food"
	ResourceEnergy    Resource = "energy"
	ResourceMaterials Resource = "materials"
	ResourceLand      Resource = "land" // common pool only
)

// Resources lists every per-agent resource type.
var Resources = []Resource{ResourceFood, ResourceEnergy, ResourceMaterials}

// HolderKind distinguishes agent inventories from the common pool.
type HolderKind string

const (
	HolderAgent HolderKind = "agent"
	HolderPool  HolderKind = "pool"
)

// PoolID is the holder id of the single common pool.
const PoolID int64 = 0

// Holder identifies one balance owner (an agent or the common pool).
type Holder struct {
	Kind HolderKind
	ID   int64
}

// AgentHolder returns the holder for an agent's inventory.
func AgentHolder(agentID int64) Holder {
	return Holder{Kind: HolderAgent, ID: agentID}
}

// CommonPool returns the holder for the world-global pool.
func CommonPool() Holder {
	return Holder{Kind: HolderPool, ID: PoolID}
}

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	StatusActive  AgentStatus = "active"
	StatusDormant AgentStatus = "dormant"
	StatusDead    AgentStatus = "dead" // terminal
)

// Agent is one row of the agents table.
type Agent struct {
	ID              int64   `db:"id"`
	DisplayName     *string `db:"display_name"`
	Personality     string  `db:"personality"`
	Status          AgentStatus `db:"status"`
	StarvationCount int     `db:"starvation_count"`
	Exiled          bool    `db:"exiled"`
	SanctionedUntil *int64  `db:"sanctioned_until"`
	CreatedAt       int64   `db:"created_at"`
}

// Name returns the agent's display name, or a stable fallback.
func (a Agent) Name() string {
	if a.DisplayName != nil && *a.DisplayName != "" {
		return *a.DisplayName
	}
	return AgentFallbackName(a.ID)
}

// Sanctioned reports whether a sanction rate limit is in force at t.
func (a Agent) Sanctioned(t time.Time) bool {
	return a.SanctionedUntil != nil && toMillis(t) < *a.SanctionedUntil
}

// TransactionKind classifies ledger audit records.
type TransactionKind string

const (
	TxWorkProduction TransactionKind = "work_production"
	TxTrade          TransactionKind = "trade"
	TxAllocation     TransactionKind = "allocation"
	TxConsumption    TransactionKind = "consumption"
	TxAwakening      TransactionKind = "awakening"
	TxSeizure        TransactionKind = "seizure"
	TxRefund         TransactionKind = "refund"
)

// Transaction is one immutable ledger audit row.
type Transaction struct {
	ID        int64           `db:"id"`
	FromKind  HolderKind      `db:"from_kind"`
	FromID    int64           `db:"from_id"`
	ToKind    HolderKind      `db:"to_kind"`
	ToID      int64           `db:"to_id"`
	Resource  Resource        `db:"resource"`
	Amount    float64         `db:"amount"`
	Kind      TransactionKind `db:"kind"`
	CreatedAt int64           `db:"created_at"`
}

// MessageType classifies forum and direct messages.
type MessageType string

const (
	MsgForumPost     MessageType = "forum_post"
	MsgForumReply    MessageType = "forum_reply"
	MsgDirectMessage MessageType = "direct_message"
)

// Message is one row of the messages table. Append-only.
type Message struct {
	ID          int64       `db:"id"`
	AuthorID    int64       `db:"author_id"`
	Content     string      `db:"content"`
	Type        MessageType `db:"type"`
	ParentID    *int64      `db:"parent_id"`
	RecipientID *int64      `db:"recipient_id"`
	CreatedAt   int64       `db:"created_at"`
}

// ProposalStatus is the governance state machine state.
type ProposalStatus string

const (
	ProposalActive  ProposalStatus = "active"
	ProposalPassed  ProposalStatus = "passed"
	ProposalFailed  ProposalStatus = "failed"
	ProposalExpired ProposalStatus = "expired"
)

// Proposal is one row of the proposals table. Cached tallies are
// reconciled from vote rows at resolution time.
type Proposal struct {
	ID             int64          `db:"id"`
	AuthorID       int64          `db:"author_id"`
	Title          string         `db:"title"`
	Description    string         `db:"description"`
	Type           string         `db:"type"`
	TargetLawID    *int64         `db:"target_law_id"`
	Threshold      float64        `db:"threshold"`
	Status         ProposalStatus `db:"status"`
	YesCount       int            `db:"yes_count"`
	NoCount        int            `db:"no_count"`
	AbstainCount   int            `db:"abstain_count"`
	CreatedAt      int64          `db:"created_at"`
	VotingClosesAt int64          `db:"voting_closes_at"`
	ResolvedAt     *int64         `db:"resolved_at"`
}

// VoteChoice is one ballot option.
type VoteChoice string

const (
	VoteYes     VoteChoice = "yes"
	VoteNo      VoteChoice = "no"
	VoteAbstain VoteChoice = "abstain"
)

// Vote is one row of the votes table, unique per (proposal, agent).
type Vote struct {
	ProposalID int64      `db:"proposal_id"`
	AgentID    int64      `db:"agent_id"`
	Choice     VoteChoice `db:"choice"`
	UpdatedAt  int64      `db:"updated_at"`
}

// Law is one enforceable rule derived from a passed proposal.
type Law struct {
	ID         int64  `db:"id"`
	ProposalID int64   `db:"proposal_id"`
	Title      string  `db:"title"`
	Threshold  float64 `db:"threshold"`
	Active     bool    `db:"active"`
	RepealedBy *int64 `db:"repealed_by"`
	CreatedAt  int64  `db:"created_at"`
}

// EnforcementType enumerates the three enforcement primitives.
type EnforcementType string

const (
	EnforceSanction EnforcementType = "sanction"
	EnforceSeizure  EnforcementType = "seizure"
	EnforceExile    EnforcementType = "exile"
)

// EnforcementAction is one applied enforcement record.
type EnforcementAction struct {
	ID           int64           `db:"id"`
	Type         EnforcementType `db:"type"`
	TargetID     int64           `db:"target_id"`
	LawID        int64           `db:"law_id"`
	SupportCount int             `db:"support_count"`
	AppliedAt    int64           `db:"applied_at"`
}

// Event is one row of the append-only event log.
type Event struct {
	ID        int64  `db:"id"`
	TurnID    *string `db:"turn_id"`
	AgentID   *int64 `db:"agent_id"`
	Type      string `db:"type"`
	Payload   string `db:"payload"`
	CreatedAt int64  `db:"created_at"`
}
