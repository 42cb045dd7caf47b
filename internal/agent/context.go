package agent

import (
	"time"

	"foreman/internal/event"
)

// Store is the opaque persistence handle shared across one dispatch. Agents
// own their transactional discipline; the orchestrator never wraps dispatch
// in an implicit transaction.
type Store any

// TaskView is the read model of a task the core needs for routing and
// planning. Field population is the caller's concern.
type TaskView struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority,omitempty"`
	AssigneeID  string    `json:"assignee_id,omitempty"`
	DueAt       time.Time `json:"due_at,omitempty"`
	BlockerType string    `json:"blocker_type,omitempty"`
	BlockerDesc string    `json:"blocker_description,omitempty"`
}

// UserView is the read model of a user.
type UserView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// OrgView is the read model of an organization.
type OrgView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is one turn in a conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Context carries everything one agent invocation needs. It is created fresh
// per top-level dispatch; pipelines reuse one context across stages while
// parallel fan-out clones it per branch.
type Context struct {
	Event           *event.Event
	Task            *TaskView
	User            *UserView
	Org             *OrgView
	ConversationID  string
	History         []Message
	PreviousResults []*Result
	ChainData       map[string]any
	Metadata        map[string]any
	Store           Store
}

// NewContext builds a context for the given triggering event (which may be
// nil for direct invocations).
func NewContext(e *event.Event, store Store) *Context {
	return &Context{
		Event:     e,
		ChainData: make(map[string]any),
		Metadata:  make(map[string]any),
		Store:     store,
	}
}

// Clone produces a branch copy for parallel execution: history, metadata and
// chain data are shallow-copied, the persistence handle is shared, and view
// objects are carried by pointer.
func (c *Context) Clone() *Context {
	clone := &Context{
		Event:          c.Event,
		Task:           c.Task,
		User:           c.User,
		Org:            c.Org,
		ConversationID: c.ConversationID,
		Store:          c.Store,
	}
	if len(c.History) > 0 {
		clone.History = make([]Message, len(c.History))
		copy(clone.History, c.History)
	}
	if len(c.PreviousResults) > 0 {
		clone.PreviousResults = make([]*Result, len(c.PreviousResults))
		copy(clone.PreviousResults, c.PreviousResults)
	}
	clone.ChainData = make(map[string]any, len(c.ChainData))
	for k, v := range c.ChainData {
		clone.ChainData[k] = v
	}
	clone.Metadata = make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		clone.Metadata[k] = v
	}
	return clone
}

// AppendResult records a pipeline stage result so later stages can read it.
func (c *Context) AppendResult(r *Result) {
	if r != nil {
		c.PreviousResults = append(c.PreviousResults, r)
	}
}

// ChainResult returns the most recent previous result produced by the named
// agent, or nil.
func (c *Context) ChainResult(agentName string) *Result {
	for i := len(c.PreviousResults) - 1; i >= 0; i-- {
		if c.PreviousResults[i].AgentName == agentName {
			return c.PreviousResults[i]
		}
	}
	return nil
}

// AddMessage appends a conversation turn.
func (c *Context) AddMessage(role, content string) {
	c.History = append(c.History, Message{Role: role, Content: content, Timestamp: time.Now().UTC()})
}
