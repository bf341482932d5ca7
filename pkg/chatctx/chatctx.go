// Package chatctx implements the chat-context data model: an ordered,
// id-indexed sequence of chat items shared by the reply pipeline, the
// tool executor, and the session's transcript mirror.
package chatctx

import (
	"time"

	"github.com/google/uuid"
)

// ItemType discriminates the three ChatItem variants. Modeled as a tagged
// union rather than a class hierarchy: callers switch on Type and read
// only the fields that apply.
type ItemType string

const (
	ItemMessage            ItemType = "message"
	ItemFunctionCall       ItemType = "function_call"
	ItemFunctionCallOutput ItemType = "function_call_output"
)

// Role enumerates the roles a Message item may carry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentPartType discriminates the pieces of a Message's content sequence.
type ContentPartType string

const (
	ContentText  ContentPartType = "text"
	ContentImage ContentPartType = "image"
	ContentAudio ContentPartType = "audio"
)

// ContentPart is one element of a Message's ordered content sequence.
type ContentPart struct {
	Type ContentPartType
	Text string // valid when Type == ContentText

	ImageURL   string // valid when Type == ContentImage
	ImageBytes []byte // alternative inline representation

	AudioFrames int // sample count reference, valid when Type == ContentAudio
}

// Item is one entry in a ChatContext. Exactly the fields relevant to Type
// are meaningful; the rest are zero.
type Item struct {
	ID        string
	Type      ItemType
	CreatedAt time.Time

	// Message fields.
	Role        Role
	Content     []ContentPart
	Interrupted bool

	// FunctionCall fields.
	CallID string
	Name   string
	Args   string // JSON-encoded

	// FunctionCallOutput fields.
	Output  string
	IsError bool
}

// NewID mints a chat-item id.
func NewID() string { return uuid.NewString() }

// Text concatenates the text parts of a Message item, ignoring images/audio.
func (it Item) Text() string {
	var out string
	for _, p := range it.Content {
		if p.Type == ContentText {
			out += p.Text
		}
	}
	return out
}

// Equivalent reports whether two items are semantically equal: same type,
// same ids, and same role/content or name/args/isError/output — timestamps
// are ignored.
func (it Item) Equivalent(other Item) bool {
	if it.ID != other.ID || it.Type != other.Type {
		return false
	}
	switch it.Type {
	case ItemMessage:
		if it.Role != other.Role || it.Interrupted != other.Interrupted {
			return false
		}
		if len(it.Content) != len(other.Content) {
			return false
		}
		for i := range it.Content {
			if it.Content[i] != other.Content[i] {
				return false
			}
		}
		return true
	case ItemFunctionCall:
		return it.CallID == other.CallID && it.Name == other.Name && it.Args == other.Args
	case ItemFunctionCallOutput:
		return it.CallID == other.CallID && it.Name == other.Name &&
			it.Output == other.Output && it.IsError == other.IsError
	default:
		return false
	}
}

// ChatContext is a mutable, ordered sequence of chat items sharing one
// monotonic timeline. The zero value is an empty context.
type ChatContext struct {
	items []Item
}

// New returns an empty chat context.
func New() *ChatContext { return &ChatContext{} }

// Items returns a snapshot slice of the items in order. Mutating the
// returned slice does not affect the context.
func (c *ChatContext) Items() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of items.
func (c *ChatContext) Len() int { return len(c.items) }

// AppendMessage appends a Message item and returns it.
func (c *ChatContext) AppendMessage(role Role, content []ContentPart, interrupted bool) Item {
	it := Item{
		ID:          NewID(),
		Type:        ItemMessage,
		CreatedAt:   time.Now(),
		Role:        role,
		Content:     content,
		Interrupted: interrupted,
	}
	c.items = append(c.items, it)
	return it
}

// AppendText is a convenience wrapper appending a single-text-part message.
func (c *ChatContext) AppendText(role Role, text string, interrupted bool) Item {
	return c.AppendMessage(role, []ContentPart{{Type: ContentText, Text: text}}, interrupted)
}

// AppendFunctionCall appends a FunctionCall item. Panics if callID is empty
// — this is a programming error, not a runtime condition a caller recovers
// from.
func (c *ChatContext) AppendFunctionCall(callID, name, args string) Item {
	if callID == "" {
		panic("chatctx: function call requires a non-empty callID")
	}
	it := Item{
		ID:        NewID(),
		Type:      ItemFunctionCall,
		CreatedAt: time.Now(),
		CallID:    callID,
		Name:      name,
		Args:      args,
	}
	c.items = append(c.items, it)
	return it
}

// AppendFunctionCallOutput appends a FunctionCallOutput item. Panics if no
// preceding FunctionCall with the same callID exists in this context.
func (c *ChatContext) AppendFunctionCallOutput(callID, name, output string, isError bool) Item {
	if !c.hasPriorCall(callID) {
		panic("chatctx: function call output references unknown callID " + callID)
	}
	it := Item{
		ID:        NewID(),
		Type:      ItemFunctionCallOutput,
		CreatedAt: time.Now(),
		CallID:    callID,
		Name:      name,
		Output:    output,
		IsError:   isError,
	}
	c.items = append(c.items, it)
	return it
}

func (c *ChatContext) hasPriorCall(callID string) bool {
	for _, it := range c.items {
		if it.Type == ItemFunctionCall && it.CallID == callID {
			return true
		}
	}
	return false
}

// AppendRaw appends an already-constructed item verbatim, rejecting
// duplicate ids.
func (c *ChatContext) AppendRaw(it Item) error {
	for _, existing := range c.items {
		if existing.ID == it.ID {
			return ErrDuplicateID
		}
	}
	c.items = append(c.items, it)
	return nil
}

// Copy returns an independent mutable copy of the item list for a caller
// that needs to append without mutating the shared original. Items are
// copied by value; their Content slices are shared with the original.
func (c *ChatContext) Copy() *ChatContext {
	cp := &ChatContext{items: make([]Item, len(c.items))}
	copy(cp.items, c.items)
	return cp
}

// Readonly wraps the context in a read-only view: a distinct type with no
// mutating methods, rather than a runtime trap that panics on mutation.
func (c *ChatContext) Readonly() *ReadonlyView {
	return &ReadonlyView{ctx: c}
}

// Equivalent reports whether two contexts have the same length and
// pairwise-equivalent items, ignoring timestamps.
func (c *ChatContext) Equivalent(other *ChatContext) bool {
	if len(c.items) != len(other.items) {
		return false
	}
	for i := range c.items {
		if !c.items[i].Equivalent(other.items[i]) {
			return false
		}
	}
	return true
}

// ReadonlyView exposes Items()/Len() but offers no mutating methods. Callers
// needing to edit must call the owning ChatContext's Copy().
type ReadonlyView struct {
	ctx *ChatContext
}

// Items returns a snapshot of the underlying context's items.
func (v *ReadonlyView) Items() []Item { return v.ctx.Items() }

// Len returns the number of items in the underlying context.
func (v *ReadonlyView) Len() int { return v.ctx.Len() }
