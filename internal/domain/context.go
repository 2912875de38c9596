package domain

// ThreadMemoryLimit is the number of prior messages kept per conversation.
const ThreadMemoryLimit = 5

// Context holds the most recent message and a bounded window of earlier ones.
type Context struct {
	Current      *Message  `json:"current_message,omitempty"`
	ThreadMemory []Message `json:"thread_memory"`
}

// NewContext returns a context whose current message is msg.
func NewContext(msg Message) Context {
	return Context{Current: &msg, ThreadMemory: []Message{}}
}

// Fold pushes the current message into thread memory and makes msg current.
// Thread memory keeps only the most recent ThreadMemoryLimit entries.
func (c *Context) Fold(msg Message) {
	if c.Current != nil {
		c.ThreadMemory = append(c.ThreadMemory, *c.Current)
		if over := len(c.ThreadMemory) - ThreadMemoryLimit; over > 0 {
			c.ThreadMemory = append([]Message(nil), c.ThreadMemory[over:]...)
		}
	}
	c.Current = &msg
}

// Dialogue returns thread memory followed by the current message, oldest first.
func (c Context) Dialogue() []Message {
	out := make([]Message, 0, len(c.ThreadMemory)+1)
	out = append(out, c.ThreadMemory...)
	if c.Current != nil {
		out = append(out, *c.Current)
	}
	return out
}

// Clone returns a deep copy that shares no memory with c.
func (c Context) Clone() Context {
	out := Context{ThreadMemory: make([]Message, len(c.ThreadMemory))}
	copy(out.ThreadMemory, c.ThreadMemory)
	if c.Current != nil {
		cur := *c.Current
		out.Current = &cur
	}
	return out
}
