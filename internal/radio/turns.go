package radio

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who spoke a turn.
type Role string

const (
	// RoleUser is the operator, by voice or typed command.
	RoleUser Role = "user"

	// RoleAssistant is the AI side of the link.
	RoleAssistant Role = "assistant"
)

// Turn is one finalized utterance in the conversation history. Turns are
// immutable once created.
type Turn struct {
	ID        uuid.UUID `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Reconciler folds streamed transcript events into a stable, de-duplicated
// history while exposing the in-progress text of the current turn.
//
// Operator transcripts arrive as full replacements, assistant transcripts as
// deltas, and the two streams interleave freely. A turn-complete event
// flushes both accumulators; an interruption discards only the assistant's.
type Reconciler struct {
	now func() time.Time

	mu      sync.Mutex
	input   string
	output  strings.Builder
	history []Turn
}

// NewReconciler returns an empty reconciler. now may be nil to use
// [time.Now].
func NewReconciler(now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{now: now}
}

// OperatorText replaces the operator accumulator with text.
func (r *Reconciler) OperatorText(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.input = text
}

// AssistantDelta appends text to the assistant accumulator.
func (r *Reconciler) AssistantDelta(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output.WriteString(text)
}

// TurnComplete finalizes both accumulators, operator first, and clears them.
// It returns the turns that were appended to the history.
func (r *Reconciler) TurnComplete() []Turn {
	r.mu.Lock()
	defer r.mu.Unlock()

	var added []Turn
	if t, ok := r.appendLocked(RoleUser, r.input); ok {
		added = append(added, t)
	}
	if t, ok := r.appendLocked(RoleAssistant, r.output.String()); ok {
		added = append(added, t)
	}
	r.input = ""
	r.output.Reset()
	return added
}

// Interrupt discards the assistant's in-progress text.
func (r *Reconciler) Interrupt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output.Reset()
}

// ClearLive discards both accumulators without finalizing them.
func (r *Reconciler) ClearLive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.input = ""
	r.output.Reset()
}

// Record appends a turn directly, as for a typed command. It reports false
// if content is blank or repeats the last turn.
func (r *Reconciler) Record(role Role, content string) (Turn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appendLocked(role, content)
}

// appendLocked appends a turn unless content is blank or the last history
// entry has the same role and content.
func (r *Reconciler) appendLocked(role Role, content string) (Turn, bool) {
	if strings.TrimSpace(content) == "" {
		return Turn{}, false
	}
	if n := len(r.history); n > 0 {
		last := r.history[n-1]
		if last.Role == role && last.Content == content {
			return Turn{}, false
		}
	}
	t := Turn{
		ID:        uuid.New(),
		Role:      role,
		Content:   content,
		Timestamp: r.now(),
	}
	r.history = append(r.history, t)
	return t, true
}

// Live returns the in-progress operator and assistant text.
func (r *Reconciler) Live() (input, output string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.input, r.output.String()
}

// History returns a copy of the finalized turns in order.
func (r *Reconciler) History() []Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Turn(nil), r.history...)
}

// Restore replaces the history, e.g. with turns loaded from an archive.
func (r *Reconciler) Restore(turns []Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append([]Turn(nil), turns...)
}

// ClearHistory drops every finalized turn.
func (r *Reconciler) ClearHistory() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = nil
}
