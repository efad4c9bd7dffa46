// Package feed keeps the room's message feed. System messages are the
// only way failures reach the user; everything else goes to the log.
package feed

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

const BotAuthor = "Room bot"

type Message struct {
	At     time.Time
	Author string
	Text   string
	System bool
}

type Feed struct {
	mu   sync.RWMutex
	msgs []Message
	subs []func(Message)
	now  func() time.Time
}

func New() *Feed {
	return &Feed{now: time.Now}
}

// Subscribe registers fn for every future message. fn runs on the
// poster's goroutine.
func (f *Feed) Subscribe(fn func(Message)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fn)
}

func (f *Feed) System(text string) {
	f.append(Message{Author: BotAuthor, Text: text, System: true})
}

// Errorf posts a failure notice for the step that failed.
func (f *Feed) Errorf(format string, args ...any) {
	f.System(fmt.Sprintf("Error: %s. Check the log for details.", fmt.Sprintf(format, args...)))
}

func (f *Feed) Post(author, text string) {
	f.append(Message{Author: author, Text: text})
}

func (f *Feed) append(m Message) {
	f.mu.Lock()
	m.At = f.now()
	f.msgs = append(f.msgs, m)
	subs := slices.Clone(f.subs)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(m)
	}
}

func (f *Feed) Messages() []Message {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.msgs)
}

// SystemMessages returns only the bot's messages.
func (f *Feed) SystemMessages() []Message {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Message, 0, len(f.msgs))
	for _, m := range f.msgs {
		if m.System {
			out = append(out, m)
		}
	}
	return out
}
