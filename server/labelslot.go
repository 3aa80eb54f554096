package server

import "sync"

// LabelSlot holds the most recent announcement made by any analyze call.
// It exists only for clients that call the speech endpoint without an analysis ID.
// Concurrent clients can still hear each other's announcements, which is why it's opt-in.
type LabelSlot struct {
	lock       sync.Mutex
	analysisID int64
	sentence   string
	set        bool
}

func (l *LabelSlot) Set(analysisID int64, sentence string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.analysisID = analysisID
	l.sentence = sentence
	l.set = true
}

// Get returns false if nothing has been analyzed yet
func (l *LabelSlot) Get() (analysisID int64, sentence string, ok bool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.analysisID, l.sentence, l.set
}
