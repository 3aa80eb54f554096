package nn

import (
	"fmt"
	"strings"
)

const (
	DefaultFoundTemplate   = "There is a %s ahead."
	DefaultNothingSentence = "There is nothing ahead."
)

// Candidate is an instance that competed for "most prominent object"
type Candidate struct {
	Label      string  `json:"label"`
	Prominence float64 `json:"prominence"`
}

// SelectProminent returns the instance with the largest prominence (width + height, in
// normalized units). When several instances share the maximum, the first one
// encountered wins. Returns false if there are no instances at all.
func SelectProminent(detections []Detection) (Candidate, bool) {
	best := Candidate{}
	found := false
	for _, inst := range Instances(detections) {
		p := inst.Box.Prominence()
		if !found || p > best.Prominence {
			best = Candidate{Label: inst.Label, Prominence: p}
			found = true
		}
	}
	return best, found
}

// Announcer turns detections into the sentence that gets read out to the user
type Announcer struct {
	FoundTemplate   string // Must contain a single %s, which is replaced by the label
	NothingSentence string
}

func NewAnnouncer(foundTemplate, nothingSentence string) *Announcer {
	if foundTemplate == "" || !strings.Contains(foundTemplate, "%s") {
		foundTemplate = DefaultFoundTemplate
	}
	if nothingSentence == "" {
		nothingSentence = DefaultNothingSentence
	}
	return &Announcer{
		FoundTemplate:   foundTemplate,
		NothingSentence: nothingSentence,
	}
}

// Announcement is the result of Announce
type Announcement struct {
	Sentence  string    `json:"sentence"`
	Found     bool      `json:"found"`
	Candidate Candidate `json:"candidate"`
}

func (a *Announcer) Announce(detections []Detection) Announcement {
	c, ok := SelectProminent(detections)
	if !ok {
		return Announcement{Sentence: a.NothingSentence}
	}
	return Announcement{
		Sentence:  fmt.Sprintf(a.FoundTemplate, c.Label),
		Found:     true,
		Candidate: c,
	}
}

// Sentence is shorthand for Announce(detections).Sentence
func (a *Announcer) Sentence(detections []Detection) string {
	return a.Announce(detections).Sentence
}
