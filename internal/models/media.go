package models

import (
	"fmt"
	"sort"
	"strings"
)

// MediaKind is the category of a message attachment.
type MediaKind string

const (
	MediaNone     MediaKind = "none"
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaAudio    MediaKind = "audio"
	MediaOther    MediaKind = "other"
)

// MediaKinds lists every kind in display order.
var MediaKinds = []MediaKind{MediaPhoto, MediaVideo, MediaDocument, MediaAudio, MediaOther, MediaNone}

// Telegram class names accepted for compatibility with older exclude lists.
// A document class covers every kind a document can turn into.
var legacyKinds = map[string][]MediaKind{
	"nonetype":                {MediaNone},
	"messagemediaempty":       {MediaNone},
	"messagemediaphoto":       {MediaPhoto},
	"messagemediadocument":    {MediaDocument, MediaVideo, MediaAudio},
	"messagemediawebpage":     {MediaOther},
	"messagemediageo":         {MediaOther},
	"messagemediageolive":     {MediaOther},
	"messagemediacontact":     {MediaOther},
	"messagemediapoll":        {MediaOther},
	"messagemediavenue":       {MediaOther},
	"messagemediagame":        {MediaOther},
	"messagemediainvoice":     {MediaOther},
	"messagemediadice":        {MediaOther},
	"messagemediastory":       {MediaOther},
	"messagemediaunsupported": {MediaOther},
}

// ParseMediaKind accepts a kind name in any case or a Telegram media class
// name and returns the kinds it stands for.
func ParseMediaKind(s string) ([]MediaKind, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, k := range MediaKinds {
		if string(k) == key {
			return []MediaKind{k}, nil
		}
	}
	if ks, ok := legacyKinds[key]; ok {
		return ks, nil
	}
	return nil, fmt.Errorf("unknown media kind %q", s)
}

// ParseMediaKinds parses a list of kinds into a set.
func ParseMediaKinds(names []string) (map[MediaKind]bool, error) {
	set := make(map[MediaKind]bool, len(names))
	for _, n := range names {
		ks, err := ParseMediaKind(n)
		if err != nil {
			return nil, err
		}
		for _, k := range ks {
			set[k] = true
		}
	}
	return set, nil
}

// MediaCounts tallies handled attachments per kind.
type MediaCounts map[MediaKind]int

// Merge adds other into c.
func (c MediaCounts) Merge(other MediaCounts) {
	for k, n := range other {
		c[k] += n
	}
}

// Total returns the number of attachments across kinds.
func (c MediaCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// KindCount is one line of a media summary.
type KindCount struct {
	Kind  MediaKind `json:"kind"`
	Count int       `json:"count"`
}

// Sorted returns the non-zero counts ordered by kind name.
func (c MediaCounts) Sorted() []KindCount {
	out := make([]KindCount, 0, len(c))
	for k, n := range c {
		if n > 0 {
			out = append(out, KindCount{Kind: k, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}
