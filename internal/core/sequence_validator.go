package core

import (
	"fmt"
	"sort"
)

// FeedSequenceValidator orders oracle updates per feed by publish time.
// Equal timestamps are accepted (a feed may republish the same second);
// earlier ones are rejected so a delayed message can never roll a price back.
// Not thread-safe; only accessed from the single-threaded deterministic core.
type FeedSequenceValidator struct {
	lastPublish map[string]int64 // feed -> last accepted publish time
}

func NewFeedSequenceValidator() *FeedSequenceValidator {
	return &FeedSequenceValidator{
		lastPublish: make(map[string]int64),
	}
}

// Check validates publishTime against the feed's last accepted update
// without recording it.
func (v *FeedSequenceValidator) Check(feedID string, publishTime int64) error {
	last, seen := v.lastPublish[feedID]
	if seen && publishTime < last {
		return fmt.Errorf("out-of-order oracle update: feed=%s, last=%d, got=%d",
			feedID, last, publishTime)
	}
	return nil
}

// Advance records an accepted update.
func (v *FeedSequenceValidator) Advance(feedID string, publishTime int64) {
	if last, seen := v.lastPublish[feedID]; !seen || publishTime > last {
		v.lastPublish[feedID] = publishTime
	}
}

// RestoreFeed initializes a feed's watermark (used during recovery)
func (v *FeedSequenceValidator) RestoreFeed(feedID string, publishTime int64) {
	v.lastPublish[feedID] = publishTime
}

// GetAllFeeds returns a copy of every watermark.
func (v *FeedSequenceValidator) GetAllFeeds() map[string]int64 {
	out := make(map[string]int64, len(v.lastPublish))
	for k, ts := range v.lastPublish {
		out[k] = ts
	}
	return out
}

// Feeds lists tracked feeds in order.
func (v *FeedSequenceValidator) Feeds() []string {
	out := make([]string, 0, len(v.lastPublish))
	for k := range v.lastPublish {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
