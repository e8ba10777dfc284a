package emotion

import (
	"sort"
	"strings"
)

// Channel names one independent source of an emotion estimate.
type Channel string

const (
	ChannelText   Channel = "text"
	ChannelSpeech Channel = "speech"
	ChannelFacial Channel = "facial"
)

// Channels lists every channel in precedence order: what is said, how it is said, how it looks.
var Channels = []Channel{ChannelText, ChannelSpeech, ChannelFacial}

// Sentinel labels stand in for a failed or unavailable channel.
const (
	Unknown = "unknown"
	Neutral = "neutral"
)

// Observation maps channel names to the raw labels they reported for one turn.
// Labels are an open vocabulary; never assume they match a fixed set.
type Observation map[Channel]string

// IsSentinel reports whether label carries no emotional information.
// The facial provider reports "error" when a frame could not be analysed.
func IsSentinel(label string) bool {
	switch normalize(label) {
	case "", Unknown, Neutral, "error", "none", "n/a":
		return true
	default:
		return false
	}
}

// Clone returns an independent copy of the observation.
func (o Observation) Clone() Observation {
	if o == nil {
		return nil
	}
	out := make(Observation, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Informative returns the channels holding non-sentinel labels, in precedence order.
func (o Observation) Informative() []Channel {
	var out []Channel
	for _, ch := range o.ordered() {
		if !IsSentinel(o[ch]) {
			out = append(out, ch)
		}
	}
	return out
}

// FirstInformative returns the first non-sentinel label in precedence order.
func (o Observation) FirstInformative() (string, bool) {
	informative := o.Informative()
	if len(informative) == 0 {
		return "", false
	}
	return strings.TrimSpace(o[informative[0]]), true
}

// String renders the observation deterministically, e.g. "text=angry, facial=happy".
func (o Observation) String() string {
	parts := make([]string, 0, len(o))
	for _, ch := range o.ordered() {
		parts = append(parts, string(ch)+"="+strings.TrimSpace(o[ch]))
	}
	return strings.Join(parts, ", ")
}

// Valid reports whether the key set is a non-empty subset of the known channels.
func (o Observation) Valid() bool {
	if len(o) == 0 || len(o) > len(Channels) {
		return false
	}
	for ch := range o {
		if !knownChannel(ch) {
			return false
		}
	}
	return true
}

// ordered yields known channels first in precedence order, then any others sorted by name.
func (o Observation) ordered() []Channel {
	out := make([]Channel, 0, len(o))
	for _, ch := range Channels {
		if _, ok := o[ch]; ok {
			out = append(out, ch)
		}
	}
	var extra []Channel
	for ch := range o {
		if !knownChannel(ch) {
			extra = append(extra, ch)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

func knownChannel(ch Channel) bool {
	for _, known := range Channels {
		if ch == known {
			return true
		}
	}
	return false
}

// KnowledgeKeys is the fixed vocabulary topical knowledge is filed under, in match order.
var KnowledgeKeys = []string{"angry", "sad", "happy", "fearful", "surprised", "neutral"}

// KnowledgeKey maps a raw label to the first knowledge key it contains,
// so "happy (facial)" becomes "happy" and "5-star sentiment" falls back to "neutral".
func KnowledgeKey(label string) string {
	normalized := normalize(label)
	for _, key := range KnowledgeKeys {
		if strings.Contains(normalized, key) {
			return key
		}
	}
	return Neutral
}

func normalize(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
