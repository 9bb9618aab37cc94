// Package timeline turns timed transcript entries into segments, reconciles
// synthesized speech against the original timing and assembles the clips
// into one continuous track.
package timeline

import "strings"

// TranscriptEntry is one timed span from the upstream transcription source.
type TranscriptEntry struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// End returns Start+Duration.
func (e TranscriptEntry) End() float64 {
	return e.Start + e.Duration
}

// Segment is a timed, semantically bounded span of text.
// Duration is always derived from EndTime-StartTime.
type Segment struct {
	Text          string            `json:"text"`
	StartTime     float64           `json:"start_time"`
	EndTime       float64           `json:"end_time"`
	Duration      float64           `json:"duration"`
	SourceEntries []TranscriptEntry `json:"source_entries,omitempty"`
}

// NewSegment builds a segment, clamping end to start when the inputs are inverted.
func NewSegment(text string, start, end float64, entries []TranscriptEntry) Segment {
	s := Segment{Text: text, StartTime: start, EndTime: end, SourceEntries: entries}
	s.Normalize()
	return s
}

// Normalize enforces start>=0, end>=start and recomputes Duration.
func (s *Segment) Normalize() {
	if s.StartTime < 0 {
		s.StartTime = 0
	}
	if s.EndTime < s.StartTime {
		s.EndTime = s.StartTime
	}
	s.Duration = s.EndTime - s.StartTime
}

// AudioClip is a synthesized or generated audio file placed on the timeline.
type AudioClip struct {
	Path           string  `json:"path"`
	TargetDuration float64 `json:"target_duration"`
	ActualDuration float64 `json:"actual_duration"`
	SpeedRatio     float64 `json:"speed_ratio"`
	Adjusted       bool    `json:"adjusted"`
	// Silence marks a filler with no source text.
	Silence bool `json:"silence,omitempty"`
}

// Ratio returns actual/target, or 1 when the target is unknown.
func (c AudioClip) Ratio() float64 {
	if c.TargetDuration <= 0 || c.ActualDuration <= 0 {
		return 1
	}
	return c.ActualDuration / c.TargetDuration
}

// TimedClip pairs a segment with the audio synthesized for it.
type TimedClip struct {
	Segment Segment   `json:"segment"`
	Clip    AudioClip `json:"clip"`
}

// Validate checks that segments are ordered and never overlap.
func Validate(segments []Segment) bool {
	for i := 0; i+1 < len(segments); i++ {
		if segments[i].EndTime > segments[i+1].StartTime+1e-9 {
			return false
		}
		if segments[i].StartTime > segments[i+1].StartTime {
			return false
		}
	}
	return true
}

func joinText(entries []TranscriptEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if t := strings.TrimSpace(e.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
