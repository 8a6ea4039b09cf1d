// Package transcript holds pure functions over transcript segments: the
// overall confidence summary and the text/subtitle exports.
package transcript

import "vodscribe/internal/models"

// OverallConfidence returns the duration-weighted mean of segment
// confidences. Segments without a confidence or with a non-positive duration
// do not contribute. It returns nil when nothing contributed.
func OverallConfidence(segments []models.Segment) *float64 {
	var weighted, total float64
	for _, seg := range segments {
		if seg.Confidence == nil {
			continue
		}
		d := seg.DurationMS()
		if d <= 0 {
			continue
		}
		weighted += *seg.Confidence * float64(d)
		total += float64(d)
	}
	if total == 0 {
		return nil
	}
	c := weighted / total
	return &c
}
