package models

// Segment is one timestamped span of transcript text. Segments are written
// once, in a single batch, when a job completes.
type Segment struct {
	JobID      string   `json:"job_id,omitempty"`
	Index      int      `json:"index"`
	StartMS    int64    `json:"start_ms"`
	EndMS      int64    `json:"end_ms"`
	Text       string   `json:"text"`
	AvgLogprob *float64 `json:"avg_logprob,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// DurationMS returns end minus start.
func (s Segment) DurationMS() int64 {
	return s.EndMS - s.StartMS
}
