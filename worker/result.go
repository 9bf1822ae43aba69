package worker

// RunResult is the structured outcome of one worker invocation, returned by
// the manual trigger endpoints and logged by the ticker loops. No failure is
// silently dropped: every skip carries a reason string.
type RunResult struct {
	CreatedOrSentCount int      `json:"created_or_sent_count"`
	SkippedCount       int      `json:"skipped_count"`
	SkipReasons        []string `json:"skip_reasons,omitempty"`
}

func (r *RunResult) skip(reason string) {
	r.SkippedCount++
	r.SkipReasons = append(r.SkipReasons, reason)
}
