package job

// Result tallies identifier outcomes for a run.
type Result struct {
	Succeeded int
	Failed    int
}

// Success counts one outcome.
func (r *Result) Success(ok bool) {
	if ok {
		r.Succeeded++
	} else {
		r.Failed++
	}
}

// Combine adds another tally into r.
func (r *Result) Combine(other Result) {
	r.Succeeded += other.Succeeded
	r.Failed += other.Failed
}

// Total is the number of outcomes counted.
func (r Result) Total() int {
	return r.Succeeded + r.Failed
}

// PercentSucceeded returns the success rate, or 0 when nothing was counted.
func (r Result) PercentSucceeded() float64 {
	if r.Total() == 0 {
		return 0
	}
	return float64(r.Succeeded) / float64(r.Total()) * 100
}
