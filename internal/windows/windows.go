// Package windows run-length encodes per-sample flags into contiguous index
// ranges and composes the review bands painted over a timeline.
package windows

// Window is an inclusive range of timeline indices
type Window struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Len returns the number of indices covered
func (w Window) Len() int {
	return w.To - w.From + 1
}

// Contains reports whether index i falls inside the window
func (w Window) Contains(i int) bool {
	return w.From <= i && i <= w.To
}

// Build returns the maximal runs of true values in flags, in index order
func Build(flags []bool) []Window {
	out := []Window{}
	for i := 0; i < len(flags); i++ {
		if !flags[i] {
			continue
		}
		j := i
		for j+1 < len(flags) && flags[j+1] {
			j++
		}
		out = append(out, Window{From: i, To: j})
		i = j
	}
	return out
}

// Flags expands windows back into a boolean slice of length n. Indices
// outside [0,n) are ignored.
func Flags(n int, ws []Window) []bool {
	flags := make([]bool, n)
	for _, w := range ws {
		for i := max(w.From, 0); i <= w.To && i < n; i++ {
			flags[i] = true
		}
	}
	return flags
}
