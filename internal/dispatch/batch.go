package dispatch

import "heraldbot/internal/transport"

// Partition splits recipients into ceil(n/size) ordered batches. Every
// batch has exactly size entries except possibly the last, each
// recipient appears exactly once, and the original order is preserved.
// A non-positive size yields a single batch.
//
// Batches alias the input slice; callers must not mutate recipients
// while a job is running.
func Partition(recipients []transport.Recipient, size int) [][]transport.Recipient {
	if len(recipients) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(recipients)
	}
	out := make([][]transport.Recipient, 0, (len(recipients)+size-1)/size)
	for start := 0; start < len(recipients); start += size {
		end := start + size
		if end > len(recipients) {
			end = len(recipients)
		}
		out = append(out, recipients[start:end])
	}
	return out
}
