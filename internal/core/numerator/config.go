package numerator

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SeqWidth is the zero-padded width of the daily sequence.
const SeqWidth = 3

// DayPrefix returns the "{plantCode}-{YYMMDD}" part shared by all numbers of one day.
func DayPrefix(plantCode string, day time.Time) string {
	return fmt.Sprintf("%s-%s", plantCode, day.Format("060102"))
}

// Format builds the full order number.
func Format(plantCode string, day time.Time, seq int64) string {
	return fmt.Sprintf("%s-%0*d", DayPrefix(plantCode, day), SeqWidth, seq)
}

// ParseSeq extracts the numeric suffix that follows prefix+"-".
// Returns -1 when number does not belong to prefix or the suffix is not numeric.
func ParseSeq(number, prefix string) int64 {
	rest, ok := strings.CutPrefix(number, prefix+"-")
	if !ok || rest == "" {
		return -1
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// NextFromExisting returns max(suffix)+1 over numbers sharing prefix, or 1 if none.
func NextFromExisting(prefix string, existing []string) int64 {
	var maxSeq int64
	for _, n := range existing {
		if seq := ParseSeq(n, prefix); seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq + 1
}
