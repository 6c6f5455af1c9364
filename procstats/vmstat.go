// Package procstats samples guest memory counters from the kernel's proc
// interface and the sysinfo call, in the form a balloon device's statistics
// queue reports them.
package procstats

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// vmStatCounters are the cumulative event counters the balloon reports,
// taken from /proc/vmstat. The fault counter deliberately includes major
// faults, matching what the host expects in the minor-fault slot.
type vmStatCounters struct {
	swappedIn   uint64
	swappedOut  uint64
	faults      uint64
	majorFaults uint64
}

func parseVMStat(reader io.Reader) (vmStatCounters, error) {
	var counters vmStatCounters

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		name, valueText, found := strings.Cut(scanner.Text(), " ")
		if !found {
			continue
		}

		var target *uint64
		switch name {
		case "pswpin":
			target = &counters.swappedIn
		case "pswpout":
			target = &counters.swappedOut
		case "pgfault":
			target = &counters.faults
		case "pgmajfault":
			target = &counters.majorFaults
		default:
			continue
		}

		value, err := strconv.ParseUint(valueText, 10, 64)
		if err != nil {
			return vmStatCounters{}, errors.Wrapf(err, "the vmstat field %s is malformed", name)
		}
		*target = value
	}

	return counters, errors.Wrap(scanner.Err(), "failed to read vmstat")
}
