//go:build linux

package procstats

import (
	"context"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/guestmem/balloon"
	"github.com/guestmem/balloon/memwire"
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

const vmStatPath = "/proc/vmstat"

// Source reads the running kernel's memory counters. Pass it as the
// StatsSource when creating a balloon device on a Linux guest.
type Source struct {
	logger   *slog.Logger
	pageSize uint64
	fs       procfs.FS
}

var _ balloon.StatsSource = &Source{}

// New creates a Source reporting in units of the given page size, which must
// match the page size of the balloon device it feeds
func New(logger *slog.Logger, pageSize uint64) (*Source, error) {
	err := memwire.CheckPow2(pageSize, "guest page size")
	if err != nil {
		return nil, err
	}

	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open the proc filesystem")
	}

	logger.LogAttrs(context.Background(), slog.LevelDebug, "created proc statistics source",
		slog.Uint64("pageSize", pageSize))

	return &Source{
		logger:   logger,
		pageSize: pageSize,
		fs:       fs,
	}, nil
}

func (s *Source) Sample() (balloon.MemorySample, error) {
	var info unix.Sysinfo_t
	err := unix.Sysinfo(&info)
	if err != nil {
		return balloon.MemorySample{}, errors.Wrap(err, "the sysinfo call failed")
	}

	unit := uint64(info.Unit)
	totalPages := uint64(info.Totalram) * unit / s.pageSize
	freePages := uint64(info.Freeram) * unit / s.pageSize

	// MemAvailable is the kernel's estimate of allocatable memory; kernels
	// too old to report it get the plain free count instead
	availablePages := freePages
	meminfo, err := s.fs.Meminfo()
	if err != nil {
		return balloon.MemorySample{}, errors.Wrap(err, "failed to read meminfo")
	}
	if meminfo.MemAvailable != nil {
		availablePages = *meminfo.MemAvailable * 1024 / s.pageSize
	}

	counters, err := s.readVMStat()
	if err != nil {
		return balloon.MemorySample{}, err
	}

	return balloon.MemorySample{
		SwappedInPages:  counters.swappedIn,
		SwappedOutPages: counters.swappedOut,
		MajorFaults:     counters.majorFaults,
		MinorFaults:     counters.faults,
		FreePages:       freePages,
		TotalPages:      totalPages,
		AvailablePages:  availablePages,
	}, nil
}

func (s *Source) readVMStat() (vmStatCounters, error) {
	file, err := os.Open(vmStatPath)
	if err != nil {
		return vmStatCounters{}, errors.Wrap(err, "failed to open vmstat")
	}
	defer file.Close()

	return parseVMStat(file)
}
