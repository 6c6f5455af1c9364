package procstats

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseVMStat(t *testing.T) {
	input := strings.Join([]string{
		"nr_free_pages 81771",
		"nr_zone_inactive_anon 10967",
		"pswpin 17",
		"pswpout 23",
		"pgpgin 429355",
		"pgfault 1093534",
		"pgmajfault 1529",
		"pgrotated 0",
	}, "\n")

	counters, err := parseVMStat(strings.NewReader(input))
	require.NoError(t, err)

	require.Equal(t, uint64(17), counters.swappedIn)
	require.Equal(t, uint64(23), counters.swappedOut)
	require.Equal(t, uint64(1093534), counters.faults)
	require.Equal(t, uint64(1529), counters.majorFaults)
}

func TestParseVMStatMissingFields(t *testing.T) {
	counters, err := parseVMStat(strings.NewReader("nr_free_pages 81771\n"))
	require.NoError(t, err)
	require.Zero(t, counters.swappedIn)
	require.Zero(t, counters.faults)
}

func TestParseVMStatMalformed(t *testing.T) {
	_, err := parseVMStat(strings.NewReader("pgfault notanumber\n"))
	require.Error(t, err)
}
