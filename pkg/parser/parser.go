package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/runningman84/btrfs-backup/pkg/models"
)

var (
	// Data, RAID1: total=1073741824, used=536870912
	storageClassPattern = regexp.MustCompile(`(?m)^([^,\n]+), ([^:\n]+): total=(\S+), used=(\S+)[ \t]*$`)

	// Total exclusive data   12345
	exclusiveTotalPattern = regexp.MustCompile(`(?m)^Total exclusive data[ \t]+(\S+)[ \t]*$`)

	// <name> <total> <exclusive> <id>
	subvolumePattern = regexp.MustCompile(`(?m)^(\S+)[ \t]+(\d+)[ \t]+(\d+)[ \t]+(\d+)[ \t]*$`)

	// [/dev/sda].write_io_errs    0
	deviceStatPattern = regexp.MustCompile(`(?m)^\[([^\]\n]+)\]\.(\S+)[ \t]+(-?\d+)[ \t]*$`)
)

func normalize(output string) string {
	return strings.ReplaceAll(output, "\r\n", "\n")
}

// ParseVolumeStatus parses `btrfs filesystem df -b` output.
// Storage classes keep the order in which they first appear; a repeated class
// replaces the earlier values.
func ParseVolumeStatus(output string) (*models.VolumeStatus, error) {
	const name = "volume status"

	output = normalize(output)
	matches := storageClassPattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return nil, newParseError(name, "no storage class lines found", output)
	}

	status := &models.VolumeStatus{}
	index := make(map[string]int)
	for _, m := range matches {
		class := strings.TrimSpace(m[1])
		total, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil {
			return nil, newParseError(name, fmt.Sprintf("invalid total %q for %s", m[3], class), output)
		}
		used, err := strconv.ParseInt(m[4], 10, 64)
		if err != nil {
			return nil, newParseError(name, fmt.Sprintf("invalid used %q for %s", m[4], class), output)
		}

		usage := &models.StorageClassUsage{
			Name:               class,
			ReplicationProfile: strings.TrimSpace(m[2]),
			TotalBytes:         total,
			UsedBytes:          used,
		}
		if i, ok := index[class]; ok {
			status.Classes[i] = usage
			continue
		}
		index[class] = len(status.Classes)
		status.Classes = append(status.Classes, usage)
	}

	return status, nil
}

// ParseSubvolumesReport parses `btrfs-du -b` output
func ParseSubvolumesReport(output string) (*models.SubvolumesReport, error) {
	const name = "subvolume usage"

	output = normalize(output)
	header := exclusiveTotalPattern.FindStringSubmatch(output)
	if header == nil {
		return nil, newParseError(name, "missing 'Total exclusive data' line", output)
	}
	exclusive, err := strconv.ParseInt(header[1], 10, 64)
	if err != nil {
		return nil, newParseError(name, fmt.Sprintf("invalid exclusive total %q", header[1]), output)
	}

	report := &models.SubvolumesReport{
		ExclusiveBytes: exclusive,
		Subvolumes:     make(map[string]*models.SubvolumeUsage),
	}
	for _, m := range subvolumePattern.FindAllStringSubmatch(output, -1) {
		// digits only, ParseInt can only fail on overflow
		total, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return nil, newParseError(name, fmt.Sprintf("invalid total %q for %s", m[2], m[1]), output)
		}
		excl, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil {
			return nil, newParseError(name, fmt.Sprintf("invalid exclusive %q for %s", m[3], m[1]), output)
		}
		report.Subvolumes[m[1]] = &models.SubvolumeUsage{
			Name:           m[1],
			TotalBytes:     total,
			ExclusiveBytes: excl,
		}
	}

	return report, nil
}

// ParseDeviceStats parses `btrfs device stats` output
func ParseDeviceStats(output string) ([]models.DeviceStat, error) {
	const name = "device stats"

	output = normalize(output)
	matches := deviceStatPattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return nil, newParseError(name, "no device counters found", output)
	}

	stats := make([]models.DeviceStat, 0, len(matches))
	for _, m := range matches {
		value, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil {
			return nil, newParseError(name, fmt.Sprintf("invalid value %q for %s.%s", m[3], m[1], m[2]), output)
		}
		stats = append(stats, models.DeviceStat{Device: m[1], Counter: m[2], Value: value})
	}

	return stats, nil
}
