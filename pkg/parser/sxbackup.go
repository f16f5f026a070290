package parser

import (
	"regexp"
	"strings"

	"github.com/runningman84/btrfs-backup/pkg/models"
)

var (
	// "   Key  value" with optional continuation lines indented by exactly 26 spaces
	jobFieldPattern = regexp.MustCompile(`(?m)^ {3}(\S.*?) {2,}(\S.*(?:\n {26}\S.*)*)$`)

	continuationPattern = regexp.MustCompile(`(?m)^ {26}`)

	createdPattern = regexp.MustCompile(`(\S+) created successfully`)
)

// ParseJobStatus parses `btrfs-sxbackup info` output.
// The boolean is false when the output reports an error, which is how the
// tool answers for a job that has not been initialised yet.
func ParseJobStatus(output string) (models.JobStatus, bool) {
	output = normalize(output)
	if strings.Contains(output, "ERROR") {
		return nil, false
	}

	status := make(models.JobStatus)
	for _, m := range jobFieldPattern.FindAllStringSubmatch(output, -1) {
		value := continuationPattern.ReplaceAllString(m[2], "")
		status[m[1]] = strings.TrimRight(value, " \t")
	}

	return status, true
}

// ParseCreatedSubvolume extracts the name of the subvolume a
// `btrfs-sxbackup run` reports as created
func ParseCreatedSubvolume(output string) (string, error) {
	m := createdPattern.FindStringSubmatch(output)
	if m == nil {
		return "", newParseError("run output", "missing success result", output)
	}
	return m[1], nil
}
