package btrfs

import (
	"fmt"

	"github.com/runningman84/btrfs-backup/pkg/models"
	"github.com/runningman84/btrfs-backup/pkg/parser"
)

// ViolationDeviceErrors is reported when the device error counters are not clean
const ViolationDeviceErrors = "BTRFS volume errors detected"

// EvaluateHealth applies the volume consistency rules to parsed command output.
// Replication profile violations come first in storage class order, followed
// by the device error violation.
func EvaluateHealth(status *models.VolumeStatus, subvolumes *models.SubvolumesReport, devices *models.DeviceReport) (*models.VolumeHealth, error) {
	data, ok := status.Class(models.DataClass)
	if !ok {
		return nil, &parser.ParseError{
			Parser: "volume status",
			Reason: fmt.Sprintf("missing %s storage class", models.DataClass),
		}
	}

	violations := []string{}
	for _, class := range status.Classes {
		if class.Name == models.ReserveClass {
			continue
		}
		if class.ReplicationProfile != models.RequiredProfile {
			violations = append(violations, fmt.Sprintf("%s is not on %s", class.Name, models.RequiredProfile))
		}
	}

	var deviceErrors []models.DeviceStat
	if devices != nil {
		if devices.ErrorsDetected {
			violations = append(violations, ViolationDeviceErrors)
		}
		for _, stat := range devices.Stats {
			if stat.Value != 0 {
				deviceErrors = append(deviceErrors, stat)
			}
		}
	}

	return &models.VolumeHealth{
		Healthy:       len(violations) == 0,
		Violations:    violations,
		SnapshotCount: len(subvolumes.Subvolumes),
		Size: models.VolumeSize{
			TotalBytes:     data.TotalBytes,
			UsedBytes:      data.UsedBytes,
			ExclusiveBytes: subvolumes.ExclusiveBytes,
		},
		DeviceErrors: deviceErrors,
	}, nil
}
