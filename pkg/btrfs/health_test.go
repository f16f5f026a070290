package btrfs

import (
	"errors"
	"reflect"
	"testing"

	"github.com/runningman84/btrfs-backup/pkg/models"
	"github.com/runningman84/btrfs-backup/pkg/parser"
)

func volumeStatus(classes ...*models.StorageClassUsage) *models.VolumeStatus {
	return &models.VolumeStatus{Classes: classes}
}

func class(name, profile string, total, used int64) *models.StorageClassUsage {
	return &models.StorageClassUsage{Name: name, ReplicationProfile: profile, TotalBytes: total, UsedBytes: used}
}

func subvolumes(exclusive int64, names ...string) *models.SubvolumesReport {
	report := &models.SubvolumesReport{ExclusiveBytes: exclusive, Subvolumes: map[string]*models.SubvolumeUsage{}}
	for _, name := range names {
		report.Subvolumes[name] = &models.SubvolumeUsage{Name: name}
	}
	return report
}

func TestEvaluateHealth_Healthy(t *testing.T) {
	status := volumeStatus(
		class("Data", "RAID1", 100, 50),
		class("Metadata", "RAID1", 10, 5),
		class("System", "RAID1", 8, 1),
		class("GlobalReserve", "single", 3, 0),
	)

	health, err := EvaluateHealth(status, subvolumes(12345, "vol1", "vol2"), &models.DeviceReport{})
	if err != nil {
		t.Fatalf("EvaluateHealth() error = %v", err)
	}

	if !health.Healthy {
		t.Errorf("Healthy = false, violations: %v", health.Violations)
	}
	if len(health.Violations) != 0 {
		t.Errorf("Violations = %v, want none", health.Violations)
	}
	if health.SnapshotCount != 2 {
		t.Errorf("SnapshotCount = %d, want 2", health.SnapshotCount)
	}
	want := models.VolumeSize{TotalBytes: 100, UsedBytes: 50, ExclusiveBytes: 12345}
	if health.Size != want {
		t.Errorf("Size = %+v, want %+v", health.Size, want)
	}
}

func TestEvaluateHealth_ReserveClassExempt(t *testing.T) {
	status := volumeStatus(
		class("Data", "RAID1", 100, 50),
		class("Metadata", "single", 10, 5),
		class("GlobalReserve", "single", 3, 0),
	)

	health, err := EvaluateHealth(status, subvolumes(0), &models.DeviceReport{})
	if err != nil {
		t.Fatalf("EvaluateHealth() error = %v", err)
	}

	if health.Healthy {
		t.Error("Healthy = true, want false")
	}
	want := []string{"Metadata is not on RAID1"}
	if !reflect.DeepEqual(health.Violations, want) {
		t.Errorf("Violations = %v, want %v", health.Violations, want)
	}
}

func TestEvaluateHealth_ViolationOrder(t *testing.T) {
	status := volumeStatus(
		class("Data", "DUP", 100, 50),
		class("System", "single", 8, 1),
		class("Metadata", "DUP", 10, 5),
	)
	devices := &models.DeviceReport{
		ErrorsDetected: true,
		Stats: []models.DeviceStat{
			{Device: "/dev/sda", Counter: "write_io_errs", Value: 0},
			{Device: "/dev/sda", Counter: "corruption_errs", Value: 2},
		},
	}

	health, err := EvaluateHealth(status, subvolumes(0), devices)
	if err != nil {
		t.Fatalf("EvaluateHealth() error = %v", err)
	}

	want := []string{
		"Data is not on RAID1",
		"System is not on RAID1",
		"Metadata is not on RAID1",
		ViolationDeviceErrors,
	}
	if !reflect.DeepEqual(health.Violations, want) {
		t.Errorf("Violations = %v, want %v", health.Violations, want)
	}
	if len(health.DeviceErrors) != 1 || health.DeviceErrors[0].Counter != "corruption_errs" {
		t.Errorf("DeviceErrors = %+v, want only corruption_errs", health.DeviceErrors)
	}
}

func TestEvaluateHealth_DeviceErrorsOnly(t *testing.T) {
	status := volumeStatus(class("Data", "RAID1", 100, 50))

	health, err := EvaluateHealth(status, subvolumes(0), &models.DeviceReport{ErrorsDetected: true})
	if err != nil {
		t.Fatalf("EvaluateHealth() error = %v", err)
	}
	if health.Healthy {
		t.Error("Healthy = true, want false")
	}
	if !reflect.DeepEqual(health.Violations, []string{ViolationDeviceErrors}) {
		t.Errorf("Violations = %v", health.Violations)
	}
}

func TestEvaluateHealth_MissingData(t *testing.T) {
	status := volumeStatus(class("Metadata", "RAID1", 10, 5))

	_, err := EvaluateHealth(status, subvolumes(0), &models.DeviceReport{})

	var parseErr *parser.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("EvaluateHealth() error = %v, want ParseError", err)
	}
}

func TestEvaluateHealth_Idempotent(t *testing.T) {
	status := volumeStatus(
		class("Data", "RAID1", 100, 50),
		class("Metadata", "single", 10, 5),
	)
	report := subvolumes(300, "a", "b", "c")
	devices := &models.DeviceReport{ErrorsDetected: true}

	first, err := EvaluateHealth(status, report, devices)
	if err != nil {
		t.Fatalf("EvaluateHealth() error = %v", err)
	}
	second, err := EvaluateHealth(status, report, devices)
	if err != nil {
		t.Fatalf("EvaluateHealth() error = %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("EvaluateHealth() not idempotent: %+v != %+v", first, second)
	}
}
