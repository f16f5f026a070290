package models

import "time"

// ReserveClass is the storage class exempt from the replication profile rule
const ReserveClass = "GlobalReserve"

// RequiredProfile is the replication profile every other storage class must use
const RequiredProfile = "RAID1"

// DataClass is the storage class the volume size is taken from
const DataClass = "Data"

// StorageClassUsage represents one line of `btrfs filesystem df -b`
type StorageClassUsage struct {
	Name               string
	ReplicationProfile string
	TotalBytes         int64
	UsedBytes          int64
}

// VolumeStatus holds the storage classes of a volume in the order they were reported
type VolumeStatus struct {
	Classes []*StorageClassUsage
}

// Class returns the storage class with the given name
func (s *VolumeStatus) Class(name string) (*StorageClassUsage, bool) {
	for _, c := range s.Classes {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// SubvolumeUsage represents one subvolume line of `btrfs-du -b`
type SubvolumeUsage struct {
	Name           string
	TotalBytes     int64
	ExclusiveBytes int64
}

// SubvolumesReport is the parsed `btrfs-du -b` output
type SubvolumesReport struct {
	ExclusiveBytes int64
	Subvolumes     map[string]*SubvolumeUsage
}

// DeviceStat is a single counter of `btrfs device stats`
type DeviceStat struct {
	Device  string
	Counter string
	Value   int64
}

// DeviceReport is the result of the device error check
type DeviceReport struct {
	ErrorsDetected bool
	Stats          []DeviceStat
}

// VolumeSize summarises the space accounting of a volume
type VolumeSize struct {
	TotalBytes     int64
	UsedBytes      int64
	ExclusiveBytes int64
}

// VolumeHealth is the verdict of a volume health check
type VolumeHealth struct {
	Healthy       bool
	Violations    []string
	SnapshotCount int
	Size          VolumeSize
	DeviceErrors  []DeviceStat // non-zero counters only
}

// DiskSpace holds filesystem capacity as reported by statfs
type DiskSpace struct {
	TotalBytes     uint64
	AvailableBytes uint64
}

// SubvolumeStat describes the subvolume created by a backup run
type SubvolumeStat struct {
	Used           int64
	Exclusive      int64
	ExclusiveTotal int64
	Total          uint64
	Free           uint64
}

// JobStatus is the parsed `btrfs-sxbackup info` output, keyed by field label
type JobStatus map[string]string

// BackupJob is one configured backup job after merging job defaults
type BackupJob struct {
	ID                   string `mapstructure:"-"`
	Source               string `mapstructure:"source"`
	Destination          string `mapstructure:"destination"`
	SourceRetention      string `mapstructure:"sourceRetention"`
	DestinationRetention string `mapstructure:"destinationRetention"`
}

// URL returns the identifier btrfs-sxbackup uses to address the job
func (j *BackupJob) URL() string {
	if j.Destination != "" {
		return j.Destination
	}
	return j.Source
}

// Run statuses
const (
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
	RunStatusUnhealthy = "unhealthy"
)

// JobRun is the outcome of one backup job execution
type JobRun struct {
	ID          int64
	JobID       string
	Stage       string
	Status      string
	Snapshot    string
	Healthy     bool
	Violations  []string
	Durations   map[string]float64
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}
