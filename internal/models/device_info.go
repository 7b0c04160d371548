package models

import "time"

// DeviceInfo describes the sensor a session is connected to.
type DeviceInfo struct {
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	ConnectedAt time.Time `json:"connected_at"`
}

// NewDeviceInfo creates a DeviceInfo stamped with the current time.
func NewDeviceInfo(name, address string) *DeviceInfo {
	return &DeviceInfo{
		Name:        name,
		Address:     address,
		ConnectedAt: time.Now(),
	}
}

// SessionAge returns how long ago the connection was established.
func (d *DeviceInfo) SessionAge() time.Duration {
	return time.Since(d.ConnectedAt)
}

// DeviceStatus is the log bookkeeping the device reports next to its history.
type DeviceStatus struct {
	TotalReadings int           `json:"total_readings"`
	Interval      time.Duration `json:"interval"`
	SinceUpdate   time.Duration `json:"since_update"`
}

// EstimateHistoryStart returns the approximate time of the oldest logged
// sample, assuming the log is contiguous.
func (s DeviceStatus) EstimateHistoryStart(now time.Time) time.Time {
	if s.TotalReadings == 0 {
		return now
	}
	span := time.Duration(s.TotalReadings-1)*s.Interval + s.SinceUpdate
	return now.Add(-span)
}
