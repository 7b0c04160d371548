//go:build linux

package device

import "tinygo.org/x/bluetooth"

func newAdapter(id string) *bluetooth.Adapter {
	if id == "" {
		id = "hci0"
	}
	return bluetooth.NewAdapter(id)
}
