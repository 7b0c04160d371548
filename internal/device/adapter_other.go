//go:build !linux

package device

import "tinygo.org/x/bluetooth"

func newAdapter(string) *bluetooth.Adapter {
	return bluetooth.DefaultAdapter
}
