//go:build !linux

package ble

import "tinygo.org/x/bluetooth"

// hostAdapter returns the system adapter; only BlueZ can select one by name.
func hostAdapter(string) *bluetooth.Adapter { return bluetooth.DefaultAdapter }
