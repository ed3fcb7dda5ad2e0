package serial

import (
	"go.bug.st/serial/enumerator"
)

// DefaultBaudRate is used when a session is started without a rate.
const DefaultBaudRate = 115200

// BaudRates are the rates offered by the monitor.
var BaudRates = []int{300, 1200, 2400, 4800, 9600, 19200, 38400, 57600, 74800, 115200, 230400, 250000}

// PortInfo holds details about a serial port.
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// Lister enumerates serial ports. ListPorts is the real implementation.
type Lister func() ([]PortInfo, error)

// ListPorts returns available serial ports.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	var result []PortInfo
	for _, p := range ports {
		result = append(result, PortInfo{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	return result, nil
}

// Present reports whether device shows up in ports.
func Present(ports []PortInfo, device string) bool {
	for _, p := range ports {
		if p.Name == device {
			return true
		}
	}
	return false
}

// NextBaudRate returns the rate after current in BaudRates, wrapping around.
func NextBaudRate(current int) int {
	for i, b := range BaudRates {
		if b == current {
			return BaudRates[(i+1)%len(BaudRates)]
		}
	}
	return DefaultBaudRate
}
