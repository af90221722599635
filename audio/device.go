package audio

import (
	"fmt"
	"strings"

	"illustrator/picker"
)

// SelectDevice presents an interactive device picker and returns the selected device.
// If only one device is available, it returns that device without prompting.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}

	if len(devices) == 0 {
		return nil, fmt.Errorf("no capture devices found")
	}

	if len(devices) == 1 {
		return &devices[0], nil
	}

	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name
	}
	i, err := picker.Select("Select input device", names, func(name string) string {
		if IsBluetooth(name) {
			return "Lower audio quality"
		}
		return ""
	})
	if err != nil {
		return nil, err
	}
	return &devices[i], nil
}

// FindDevice returns the device with the given name, or nil. An exact match
// wins; otherwise a unique case-insensitive substring match is accepted, so
// "usb" finds "Blue Yeti USB Microphone".
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	var partial []int
	needle := strings.ToLower(name)
	for i := range devices {
		if devices[i].Name == name {
			return &devices[i], nil
		}
		if strings.Contains(strings.ToLower(devices[i].Name), needle) {
			partial = append(partial, i)
		}
	}
	if len(partial) == 1 {
		return &devices[partial[0]], nil
	}
	return nil, nil
}
