package release

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// Option lists for the R1 build matrix.
var (
	TempOptions     = []string{"IT", "ET"}
	ToolOptions     = []string{"CAN", "THR"}
	ActuatorOptions = []string{"BTS", "CYT"}
)

// AllowedExtensions are the file types accepted as custom firmware.
// ".ino.bin" files are covered by ".bin".
var AllowedExtensions = []string{".bin", ".hex"}

// Variant selects one prebuilt release image: temperature sensor, tool bus
// and actuator driver.
type Variant struct {
	Temp     string `json:"temp"`
	Tools    string `json:"tools"`
	Actuator string `json:"actuator"`
}

// DefaultVariant is the first entry of every option list.
func DefaultVariant() Variant {
	return Variant{Temp: TempOptions[0], Tools: ToolOptions[0], Actuator: ActuatorOptions[0]}
}

func (v Variant) String() string {
	return strings.Join([]string{v.Temp, v.Tools, v.Actuator}, "-")
}

// FileName is the release asset name, e.g. R1-IT-CAN-BTS.bin.
func (v Variant) FileName() string {
	return "R1-" + v.String() + ".bin"
}

// Path returns the firmware path inside dir.
func (v Variant) Path(dir string) string {
	return filepath.Join(dir, v.FileName())
}

func (v Variant) Validate() error {
	if !slices.Contains(TempOptions, v.Temp) {
		return fmt.Errorf("unknown temperature option %q (want one of %s)", v.Temp, strings.Join(TempOptions, ", "))
	}
	if !slices.Contains(ToolOptions, v.Tools) {
		return fmt.Errorf("unknown tools option %q (want one of %s)", v.Tools, strings.Join(ToolOptions, ", "))
	}
	if !slices.Contains(ActuatorOptions, v.Actuator) {
		return fmt.Errorf("unknown actuator option %q (want one of %s)", v.Actuator, strings.Join(ActuatorOptions, ", "))
	}
	return nil
}

// ParseVariant accepts "IT-CAN-BTS", "R1-IT-CAN-BTS" or the full file name.
func ParseVariant(s string) (Variant, error) {
	s = strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(s)), ".BIN")
	s = strings.TrimPrefix(s, "R1-")
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return Variant{}, fmt.Errorf("variant %q: expected TEMP-TOOLS-ACTUATOR", s)
	}
	v := Variant{Temp: parts[0], Tools: parts[1], Actuator: parts[2]}
	return v, v.Validate()
}

// LegacyFirmware is the single-image naming used by the web uploader, which
// only distinguishes boards with an external temperature sensor.
func LegacyFirmware(external bool) string {
	if external {
		return "FR_R1_Firmware_external.ino.bin"
	}
	return "FR_R1_Firmware.ino.bin"
}

// IsFirmwareFile reports whether name has an allowed extension.
func IsFirmwareFile(name string) bool {
	return slices.Contains(AllowedExtensions, strings.ToLower(filepath.Ext(name)))
}
