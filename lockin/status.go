package lockin

import "strings"

// Status is the decoded status byte of the amplifier
type Status byte

const (
	// UnusedBit is documented as unused; it still counts against OK
	UnusedBit Status = 1 << iota

	// ParamOutOfRange is set when a command parameter was out of range
	ParamOutOfRange

	// NoReference is set when no reference signal is detected
	NoReference

	// Unlocked is set when the reference is detected but phase lock is lost
	Unlocked

	// Overload is set when the signal input is overloaded
	Overload

	// AutoOffsetRange is set when auto offset fell out of range
	AutoOffsetRange

	// ServiceRequest is set when the device requests service
	ServiceRequest

	// IllegalCommand is set when an illegal command string was received
	IllegalCommand
)

var statusText = []struct {
	bit  Status
	text string
}{
	{UnusedBit, "unused bit set"},
	{ParamOutOfRange, "command parameter out of range"},
	{NoReference, "no reference detected"},
	{Unlocked, "no phase lock"},
	{Overload, "signal overload"},
	{AutoOffsetRange, "auto offset out of range"},
	{ServiceRequest, "service request"},
	{IllegalCommand, "illegal command string"},
}

// OK is true when no bit at all is set
func (s Status) OK() bool {
	return s == 0
}

// Has returns true if every bit of flag is set in s
func (s Status) Has(flag Status) bool {
	return s&flag == flag
}

// Conditions returns a description of every bit set in s
func (s Status) Conditions() []string {
	var out []string
	for _, st := range statusText {
		if s.Has(st.bit) {
			out = append(out, st.text)
		}
	}
	return out
}

func (s Status) String() string {
	if s.OK() {
		return "all ok"
	}
	return strings.Join(s.Conditions(), "; ")
}
