// Package keysight provides access to Keysight data acquisition units
package keysight

import (
	"fmt"
	"time"

	"github.com/thzlab/lightscan/comm"
	"github.com/thzlab/lightscan/daq"
	"github.com/thzlab/lightscan/scpi"
)

// DAQ is a remote interface to the DAQ973A and other DAQs with the same SCPI
// interface, used as a DC voltmeter on one channel
type DAQ struct {
	scpi.SCPI

	// Channel is the scan list entry measured, e.g. 101
	Channel int
}

// NewDAQ creates a new DAQ instance.  addr is host:port for LAN or a device
// path for serial
func NewDAQ(addr string, serial bool, channel int) *DAQ {
	term := comm.Terminators{Tx: '\n', Rx: '\n'}
	rd := comm.NewRemoteDevice(addr, serial, &term, nil)
	rd.OpenTimeout = 5 * time.Second
	return &DAQ{SCPI: scpi.SCPI{RemoteDevice: &rd, Handshaking: true}, Channel: channel}
}

// Open connects to the DAQ
func (d *DAQ) Open() error {
	return d.RemoteDevice.Open()
}

// Close disconnects from the DAQ
func (d *DAQ) Close() error {
	return d.RemoteDevice.Close()
}

// Identification returns the *IDN? string
func (d *DAQ) Identification() (string, error) {
	return d.ReadString("*IDN?")
}

// SetChannelLabel sets the label for a given channel.  This label has no meaning
// to the device and is purely for user identification
func (d *DAQ) SetChannelLabel(channel int, label string) error {
	cmd := fmt.Sprintf(":ROUTE:CHAN:LAB \"%s\", (@%d)", label, channel)
	return d.Write(cmd)
}

// Measure reads the DC voltage on Channel.  Any failure is reported as
// daq.ErrNoSample
func (d *DAQ) Measure() (float64, error) {
	v, err := d.ReadFloat(fmt.Sprintf("MEAS:VOLT:DC? (@%d)", d.Channel))
	if err != nil {
		return 0, daq.NoSample(err)
	}
	return v, nil
}
