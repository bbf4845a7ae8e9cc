/*Package comm provides embeddable types for talking to lab hardware over
serial ports or TCP.

Most drivers in this module boil down to:
	1.  embed *RemoteDevice in a type that represents your hardware.
	2.  construct it with NewRemoteDevice, passing the terminators the
		hardware uses (carriage returns are the default).
	3.  write methods on top of Send, Recv, SendRecv and ReadN.

A minimal example for a sensor that responds to "RD?" with a value:

	type MySensor struct {
		*comm.RemoteDevice
	}

	func (ms *MySensor) ReadTemp() (float64, error) {
		resp, err := ms.SendRecv([]byte("RD?"))
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(string(resp), 64)
	}
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

const (
	defaultTerminator = byte('\r')

	// DefaultOpenTimeout is the total time Open will spend retrying a connection
	DefaultOpenTimeout = 3 * time.Second
)

var (
	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrConnection is generated when a connection could not be established
	ErrConnection = errors.New("unable to connect to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// Terminators holds the transmit and receive termination bytes
type Terminators struct {
	Tx byte
	Rx byte
}

/*RemoteDevice has an address and a connection to it.

The connection is made by Maker, which defaults to a serial or TCP dialer
based on IsSerial.  RemoteDevice is not concurrent safe; one owner at a time.
*/
type RemoteDevice struct {
	Addr     string
	IsSerial bool
	Conn     io.ReadWriteCloser

	// Maker creates the underlying connection on Open
	Maker CreationFunc

	// OpenTimeout bounds the time spent retrying in Open
	OpenTimeout time.Duration

	term   Terminators
	reader *bufio.Reader
}

// NewRemoteDevice creates a new RemoteDevice instance.  terms may be nil,
// in which case carriage returns are used.  conf is only used when isSerial is true.
func NewRemoteDevice(addr string, isSerial bool, terms *Terminators, conf *serial.Config) RemoteDevice {
	t := Terminators{Tx: defaultTerminator, Rx: defaultTerminator}
	if terms != nil {
		t = *terms
	}
	var maker CreationFunc
	if isSerial {
		if conf == nil {
			conf = &serial.Config{Name: addr, Baud: 9600, ReadTimeout: time.Second}
		}
		maker = SerialConnMaker(conf)
	} else {
		maker = TCPConnMaker(addr, 3*time.Second)
	}
	return RemoteDevice{
		Addr:        addr,
		IsSerial:    isSerial,
		Maker:       maker,
		OpenTimeout: DefaultOpenTimeout,
		term:        t}
}

// Open the connection, setting the Conn variable.  Open is a no-op if the
// device is already connected.
func (rd *RemoteDevice) Open() error {
	if rd.Conn != nil {
		return nil
	}
	if rd.Maker == nil {
		return fmt.Errorf("%w %s: no connection maker", ErrConnection, rd.Addr)
	}
	op := func() error {
		conn, err := rd.Maker()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") || strings.Contains(errS, "no such") {
				return backoff.Permanent(err)
			}
			return err
		}
		rd.Attach(conn)
		return nil
	}

	// the serial bridges do not like being connection thrashed
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      rd.OpenTimeout,
		Clock:               backoff.SystemClock})
	if err != nil {
		return fmt.Errorf("%w %s: %v", ErrConnection, rd.Addr, err)
	}
	return nil
}

// Attach uses conn as the connection to the remote, replacing any existing one
func (rd *RemoteDevice) Attach(conn io.ReadWriteCloser) {
	rd.Conn = conn
	rd.reader = bufio.NewReader(conn)
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	if err == nil {
		rd.Conn = nil
		rd.reader = nil
	}
	return err
}

// Connected returns true if Conn is open
func (rd *RemoteDevice) Connected() bool {
	return rd.Conn != nil
}

// TxTerminator returns the transmission termination byte
func (rd *RemoteDevice) TxTerminator() byte {
	return rd.term.Tx
}

// RxTerminator returns the receipt termination byte
func (rd *RemoteDevice) RxTerminator() byte {
	return rd.term.Rx
}

// Write sends b to the remote as-is, without a terminator
func (rd *RemoteDevice) Write(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	_, err := rd.Conn.Write(b)
	return err
}

// Send writes data to the remote with the Tx terminator appended
func (rd *RemoteDevice) Send(b []byte) error {
	msg := make([]byte, 0, len(b)+1)
	msg = append(msg, b...)
	msg = append(msg, rd.TxTerminator())
	return rd.Write(msg)
}

// Recv recieves data from the remote and strips the Rx terminator
func (rd *RemoteDevice) Recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	term := rd.RxTerminator()
	buf, err := rd.reader.ReadBytes(term)
	if err != nil {
		return buf, err
	}
	if bytes.HasSuffix(buf, []byte{term}) {
		return buf[:len(buf)-1], nil
	}
	return buf, ErrTerminatorNotFound
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	err := rd.Send(b)
	if err != nil {
		return nil, err
	}
	return rd.Recv()
}

// ReadN reads exactly n bytes from the remote.  On a short read the bytes
// that did arrive are returned along with io.ErrUnexpectedEOF or io.EOF
func (rd *RemoteDevice) ReadN(n int) ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	buf := make([]byte, n)
	got, err := io.ReadFull(rd.reader, buf)
	return buf[:got], err
}

// Poll performs a single read of whatever the remote has sent.  A read that
// times out with no data returns an empty slice and no error
func (rd *RemoteDevice) Poll() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	buf := make([]byte, 256)
	n, err := rd.reader.Read(buf)
	if err == io.EOF {
		err = nil
	}
	return buf[:n], err
}

// Drain discards residual bytes up to and including the next Rx terminator,
// returning what was discarded.  It blocks for at most one read timeout of
// the underlying transport once the buffer runs dry.
func (rd *RemoteDevice) Drain() []byte {
	if rd.Conn == nil {
		return nil
	}
	buf, _ := rd.reader.ReadBytes(rd.RxTerminator())
	return buf
}
