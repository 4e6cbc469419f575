package modem_test

import (
	"io"

	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/cellmux/modem"
)

// MockSequenceBuilder scripts a MockTransport: every expected Write queues
// the modem's answer for the transport's reader.
type MockSequenceBuilder struct {
	transport *modem.MockTransport
	replies   chan []byte
	closed    chan struct{}
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	b := &MockSequenceBuilder{
		transport: transport,
		replies:   make(chan []byte, 32),
		closed:    make(chan struct{}),
		calls:     []any{},
	}
	transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
		select {
		case data := <-b.replies:
			return copy(p, data), nil
		case <-b.closed:
			return 0, io.EOF
		}
	}).AnyTimes()
	return b
}

// Command expects cmd and answers with reply; an empty reply stays silent.
func (b *MockSequenceBuilder) Command(cmd, reply string) *MockSequenceBuilder {
	wire := []byte(cmd + "\r\n")
	b.calls = append(b.calls,
		b.transport.EXPECT().Write(wire).DoAndReturn(func(p []byte) (int, error) {
			if reply != "" {
				b.replies <- []byte(reply)
			}
			return len(p), nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.Command("AT", "AT\r\r\nOK\r\n")
}

func (b *MockSequenceBuilder) NoAnswer(cmd string) *MockSequenceBuilder {
	return b.Command(cmd, "")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.Command("ATE0", "ATE0\r\r\nOK\r\n")
}

func (b *MockSequenceBuilder) VerboseErrors() *MockSequenceBuilder {
	return b.Command("AT+CMEE=2", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) LocalTime() *MockSequenceBuilder {
	return b.Command("AT+CLTS=1", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) LocalTimeRejected() *MockSequenceBuilder {
	return b.Command("AT+CLTS=1", "\r\n+CME ERROR: operation not allowed\r\n")
}

func (b *MockSequenceBuilder) BatteryCheckOff() *MockSequenceBuilder {
	return b.Command("AT+CBATCHK=0", "\r\nOK\r\n")
}

// Init scripts the complete initialization sequence.
func (b *MockSequenceBuilder) Init() *MockSequenceBuilder {
	return b.AT().EchoOff().VerboseErrors().LocalTime().BatteryCheckOff()
}

// Close expects the transport to be closed and unblocks the reader.
func (b *MockSequenceBuilder) Close(err error) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().Close().DoAndReturn(func() error {
			close(b.closed)
			return err
		}),
	)
	return b
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}
