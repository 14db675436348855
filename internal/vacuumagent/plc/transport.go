package plc

import "context"

// Transport is the raw PLC link consumed by the Gateway. The simulator is
// the only in-tree implementation; real S7/OPC-UA drivers are external and
// plug in through the same interface.
type Transport interface {
	Connect(ctx context.Context, host string, port int) error
	Disconnect() error

	ReadBool(addr Address) (bool, error)
	WriteBool(addr Address, v bool) error
	ReadWord(addr Address) (uint16, error)
	WriteWord(addr Address, v uint16) error
}
