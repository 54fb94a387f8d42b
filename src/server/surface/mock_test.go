package surface

import (
	"github.com/goburrow/modbus"
)

// MockClientHandler implements ModbusHandler (modbus.ClientHandler + Connect)
type MockClientHandler struct {
	SlaveID    byte
	ConnectErr error
	Closed     bool
}

func (m *MockClientHandler) Connect() error {
	return m.ConnectErr
}
func (m *MockClientHandler) Close() error {
	m.Closed = true
	return nil
}
func (m *MockClientHandler) Send(aduRequest []byte) (aduResponse []byte, err error) {
	return []byte{}, nil
}
func (m *MockClientHandler) Verify(aduRequest []byte, aduResponse []byte) (err error) {
	return nil
}
func (m *MockClientHandler) Decode(aduResponse []byte) (pdu *modbus.ProtocolDataUnit, err error) {
	return &modbus.ProtocolDataUnit{}, nil
}
func (m *MockClientHandler) Encode(pdu *modbus.ProtocolDataUnit) (adu []byte, err error) {
	return []byte{}, nil
}
func (m *MockClientHandler) SetSlave(slave byte) {
	m.SlaveID = slave
}

// MockClient implements modbus.Client
type MockClient struct {
	ReadDiscreteInputsFunc func(address, quantity uint16) ([]byte, error)
	ReadInputRegistersFunc func(address, quantity uint16) ([]byte, error)
}

func (m *MockClient) ReadCoils(address, quantity uint16) ([]byte, error) {
	return []byte{}, nil
}
func (m *MockClient) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	if m.ReadDiscreteInputsFunc != nil {
		return m.ReadDiscreteInputsFunc(address, quantity)
	}
	return []byte{}, nil
}
func (m *MockClient) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	return []byte{}, nil
}
func (m *MockClient) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	if m.ReadInputRegistersFunc != nil {
		return m.ReadInputRegistersFunc(address, quantity)
	}
	return []byte{}, nil
}
func (m *MockClient) WriteSingleCoil(address, value uint16) ([]byte, error) {
	return []byte{}, nil
}
func (m *MockClient) WriteMultipleCoils(address, quantity uint16, value []byte) ([]byte, error) {
	return []byte{}, nil
}
func (m *MockClient) WriteSingleRegister(address, value uint16) ([]byte, error) {
	return []byte{}, nil
}
func (m *MockClient) WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error) {
	return []byte{}, nil
}
func (m *MockClient) ReadWriteMultipleRegisters(readAddress, readQuantity, writeAddress, writeQuantity uint16, value []byte) ([]byte, error) {
	return []byte{}, nil
}
func (m *MockClient) MaskWriteRegister(address, andMask, orMask uint16) ([]byte, error) {
	return []byte{}, nil
}
func (m *MockClient) ReadFIFOQueue(address uint16) ([]byte, error) {
	return []byte{}, nil
}
