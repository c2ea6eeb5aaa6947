// internal/modbus/errors.go
package modbus

import (
	"errors"
	"fmt"

	"github.com/goburrow/modbus"
)

var exceptionText = map[byte]string{
	modbus.ExceptionCodeIllegalFunction:                    "illegal function",
	modbus.ExceptionCodeIllegalDataAddress:                 "illegal data address",
	modbus.ExceptionCodeIllegalDataValue:                   "illegal data value",
	modbus.ExceptionCodeServerDeviceFailure:                "server device failure",
	modbus.ExceptionCodeAcknowledge:                        "acknowledge",
	modbus.ExceptionCodeServerDeviceBusy:                   "server device busy",
	modbus.ExceptionCodeMemoryParityError:                  "memory parity error",
	modbus.ExceptionCodeGatewayPathUnavailable:             "gateway path unavailable",
	modbus.ExceptionCodeGatewayTargetDeviceFailedToRespond: "gateway target device failed to respond",
}

// ExceptionError is a Modbus exception response returned by the device.
type ExceptionError struct {
	Function  byte
	Exception byte
}

func (e *ExceptionError) Error() string {
	text, ok := exceptionText[e.Exception]
	if !ok {
		text = "unknown exception"
	}
	return fmt.Sprintf("modbus exception %d (%s) on function %d", e.Exception, text, e.Function)
}

// Code exposes the exception code for status reporting.
func (e *ExceptionError) Code() uint16 {
	return uint16(e.Exception)
}

func wrap(err error) error {
	if err == nil {
		return nil
	}

	var me *modbus.ModbusError
	if errors.As(err, &me) {
		return &ExceptionError{Function: me.FunctionCode, Exception: me.ExceptionCode}
	}
	return err
}
