package central

import (
	"github.com/go-ble/ble/linux"
	"github.com/pkg/errors"
)

// NewHost opens the default HCI device.
func NewHost() (Host, error) {
	d, err := linux.NewDevice()
	if err != nil {
		return nil, errors.Wrap(err, "open HCI device")
	}
	return d, nil
}
