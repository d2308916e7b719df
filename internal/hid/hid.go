package hid

import (
	"fmt"

	"github.com/sstallion/go-hid"
)

// Device wraps a HID device with X-Bit specific functionality.
type Device struct {
	dev       *hid.Device
	vendorID  uint16
	productID uint16
}

// Open opens the first HID device matching the vendor and product ID.
func Open(vendorID, productID uint16) (*Device, error) {
	if err := hid.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize hidapi: %w", err)
	}

	dev, err := hid.OpenFirst(vendorID, productID)
	if err != nil {
		hid.Exit()
		return nil, fmt.Errorf("failed to open HID device %04X:%04X: %w", vendorID, productID, err)
	}

	return &Device{
		dev:       dev,
		vendorID:  vendorID,
		productID: productID,
	}, nil
}

// Close closes the device and releases hidapi.
func (d *Device) Close() error {
	if d.dev == nil {
		return nil
	}
	err := d.dev.Close()
	d.dev = nil
	hid.Exit()
	return err
}

// Write sends an output report. p[0] is the report ID.
func (d *Device) Write(p []byte) (int, error) {
	return d.dev.Write(p)
}

// GetFeatureReport reads a feature report. p[0] must hold the report ID.
func (d *Device) GetFeatureReport(p []byte) (int, error) {
	return d.dev.GetFeatureReport(p)
}

// Manufacturer returns the manufacturer string.
func (d *Device) Manufacturer() (string, error) {
	return d.dev.GetMfrStr()
}

// Product returns the product string.
func (d *Device) Product() (string, error) {
	return d.dev.GetProductStr()
}

// String returns the USB ID of the device.
func (d *Device) String() string {
	return fmt.Sprintf("%04X:%04X", d.vendorID, d.productID)
}
