package protocol

// USB identity of the X-Bit programming interface
const (
	VendorID  = 0x0483
	ProductID = 0x0000

	Manufacturer = "ST Microelectronics"
	Product      = "DK3200 Evaluation Board"
)
