package inject

// BLESender is the part of the BLE client used for delivery.
type BLESender interface {
	Send(text string) error
}

// BLEInjector forwards text to a BLE receiver.
type BLEInjector struct {
	sender BLESender
}

var _ TextInjector = (*BLEInjector)(nil)

// NewBLEInjector panics if sender is nil.
func NewBLEInjector(sender BLESender) *BLEInjector {
	if sender == nil {
		panic("inject: NewBLEInjector called with nil sender")
	}
	return &BLEInjector{sender: sender}
}

func (b *BLEInjector) Inject(text string) error {
	if text == "" {
		return nil
	}
	return b.sender.Send(text)
}
