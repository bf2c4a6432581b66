package sd

// Bus is the SPI link to one card.
type Bus interface {
	// Select drives chip select, true asserts it.
	Select(active bool)
	// Transfer exchanges a single byte.
	Transfer(b byte) byte
	// StartTransfer begins a bulk exchange. rx receives the bytes clocked
	// in and must be at least as long as tx.
	StartTransfer(tx, rx []byte)
	// TransferComplete reports whether the last bulk exchange finished.
	TransferComplete() bool
}

// ClockSetter is implemented by buses which can change the SPI clock.
type ClockSetter interface {
	SetClockRate(hz uint32)
}
