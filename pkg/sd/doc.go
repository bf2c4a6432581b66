// Package sd drives an SD card in SPI mode without ever blocking the caller.
//
// Every operation is split into a begin call and a result call which the
// caller polls from its control loop. Short, bounded exchanges (a command
// frame and its response) happen inline. Anything proportional to a block
// is handed to the bus as a bulk transfer and observed through
// Bus.TransferComplete.
//
// Addresses are always in blocks. Standard capacity cards are byte
// addressed on the wire and the conversion happens here.
package sd
