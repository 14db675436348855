// Package plc holds the opaque register addressing, the static point map of
// the vacuum plant, and the fail-fast gateway over a raw PLC transport.
package plc

import "fmt"

// PointType describes the width of a mapped point.
type PointType int

const (
	// BitPoint is a single boolean flag (DBX).
	BitPoint PointType = iota
	// WordPoint is an unsigned 16-bit value (DBW).
	WordPoint
	// FloatPoint is an IEEE-754 float32 spread over two consecutive words
	// (DBD), big-endian as delivered by the PLC.
	FloatPoint
)

// Address is an opaque register reference inside a data block. Addresses are
// built from the static point map and never constructed by callers.
type Address struct {
	DB   int
	Byte int
	Bit  int
	Typ  PointType
}

// Bit constructs a bit address.
func Bit(db, byteOff, bit int) Address {
	return Address{DB: db, Byte: byteOff, Bit: bit, Typ: BitPoint}
}

// Word constructs a word address.
func Word(db, byteOff int) Address {
	return Address{DB: db, Byte: byteOff, Typ: WordPoint}
}

// Float constructs a float address.
func Float(db, byteOff int) Address {
	return Address{DB: db, Byte: byteOff, Typ: FloatPoint}
}

// String renders the conventional display form, e.g. DB2.DBX0.1, DB3.DBW4,
// DB3.DBD8.
func (a Address) String() string {
	switch a.Typ {
	case WordPoint:
		return fmt.Sprintf("DB%d.DBW%d", a.DB, a.Byte)
	case FloatPoint:
		return fmt.Sprintf("DB%d.DBD%d", a.DB, a.Byte)
	default:
		return fmt.Sprintf("DB%d.DBX%d.%d", a.DB, a.Byte, a.Bit)
	}
}

// hiWord and loWord are the two word cells a FloatPoint occupies.
func (a Address) hiWord() Address { return Word(a.DB, a.Byte) }
func (a Address) loWord() Address { return Word(a.DB, a.Byte+2) }

// FloatWords exposes the word pair of a float point for transports that
// serve word cells (the simulator registers both halves).
func (a Address) FloatWords() (hi, lo Address) {
	return a.hiWord(), a.loWord()
}
