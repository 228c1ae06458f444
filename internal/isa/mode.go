package isa

// Mode is a 4-bit addressing mode for one instruction argument slot.
type Mode uint8

const (
	NONE Mode = iota
	STK
	IMM
	ABS
	PRO
	NRO
)

var modeNames = map[Mode]string{
	NONE: "NONE",
	STK:  "STK",
	IMM:  "IMM",
	ABS:  "ABS",
	PRO:  "PRO",
	NRO:  "NRO",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "<?>"
}
