package assemble

// VarType is the storage type of a %def/%data variable.
type VarType int

const (
	TypeI8 VarType = iota
	TypeI16
	TypeI32
	TypeStr
)

func (t VarType) String() string {
	switch t {
	case TypeI8:
		return "i8"
	case TypeI16:
		return "i16"
	case TypeI32:
		return "i32"
	case TypeStr:
		return "str"
	default:
		return "<?>"
	}
}

// VarMention is a reference to a variable. IsDeref marks a `$name`
// auto-dereference site, whose concrete DEREFn opcode is chosen from the
// variable's Type during the patch phase.
type VarMention struct {
	CodeOffset int32
	ArgOrdinal uint8
	IsDeref    bool
}

// Variable is an assembler-internal record of a %def/%data declaration.
type Variable struct {
	Name     string
	Address  int32
	Type     VarType
	Count    int
	Mentions []VarMention
}

// derefWidth maps a variable type to the bit width of its auto-deref;
// patch.go's derefOpcodeFor turns that width into a DEREFn opcode.
func (t VarType) derefWidth() int {
	switch t {
	case TypeI8, TypeStr:
		return 8
	case TypeI16:
		return 16
	case TypeI32:
		return 32
	default:
		return 8
	}
}
