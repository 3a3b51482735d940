package register

import (
	"fmt"
)

// DataType is the on-device representation of a register value.
type DataType int

const (
	Uint16 DataType = iota
	Uint32
	Int32
	Float32
)

func (t DataType) String() string {
	switch t {
	case Uint16:
		return "UINT16"
	case Uint32:
		return "UINT32"
	case Int32:
		return "INT32"
	case Float32:
		return "FLOAT32"
	default:
		return fmt.Sprintf("DataType(%d)", int(t))
	}
}

// Bytes returns the register width in bytes.
func (t DataType) Bytes() int {
	if t == Uint16 {
		return 2
	}
	return 4
}

// BufferSuffix returns the stream-out buffer register suffix used to stream
// values of this type ("F32", "U16" or "U32").
func (t DataType) BufferSuffix() (string, error) {
	switch t {
	case Float32:
		return "F32", nil
	case Uint16:
		return "U16", nil
	case Uint32:
		return "U32", nil
	default:
		return "", fmt.Errorf("register: no stream-out buffer for %s values", t)
	}
}

// Register is a resolved register.
type Register struct {
	Name    string
	Address int
	Type    DataType
}

// family describes a run of registers sharing a name prefix. Indexed families
// place channel n at Base + n*Stride.
type family struct {
	Word     string
	Base     int
	Stride   int
	MaxIndex int
	Type     DataType
	Indexed  bool
}

// MaxStreamOuts is the number of stream-out channels a device exposes.
const MaxStreamOuts = 4

// Families are ordered: reverse lookups return the first match, so the
// preferred alias (FIO over DIO) comes first.
var families = []family{
	{Word: "AIN", Base: 0, Stride: 2, MaxIndex: 254, Type: Float32, Indexed: true},
	{Word: "DAC", Base: 1000, Stride: 2, MaxIndex: 1, Type: Float32, Indexed: true},
	{Word: "FIO", Base: 2000, Stride: 1, MaxIndex: 7, Type: Uint16, Indexed: true},
	{Word: "EIO", Base: 2008, Stride: 1, MaxIndex: 7, Type: Uint16, Indexed: true},
	{Word: "CIO", Base: 2016, Stride: 1, MaxIndex: 3, Type: Uint16, Indexed: true},
	{Word: "MIO", Base: 2020, Stride: 1, MaxIndex: 2, Type: Uint16, Indexed: true},
	{Word: "DIO", Base: 2000, Stride: 1, MaxIndex: 22, Type: Uint16, Indexed: true},
	{Word: "FIO_STATE", Base: 2500, Type: Uint16},
	{Word: "EIO_STATE", Base: 2501, Type: Uint16},
	{Word: "CIO_STATE", Base: 2502, Type: Uint16},
	{Word: "STREAM_OUT", Base: 4800, Stride: 1, MaxIndex: MaxStreamOuts - 1, Type: Uint16, Indexed: true},
	{Word: "CORE_TIMER", Base: 61520, Type: Uint32},
}

// streamOutFields are the per-channel STREAM_OUT#_<suffix> registers.
var streamOutFields = []family{
	{Word: "_TARGET", Base: 4040, Stride: 2, Type: Uint32},
	{Word: "_BUFFER_SIZE", Base: 4050, Stride: 2, Type: Uint32},
	{Word: "_LOOP_SIZE", Base: 4060, Stride: 2, Type: Uint32},
	{Word: "_SET_LOOP", Base: 4070, Stride: 2, Type: Uint32},
	{Word: "_BUFFER_STATUS", Base: 4080, Stride: 2, Type: Uint32},
	{Word: "_ENABLE", Base: 4090, Stride: 2, Type: Uint32},
	{Word: "_BUFFER_F32", Base: 4400, Stride: 2, Type: Float32},
	{Word: "_BUFFER_U32", Base: 4410, Stride: 2, Type: Uint32},
	{Word: "_BUFFER_U16", Base: 4420, Stride: 1, Type: Uint16},
}

var familyByWord = func() map[string]family {
	m := make(map[string]family, len(families))
	for _, f := range families {
		if _, seen := m[f.Word]; !seen {
			m[f.Word] = f
		}
	}
	return m
}()

// Lookup resolves a register name to its address and type.
func Lookup(name string) (Register, error) {
	n, err := Parse(name)
	if err != nil {
		return Register{}, err
	}
	return resolve(n)
}

func resolve(n *Name) (Register, error) {
	f, ok := familyByWord[n.Family]
	if !ok {
		return Register{}, fmt.Errorf("register: unknown register %q", n.String())
	}
	if f.Indexed != n.Indexed() {
		return Register{}, fmt.Errorf("register: %q: index mismatch for %s", n.String(), f.Word)
	}

	ch := n.Channel()
	if f.Indexed && (ch < 0 || ch > f.MaxIndex) {
		return Register{}, fmt.Errorf("register: %q: channel %d out of range 0-%d", n.String(), ch, f.MaxIndex)
	}

	if n.Suffix == "" {
		addr := f.Base
		if f.Indexed {
			addr += ch * f.Stride
		}
		return Register{Name: n.String(), Address: addr, Type: f.Type}, nil
	}

	if f.Word != "STREAM_OUT" {
		return Register{}, fmt.Errorf("register: unknown register %q", n.String())
	}
	for _, field := range streamOutFields {
		if field.Word == n.Suffix {
			return Register{
				Name:    n.String(),
				Address: field.Base + ch*field.Stride,
				Type:    field.Type,
			}, nil
		}
	}
	return Register{}, fmt.Errorf("register: unknown stream-out field %q", n.String())
}

// Addresses resolves a list of names, as used to build a stream scan list.
func Addresses(names []string) ([]int, []DataType, error) {
	addrs := make([]int, len(names))
	types := make([]DataType, len(names))
	for i, name := range names {
		reg, err := Lookup(name)
		if err != nil {
			return nil, nil, err
		}
		addrs[i] = reg.Address
		types[i] = reg.Type
	}
	return addrs, types, nil
}

// NameOf returns the canonical name of the channel register at address.
// Only plain channel families are searched, not STREAM_OUT#_<field> registers.
func NameOf(address int) (string, bool) {
	for _, f := range families {
		if !f.Indexed {
			if address == f.Base {
				return f.Word, true
			}
			continue
		}
		off := address - f.Base
		if off < 0 || off%f.Stride != 0 {
			continue
		}
		if idx := off / f.Stride; idx <= f.MaxIndex {
			return fmt.Sprintf("%s%d", f.Word, idx), true
		}
	}
	return "", false
}
