// internal/fieldmap/blocks.go
package fieldmap

import "sort"

// MaxBlockSize is the largest register count one Modbus read may request.
const MaxBlockSize = 125

// MaxBlockGap is the largest run of unmapped registers read through
// rather than split into a separate request.
const MaxBlockGap = 8

// Block describes one Modbus read geometry.
// Geometry only: no semantics.
type Block struct {
	Function Function
	Address  uint16
	Quantity uint16
}

// Contains reports whether the locator lies entirely inside the block.
func (b Block) Contains(l Locator) bool {
	if l.Function != b.Function {
		return false
	}
	start, end := int(b.Address), int(b.Address)+int(b.Quantity)
	return int(l.Register) >= start && int(l.Register)+int(l.Length) <= end
}

// RegisterBlocks merges the map's register locators into the minimum number
// of contiguous reads per function.
// Output order is deterministic: holding before input, ascending address.
func RegisterBlocks(m Map) []Block {
	byFn := map[Function][]Locator{}
	for _, e := range m.Entries {
		l := e.Source
		if l.Length == 0 {
			l.Length = 1
		}
		if l.Function == "" {
			l.Function = FunctionHolding
		}
		byFn[l.Function] = append(byFn[l.Function], l)
	}

	var out []Block
	for _, fn := range []Function{FunctionHolding, FunctionInput} {
		locs := byFn[fn]
		if len(locs) == 0 {
			continue
		}
		sort.Slice(locs, func(i, j int) bool { return locs[i].Register < locs[j].Register })

		cur := Block{Function: fn, Address: locs[0].Register, Quantity: locs[0].Length}
		for _, l := range locs[1:] {
			curEnd := int(cur.Address) + int(cur.Quantity)
			lEnd := int(l.Register) + int(l.Length)
			gap := int(l.Register) - curEnd

			newEnd := curEnd
			if lEnd > newEnd {
				newEnd = lEnd
			}

			if gap <= MaxBlockGap && newEnd-int(cur.Address) <= MaxBlockSize {
				cur.Quantity = uint16(newEnd - int(cur.Address))
				continue
			}

			out = append(out, cur)
			cur = Block{Function: fn, Address: l.Register, Quantity: l.Length}
		}
		out = append(out, cur)
	}

	return out
}
