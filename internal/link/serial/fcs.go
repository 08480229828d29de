package serial

// fcsTable is the lookup table for the 16-bit frame check sequence
// (reflected polynomial 0x8408, RFC 1662).
var fcsTable = func() [256]uint16 {
	var table [256]uint16
	for i := range table {
		v := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if v&1 != 0 {
				v = v>>1 ^ 0x8408
			} else {
				v >>= 1
			}
		}
		table[i] = v
	}
	return table
}()

const initFCS uint16 = 0xFFFF

// updateFCS folds data into a running FCS.
func updateFCS(fcs uint16, data ...byte) uint16 {
	for _, b := range data {
		fcs = fcs>>8 ^ fcsTable[byte(fcs)^b]
	}
	return fcs
}

// FCS returns the frame check sequence of data.
func FCS(data []byte) uint16 {
	return updateFCS(initFCS, data...)
}
