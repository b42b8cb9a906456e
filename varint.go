package blemidi

// encodingLength returns the number of bytes binary.PutUvarint needs for i.
func encodingLength(i uint64) int {
	n := 1
	for i >= 0x80 {
		i >>= 7
		n++
	}
	return n
}
