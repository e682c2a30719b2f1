package lib

const (
	scrambleKeyIn  uint64 = 0xC001BEEFC0DECAFE
	scrambleKeyOut uint64 = 0x12345678FACEBEEF
)

// Scramble is the handshake transform: xor, swap the nibbles of every byte,
// xor again. It proves the peer speaks the protocol, nothing more.
func Scramble(v uint64) uint64 {
	v ^= scrambleKeyIn
	v = (v&0xF0F0F0F0F0F0F0F0)>>4 | (v&0x0F0F0F0F0F0F0F0F)<<4
	return v ^ scrambleKeyOut
}
