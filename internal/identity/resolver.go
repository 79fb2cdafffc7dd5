// Package identity derives stable local member identifiers from opaque
// remote account identities. The derivation is deterministic so that every
// device maps the same account to the same member ID without coordination.
package identity

import "github.com/google/uuid"

// namespace is mixed into the hash so identifiers from this application do
// not collide with other derivations of the same account identity.
const namespace = "app.aemtli.family-member"

const hashSeed = 5381

// Resolve maps a remote account identity to a stable UUID. The result is
// RFC-4122 shaped (version 4 nibble, variant 10) but derived, not random:
// one djb2 pass over the namespaced identity covers the time and clock-seq
// fields, a second pass over the reversed bytes fills the low 48 node bits.
// Collision resistance is best-effort, not cryptographic.
func Resolve(remoteIdentity string) uuid.UUID {
	data := []byte(remoteIdentity + namespace)

	forward := djb2(data)

	reversed := make([]byte, len(data))
	for i, b := range data {
		reversed[len(data)-1-i] = b
	}
	backward := djb2(reversed)

	var id uuid.UUID

	// The forward hash splits across the four leading fields: time-low,
	// time-mid, time-hi and the clock sequence.
	id[0] = byte(forward >> 56)
	id[1] = byte(forward >> 48)
	id[2] = byte(forward >> 40)
	id[3] = byte(forward >> 32)
	id[4] = byte(forward >> 24)
	id[5] = byte(forward >> 16)
	id[6] = byte(forward >> 8)
	id[7] = byte(forward)
	id[8] = byte(forward >> 8)
	id[9] = byte(forward)

	// The backward hash fills only the 48 node bits.
	id[10] = byte(backward >> 40)
	id[11] = byte(backward >> 32)
	id[12] = byte(backward >> 24)
	id[13] = byte(backward >> 16)
	id[14] = byte(backward >> 8)
	id[15] = byte(backward)

	// Force version and variant nibbles so the result parses as a normal
	// RFC-4122 identifier.
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80

	return id
}

func djb2(data []byte) uint64 {
	var h uint64 = hashSeed
	for _, b := range data {
		h = h*33 + uint64(b)
	}
	return h
}
