package lifecycle

import "crypto/rand"

const (
	idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	idLength   = 6
)

// newOrderID returns a random base36 code. Bytes above the largest multiple
// of 36 are discarded so every symbol is equally likely.
func newOrderID() (string, error) {
	const limit = 256 - 256%len(idAlphabet)
	id := make([]byte, 0, idLength)
	buf := make([]byte, idLength*2)
	for len(id) < idLength {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			id = append(id, idAlphabet[int(b)%len(idAlphabet)])
			if len(id) == idLength {
				break
			}
		}
	}
	return string(id), nil
}
