//go:build !unix

package transfer

// freeSpace reports -1 where the platform query is not wired.
func freeSpace(string) (int64, error) {
	return -1, nil
}
