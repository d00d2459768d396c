package frame

// ChecksumOffset returns the offset of the checksummed region in a frame
// whose command is commandSize bytes long.
func ChecksumOffset(commandSize int) int {
	return 4 + 4 + commandSize + 2 + 4
}
