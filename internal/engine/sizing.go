package engine

// RequiredSegments returns how many segments of segmentSize bytes are needed to hold
// memory bytes.
func RequiredSegments(memory int64, segmentSize int) int {
	return int((memory + int64(segmentSize) - 1) / int64(segmentSize))
}

// ProvidedMemory returns the bytes held by numSegments segments.
func ProvidedMemory(numSegments, segmentSize int) int64 {
	return int64(numSegments) * int64(segmentSize)
}

// FitMemoryToSegments rounds memory up to a whole number of segments.
func FitMemoryToSegments(memory int64, segmentSize int) int64 {
	return ProvidedMemory(RequiredSegments(memory, segmentSize), segmentSize)
}
