package tcp

// ExtractFrames scans buf for complete top-level JSON objects using brace depth.
//
// Every balanced {...} span is returned in order as a sub-slice of buf. When at
// least one frame is found, rest is everything after the last frame's closing
// brace; otherwise rest is buf unchanged. Braces inside JSON strings are not
// special-cased, so a literal '{' or '}' in a string value breaks framing.
// A '}' with no open object is ignored so stray bytes cannot wedge the scanner.
func ExtractFrames(buf []byte) (frames [][]byte, rest []byte) {
	depth := 0
	start := -1
	end := -1

	for i, b := range buf {
		switch b {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				frames = append(frames, buf[start:i+1])
				start = -1
				end = i + 1
			}
		}
	}

	if end < 0 {
		return nil, buf
	}
	return frames, buf[end:]
}
