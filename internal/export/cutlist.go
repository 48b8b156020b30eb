package export

// CutEntry is one clip of a series placed against its source. Times are whole
// seconds in the source file.
type CutEntry struct {
	Name      string
	MediaPath string
	SourceIn  int
	SourceOut int
}

func (e CutEntry) Duration() int {
	return e.SourceOut - e.SourceIn
}
