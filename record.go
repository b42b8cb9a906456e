package blemidi

// Source identifies how a captured packet was received.
type Source uint8

const (
	SourceNotify Source = iota
	SourceRead
)

func (s Source) String() string {
	switch s {
	case SourceNotify:
		return "notify"
	case SourceRead:
		return "read"
	default:
		return "unknown"
	}
}

// A Record is one captured BLE-MIDI packet.
type Record struct {
	Seq    int
	Source Source
	Data   []byte
}

func NewRecord(seq int, src Source, data []byte) *Record {
	return &Record{
		Seq:    seq,
		Source: src,
		Data:   data,
	}
}
