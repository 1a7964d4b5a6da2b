package player

// Repeat is the queue repeat setting.
type Repeat string

const (
	RepeatNone Repeat = "none"
	RepeatAll  Repeat = "all"
	RepeatOne  Repeat = "one"
)

// EncodePlayMode maps a (shuffle, repeat) pair onto the transport's
// CurrentPlayMode string. Shuffle with repeat-one is not representable on
// the wire; it collapses to SHUFFLE_NOREPEAT, dropping the repeat.
func EncodePlayMode(shuffle bool, repeat Repeat) string {
	if shuffle {
		switch repeat {
		case RepeatAll:
			return "SHUFFLE"
		default:
			return "SHUFFLE_NOREPEAT"
		}
	}
	switch repeat {
	case RepeatAll:
		return "REPEAT_ALL"
	case RepeatOne:
		return "REPEAT_ONE"
	default:
		return "NORMAL"
	}
}

// DecodePlayMode splits a CurrentPlayMode string back into the pair.
func DecodePlayMode(mode string) (shuffle bool, repeat Repeat) {
	switch mode {
	case "SHUFFLE":
		return true, RepeatAll
	case "SHUFFLE_NOREPEAT":
		return true, RepeatNone
	case "SHUFFLE_REPEAT_ONE":
		return true, RepeatOne
	case "REPEAT_ALL":
		return false, RepeatAll
	case "REPEAT_ONE":
		return false, RepeatOne
	default:
		return false, RepeatNone
	}
}
