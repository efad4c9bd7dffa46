package media

// VideoSource is the local track currently published as this
// participant's video. Camera and screen are never published together.
type VideoSource int

const (
	SourceNone VideoSource = iota
	SourceCamera
	SourceScreen
)

func (s VideoSource) String() string {
	switch s {
	case SourceCamera:
		return "camera"
	case SourceScreen:
		return "screen"
	default:
		return "none"
	}
}
