package sdk

import (
	"time"

	"github.com/dkeye/classroom/internal/domain"
)

// Event is one of ParticipantPublished, ParticipantLeft,
// ConnectionStateChanged, NetworkQuality.
type Event interface {
	isEvent()
}

type ParticipantPublished struct {
	ID   domain.ParticipantID
	Kind domain.MediaKind
}

type ParticipantLeft struct {
	ID domain.ParticipantID
}

type ConnectionState string

const (
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateReconnecting ConnectionState = "RECONNECTING"
	StateDisconnected ConnectionState = "DISCONNECTED"
)

type ConnectionStateChanged struct {
	Prev    ConnectionState
	Current ConnectionState
}

// NetworkQualityLevel grades the link from 1 (excellent) to 6 (down);
// 0 means no measurement yet.
type NetworkQualityLevel int

const (
	QualityUnknown NetworkQualityLevel = iota
	QualityExcellent
	QualityGood
	QualityPoor
	QualityBad
	QualityVeryBad
	QualityDown
)

func (q NetworkQualityLevel) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityPoor:
		return "poor"
	case QualityBad:
		return "bad"
	case QualityVeryBad:
		return "very_bad"
	case QualityDown:
		return "down"
	default:
		return "unknown"
	}
}

// QualityFromRTT grades a round trip time of the media path.
func QualityFromRTT(rtt time.Duration) NetworkQualityLevel {
	switch {
	case rtt <= 0:
		return QualityUnknown
	case rtt < 100*time.Millisecond:
		return QualityExcellent
	case rtt < 200*time.Millisecond:
		return QualityGood
	case rtt < 400*time.Millisecond:
		return QualityPoor
	case rtt < 800*time.Millisecond:
		return QualityBad
	default:
		return QualityVeryBad
	}
}

// NetworkQuality is reported when the graded link quality changes.
type NetworkQuality struct {
	Quality NetworkQualityLevel
	RTT     time.Duration
}

func (ParticipantPublished) isEvent()   {}
func (ParticipantLeft) isEvent()        {}
func (ConnectionStateChanged) isEvent() {}
func (NetworkQuality) isEvent()         {}
