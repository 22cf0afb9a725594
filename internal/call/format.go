package call

import (
	"fmt"
	"time"

	"github.com/petervdpas/peercall/internal/signaling"
	"github.com/petervdpas/peercall/internal/util"
)

func typeLabel(t signaling.CallType) string {
	if t == signaling.CallTypeVideo {
		return "Video"
	}
	return "Audio"
}

func declinedLine(t signaling.CallType) string {
	return typeLabel(t) + " call declined"
}

func endedLine(t signaling.CallType, d time.Duration) string {
	return fmt.Sprintf("%s call ended (%s)", typeLabel(t), util.FormatClock(d))
}

func missedLine(t signaling.CallType) string {
	if t == signaling.CallTypeVideo {
		return "Missed video call"
	}
	return "Missed audio call"
}
