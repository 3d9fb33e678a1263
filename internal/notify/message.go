package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/shardkit/gateway/internal/gateway"
)

// FormatConnectedMessage creates a connected notification body.
func FormatConnectedMessage(status gateway.Status, resumed bool) string {
	var sb strings.Builder

	if resumed {
		sb.WriteString("Session resumed\n")
	} else {
		sb.WriteString("Session established\n")
	}
	sb.WriteString(fmt.Sprintf("Sequence: %d\n", status.Sequence))
	if status.LatencyPeriods > 0 {
		sb.WriteString(fmt.Sprintf("Latency: %s (over %d beats)", status.LatencyAverage.Round(time.Millisecond), status.LatencyPeriods))
	}

	return sb.String()
}

// FormatFatalMessage creates a shard-down notification body.
func FormatFatalMessage(status gateway.Status, cause error) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Stage: %s\n", status.Stage))
	sb.WriteString(fmt.Sprintf("Last sequence: %d", status.Sequence))
	if cause != nil {
		sb.WriteString(fmt.Sprintf("\n\nError: %v", cause))
	}

	return sb.String()
}
