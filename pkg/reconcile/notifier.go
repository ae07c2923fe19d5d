package reconcile

import (
	"fmt"
	"io"

	"go.uber.org/zap"
)

// CompleteMarker is the final line of a successful run.
const CompleteMarker = "Reconciliation complete."

// Notifier reports progress to an operator and to the structured log.
type Notifier struct {
	out    io.Writer
	logger *zap.Logger
}

// NewNotifier writes human-readable notices to out. A nil out only logs.
func NewNotifier(out io.Writer, logger *zap.Logger) *Notifier {
	if out == nil {
		out = io.Discard
	}
	return &Notifier{out: out, logger: logger}
}

// Noticef writes one NOTICE line.
func (n *Notifier) Noticef(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(n.out, "NOTICE: %s\n", msg)
	n.logger.Info(msg)
}

// Complete writes the success marker.
func (n *Notifier) Complete() {
	fmt.Fprintln(n.out, CompleteMarker)
	n.logger.Info(CompleteMarker)
}
