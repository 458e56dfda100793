package events

import (
	"github.com/coreos/go-systemd/v22/journal"
	"github.com/sirupsen/logrus"

	"github.com/bootwright/bootwright/pkg/log"
)

// Stable event identifiers. External tooling keys off these, so they
// never change even when the human-readable message does.
const (
	IDConfigMerge        = "ostree.config-merge"
	IDVarRelabel         = "ostree.var-relabel"
	IDDeploymentComplete = "ostree.deployment-complete"
)

// Emitter writes structured events to journald when available and
// mirrors them to the component logger otherwise.
type Emitter struct {
	log *log.PrefixLogger
	// journalAvailable is probed once at construction.
	journalAvailable bool
}

func NewEmitter(log *log.PrefixLogger) *Emitter {
	return &Emitter{
		log:              log,
		journalAvailable: journal.Enabled(),
	}
}

// Emit sends one event. Fields are flat key/value pairs; keys are
// uppercased for the journal per its conventions.
func (e *Emitter) Emit(id, message string, fields map[string]string) {
	if e.journalAvailable {
		vars := map[string]string{
			"MESSAGE_ID": id,
		}
		for k, v := range fields {
			vars[journalKey(k)] = v
		}
		if err := journal.Send(message, journal.PriInfo, vars); err == nil {
			return
		}
	}

	logFields := logrus.Fields{"event": id}
	for k, v := range fields {
		logFields[k] = v
	}
	e.log.WithFields(logFields).Info(message)
}

func journalKey(k string) string {
	out := make([]byte, 0, len(k))
	for i := 0; i < len(k); i++ {
		c := k[i]
		switch {
		case c >= 'a' && c <= 'z':
			out = append(out, c-('a'-'A'))
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
