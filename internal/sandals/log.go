package sandals

import (
	"os"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/sirupsen/logrus"
)

// Log is the package-level logger every component writes diagnostics
// through. It carries no fields itself; entries obtained from WithStage
// add the "pid" and "stage" fields.
var Log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
		FullTimestamp:    false,
	})
	if journal.Enabled() {
		l.AddHook(&journalHook{})
	}
	return l
}

// WithStage returns an entry tagged with the current pid and process
// stage (supervisor, spawner, payload).
func WithStage(stage string) *logrus.Entry {
	return Log.WithFields(logrus.Fields{"pid": os.Getpid(), "stage": stage})
}

// journalHook forwards logrus records to the systemd journal when
// present; this is best-effort ambient behavior, not relied upon by any
// correctness property.
type journalHook struct{}

func (h *journalHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *journalHook) Fire(e *logrus.Entry) error {
	msg, err := e.String()
	if err != nil {
		return nil
	}
	pri := journal.PriInfo
	switch e.Level {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		pri = journal.PriErr
	case logrus.WarnLevel:
		pri = journal.PriWarning
	case logrus.DebugLevel, logrus.TraceLevel:
		pri = journal.PriDebug
	}
	_ = journal.Send(msg, pri, nil)
	return nil
}
