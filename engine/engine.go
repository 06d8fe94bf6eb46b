// Package engine drives automation sequences: it enrolls contacts, claims
// due scheduled sends, hands them to a transport and advances enrollments.
//
// All coordination happens through the relational store. Claims are a single
// conditional UPDATE and every creation path is an insert-or-ignore against a
// unique pair, so any number of engine instances may tick at once.
package engine

import (
	"time"

	"automail/config"
	"automail/metrics"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Options tunes batch sizes and the failure policy.
type Options struct {
	ClaimBatch      int           // K, max sends claimed per tick
	EnrollBatch     int           // max new enrollments per sequence per tick
	SendConcurrency int           // outbound calls in flight per tick
	MaxSendAttempts int           // 1 means a transport failure is terminal
	RetryBackoff    time.Duration // base delay, doubled per attempt
	StaleProcessing time.Duration // 0 disables the reaper
	CancelOnGuard   bool          // contact guards also cancel the enrollment

	// NextSenderReset returns when daily sender counters are next zeroed.
	// Sends over a sender's daily limit are deferred to that time.
	NextSenderReset func(time.Time) time.Time

	Logger       logrus.FieldLogger
	Metrics      *metrics.Metrics
	Personalizer Personalizer
	Clock        func() time.Time
}

// DefaultOptions mirrors the config defaults.
func DefaultOptions() Options {
	return Options{
		ClaimBatch:      50,
		EnrollBatch:     500,
		SendConcurrency: 5,
		MaxSendAttempts: 1,
		RetryBackoff:    5 * time.Minute,
		StaleProcessing: 15 * time.Minute,
	}
}

// OptionsFromConfig maps the SEQUENCE_* settings onto Options.
func OptionsFromConfig(c config.SequenceConfig) Options {
	return Options{
		ClaimBatch:      c.ClaimBatch,
		EnrollBatch:     c.EnrollBatch,
		SendConcurrency: c.SendConcurrency,
		MaxSendAttempts: c.MaxSendAttempts,
		RetryBackoff:    c.RetryBackoff,
		StaleProcessing: c.StaleProcessing,
		CancelOnGuard:   c.CancelOnGuard,
		NextSenderReset: senderReset(c.SenderResetCron),
		Personalizer: &TemplatePersonalizer{
			TrackingBaseURL:    c.TrackingBaseURL,
			UnsubscribeBaseURL: c.UnsubscribeURL,
		},
	}
}

type Engine struct {
	db           *gorm.DB
	transport    Transport
	personalizer Personalizer
	opts         Options
	log          logrus.FieldLogger
	metrics      *metrics.Metrics
	now          func() time.Time
}

func New(db *gorm.DB, transport Transport, opts Options) *Engine {
	def := DefaultOptions()
	if opts.ClaimBatch <= 0 {
		opts.ClaimBatch = def.ClaimBatch
	}
	if opts.EnrollBatch <= 0 {
		opts.EnrollBatch = def.EnrollBatch
	}
	if opts.SendConcurrency <= 0 {
		opts.SendConcurrency = def.SendConcurrency
	}
	if opts.MaxSendAttempts <= 0 {
		opts.MaxSendAttempts = def.MaxSendAttempts
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = def.RetryBackoff
	}
	if opts.NextSenderReset == nil {
		opts.NextSenderReset = nextMidnight
	}

	e := &Engine{
		db:           db,
		transport:    transport,
		personalizer: opts.Personalizer,
		opts:         opts,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Clock,
	}
	if e.personalizer == nil {
		e.personalizer = &TemplatePersonalizer{}
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	if e.metrics == nil {
		e.metrics = metrics.New(prometheus.NewRegistry())
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// senderReset follows the sender reset schedule, or UTC midnight when it is
// unset or unparsable.
func senderReset(spec string) func(time.Time) time.Time {
	if spec == "" {
		return nextMidnight
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nextMidnight
	}
	return schedule.Next
}

func nextMidnight(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}

// clock returns the engine time in UTC; every stored timestamp goes through it.
func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// reportError logs an infrastructure failure and forwards it to Sentry.
func (e *Engine) reportError(kind string, err error, fields logrus.Fields) {
	e.log.WithFields(fields).WithField("error_type", kind).WithError(err).Error("Error occurred")

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_type", kind)
		for k, v := range fields {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}
