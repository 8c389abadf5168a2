// Package notify delivers settlement notifications. Delivery is best effort:
// a failed notification never changes a settlement outcome.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Kind string

const (
	KindDepositExecuted     Kind = "deposit_executed"
	KindRedemptionCompleted Kind = "redemption_completed"
	KindRedemptionFailed    Kind = "redemption_failed"
	KindRedemptionRefunded  Kind = "redemption_refunded"
	KindRedemptionCritical  Kind = "redemption_critical"
)

// Critical reports whether the event needs operator intervention.
func (k Kind) Critical() bool { return k == KindRedemptionCritical }

// Event describes one settlement outcome.
type Event struct {
	Kind      Kind
	Account   string
	Reference string // schedule id or redemption request id
	Amount    decimal.Decimal
	Asset     string
	TxID      string
	Reason    string
	At        time.Time
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

func renderMessage(ev Event) string {
	b := strings.Builder{}
	if ev.Kind.Critical() {
		b.WriteString("🚨 CRITICAL: manual intervention required\n")
	}
	b.WriteString(fmt.Sprintf("[%s]\n", ev.Kind))
	b.WriteString(fmt.Sprintf("Account: %s\n", ev.Account))
	b.WriteString(fmt.Sprintf("Ref: %s\n", ev.Reference))
	if !ev.Amount.IsZero() {
		b.WriteString(fmt.Sprintf("Amount: %s %s\n", ev.Amount.String(), ev.Asset))
	}
	if ev.TxID != "" {
		b.WriteString(fmt.Sprintf("Tx: %s\n", ev.TxID))
	}
	if ev.Reason != "" {
		b.WriteString(fmt.Sprintf("Reason: %s\n", ev.Reason))
	}
	if !ev.At.IsZero() {
		b.WriteString(fmt.Sprintf("At: %s UTC", ev.At.UTC().Format(time.RFC3339)))
	}
	return strings.TrimRight(b.String(), "\n")
}

// LogNotifier writes events to the logger. Critical events log at error level.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.With(zap.String("component", "notify_log"))}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("kind", string(ev.Kind)),
		zap.String("account", ev.Account),
		zap.String("ref", ev.Reference),
		zap.String("amount", ev.Amount.String()),
		zap.String("tx", ev.TxID),
		zap.String("reason", ev.Reason),
	}
	if ev.Kind.Critical() {
		n.log.Error("settlement alert", fields...)
	} else {
		n.log.Info("settlement event", fields...)
	}
	return nil
}

// Multi fans out to several notifiers and returns the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Dispatcher sends events asynchronously with a bounded timeout and swallows
// delivery errors after logging them.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	log      *zap.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(n Notifier, timeout time.Duration, log *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{notifier: n, timeout: timeout, log: log}
}

// Dispatch returns immediately.
func (d *Dispatcher) Dispatch(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if ev.Kind.Critical() {
		// Always leave a trace in the logs even if the sink is down.
		d.log.Error("CRITICAL settlement state",
			zap.String("ref", ev.Reference),
			zap.String("account", ev.Account),
			zap.String("reason", ev.Reason))
	}
	if d.notifier == nil {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.notifier.Notify(ctx, ev); err != nil {
			d.log.Warn("notification failed",
				zap.String("kind", string(ev.Kind)),
				zap.String("ref", ev.Reference),
				zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight notifications finish. Used on shutdown.
func (d *Dispatcher) Wait() { d.wg.Wait() }
