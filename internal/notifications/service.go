package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"photoner/internal/config"
	"photoner/internal/logging"
)

const userAgent = "Photoner/0.1.0"

// Event names the kind of message being delivered.
type Event string

const (
	EventTickCompleted Event = "tick_completed"
	EventTickAborted   Event = "tick_aborted"
	EventError         Event = "error"
	EventTest          Event = "test"
)

// TickSummary is the transport-neutral view of one tick's outcome.
type TickSummary struct {
	RunID        string        `json:"run_id"`
	Phase        string        `json:"phase"`
	Population   string        `json:"population,omitempty"`
	Planned      int           `json:"planned"`
	Success      int           `json:"success"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	Untouched    int           `json:"untouched"`
	AbortReason  string        `json:"abort_reason,omitempty"`
	AbortDetail  string        `json:"abort_detail,omitempty"`
	StoppedEarly bool          `json:"stopped_early,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
	InputBytes   int64         `json:"input_bytes"`
	OutputBytes  int64         `json:"output_bytes"`
}

// Service defines the notification surface exposed to the tick runner.
type Service interface {
	NotifyTickCompleted(ctx context.Context, summary TickSummary) error
	NotifyTickAborted(ctx context.Context, summary TickSummary) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
	Close() error
}

// message is what a transport delivers.
type message struct {
	event    Event
	title    string
	body     string
	tags     []string
	priority string
	summary  *TickSummary
	errText  string
}

type transport interface {
	deliver(ctx context.Context, msg message) error
	close() error
}

// NewService builds a notification service from configuration. An ntfy topic
// and a NATS URL each add a transport. A NATS connection failure is logged and
// that transport is left out.
func NewService(cfg *config.Config, logger *slog.Logger) Service {
	if cfg == nil {
		return noopService{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	settings := cfg.Notifications

	var transports []transport
	if topic := strings.TrimSpace(settings.NtfyTopic); topic != "" {
		timeout := time.Duration(settings.RequestTimeout) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		transports = append(transports, newNtfyTransport(topic, &http.Client{Timeout: timeout}))
	}
	if url := strings.TrimSpace(settings.NATSURL); url != "" {
		pub, err := ConnectNATS(url, settings.NATSSubject)
		if err != nil {
			logger.Warn("nats notifications unavailable",
				logging.String(logging.FieldEventType, "nats_connect_failed"),
				logging.String(logging.FieldErrorHint, "check notifications.nats_url and that the server is reachable"),
				logging.String(logging.FieldImpact, "tick reports will not be published to NATS"),
				logging.Error(err),
			)
		} else {
			transports = append(transports, pub)
		}
	}
	if len(transports) == 0 {
		return noopService{}
	}
	return &dispatcher{
		transports: transports,
		completed:  settings.TickCompleted,
		aborts:     settings.Aborts,
		errors:     settings.Errors,
	}
}

// dispatcher fans each message out to every transport.
type dispatcher struct {
	transports []transport
	completed  bool
	aborts     bool
	errors     bool
}

func (d *dispatcher) NotifyTickCompleted(ctx context.Context, summary TickSummary) error {
	if !d.completed {
		return nil
	}
	return d.send(ctx, completedMessage(summary))
}

func (d *dispatcher) NotifyTickAborted(ctx context.Context, summary TickSummary) error {
	if !d.aborts {
		return nil
	}
	return d.send(ctx, abortedMessage(summary))
}

func (d *dispatcher) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !d.errors {
		return nil
	}
	return d.send(ctx, errorMessage(err, contextLabel))
}

func (d *dispatcher) TestNotification(ctx context.Context) error {
	return d.send(ctx, message{
		event:    EventTest,
		title:    "Photoner - Test",
		body:     "Notification system test",
		tags:     []string{"photoner", "test"},
		priority: "low",
	})
}

func (d *dispatcher) Close() error {
	var errs []error
	for _, t := range d.transports {
		errs = append(errs, t.close())
	}
	return errors.Join(errs...)
}

func (d *dispatcher) send(ctx context.Context, msg message) error {
	var errs []error
	for _, t := range d.transports {
		if err := t.deliver(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func completedMessage(s TickSummary) message {
	title := "Photoner - Batch Complete"
	body := fmt.Sprintf("%s: %d enhanced", phaseLabel(s), s.Success)
	if s.Failed > 0 {
		title = "Photoner - Batch Complete (with errors)"
		body = fmt.Sprintf("%s: %d enhanced, %d failed", phaseLabel(s), s.Success, s.Failed)
	}
	if s.Skipped > 0 {
		body += fmt.Sprintf(", %d skipped", s.Skipped)
	}
	body += " in " + durationText(s.Duration)
	if s.StoppedEarly {
		body += fmt.Sprintf("\nTime budget reached, %d left for the next tick", s.Untouched)
	}
	if s.OutputBytes > 0 {
		body += fmt.Sprintf("\nWrote %s from %s of originals",
			humanize.IBytes(uint64(s.OutputBytes)), humanize.IBytes(uint64(max(s.InputBytes, 0))))
	}
	return message{
		event:   EventTickCompleted,
		title:   title,
		body:    body,
		tags:    []string{"photoner", "batch", "completed"},
		summary: &s,
	}
}

func abortedMessage(s TickSummary) message {
	body := fmt.Sprintf("%s aborted: %s", phaseLabel(s), s.AbortReason)
	if detail := strings.TrimSpace(s.AbortDetail); detail != "" {
		body += " (" + detail + ")"
	}
	body += fmt.Sprintf("\n%d enhanced, %d failed, %d untouched", s.Success, s.Failed, s.Untouched)
	return message{
		event:    EventTickAborted,
		title:    "Photoner - Batch Aborted",
		body:     body,
		tags:     []string{"photoner", "batch", "aborted"},
		priority: "high",
		summary:  &s,
	}
}

func errorMessage(err error, contextLabel string) message {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" during ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	errText := "unknown"
	if err != nil {
		errText = strings.TrimSpace(err.Error())
	}
	builder.WriteString(errText)
	return message{
		event:    EventError,
		title:    "Photoner - Error",
		body:     builder.String(),
		tags:     []string{"photoner", "error", "alert"},
		priority: "high",
		errText:  errText,
	}
}

func phaseLabel(s TickSummary) string {
	label := strings.TrimSpace(s.Phase)
	if label == "" {
		label = "batch"
	}
	if s.Population != "" {
		label += " (" + s.Population + ")"
	}
	return label
}

func durationText(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

type ntfyTransport struct {
	endpoint string
	client   *http.Client
}

func newNtfyTransport(endpoint string, client *http.Client) *ntfyTransport {
	return &ntfyTransport{endpoint: endpoint, client: client}
}

func (n *ntfyTransport) deliver(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (n *ntfyTransport) close() error { return nil }

type noopService struct{}

func (noopService) NotifyTickCompleted(context.Context, TickSummary) error { return nil }
func (noopService) NotifyTickAborted(context.Context, TickSummary) error   { return nil }
func (noopService) NotifyError(context.Context, error, string) error       { return nil }
func (noopService) TestNotification(context.Context) error                 { return nil }
func (noopService) Close() error                                           { return nil }
