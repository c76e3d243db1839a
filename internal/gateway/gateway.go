package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sparkforge/sparkgate/internal/audit"
	"github.com/sparkforge/sparkgate/internal/bus"
	"github.com/sparkforge/sparkgate/internal/channel"
	"github.com/sparkforge/sparkgate/internal/classify"
	"github.com/sparkforge/sparkgate/internal/config"
	"github.com/sparkforge/sparkgate/internal/cron"
	"github.com/sparkforge/sparkgate/internal/guardian"
	"github.com/sparkforge/sparkgate/internal/provider"
	"github.com/sparkforge/sparkgate/internal/route"
	"github.com/sparkforge/sparkgate/internal/session"
	"github.com/sparkforge/sparkgate/internal/spark"
)

// ErrInvalidInput marks an empty or oversized message. It is rejected with a
// user-visible reply and never triggers an escalation.
var ErrInvalidInput = errors.New("invalid input")

const invalidInputReply = "I didn't catch that - could you type your question again? " +
	"Keep it to a few sentences and I'm all ears."

const (
	pruneJobName  = "__internal_audit_prune"
	pruneJobMsg   = "__internal:audit:prune"
	pruneJobExpr  = "0 0 3 * * *"
	digestJobName = "__internal_audit_digest"
	digestJobMsg  = "__internal:audit:digest"
)

// Options allows test injection of the external boundaries.
type Options struct {
	RuntimeFactory provider.Factory
	Notifier       guardian.Notifier
	SignalChan     chan os.Signal
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	classifier *classify.Classifier
	pool       *provider.Pool
	sessions   *session.Manager
	alerts     *audit.Store
	notifier   guardian.Notifier
	channels   *channel.ChannelManager
	cron       *cron.Service
	signalChan chan os.Signal
}

// New creates a Gateway with default options.
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing.
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	// Safety alert log
	dbPath := strings.TrimSpace(cfg.Audit.DBPath)
	if dbPath == "" {
		dbPath = filepath.Join(config.ConfigDir(), "data", "alerts.db")
	}
	alerts, err := audit.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("create audit store: %w", err)
	}
	g.alerts = alerts

	// Classifier with the injected signal model
	g.classifier = classify.New(classify.NewHeuristicModel(cfg.Safety.ExtraTriggers))

	// Guardian boundary
	g.notifier = opts.Notifier
	if g.notifier == nil {
		if cfg.Safety.GuardianWebhook != "" {
			g.notifier = guardian.NewWebhookNotifier(cfg.Safety.GuardianWebhook,
				time.Duration(cfg.Safety.NotifyTimeout)*time.Second)
		} else {
			g.notifier = guardian.NopNotifier{}
		}
	}

	g.sessions = session.NewManager(cfg.Agent.HistoryDepth)

	// One model runtime per spark
	pool, err := provider.NewPool(cfg, opts.RuntimeFactory)
	if err != nil {
		_ = g.alerts.Close()
		return nil, err
	}
	g.pool = pool

	g.signalChan = opts.SignalChan

	// Maintenance schedule
	cronStorePath := filepath.Join(config.ConfigDir(), "data", "cron", "jobs.json")
	g.cron = cron.NewService(cronStorePath)
	g.cron.OnJob = g.handleJob

	// Channels
	chMgr, err := channel.NewChannelManager(cfg.Channels, cfg.Gateway, g.bus, channel.WebUIHooks{
		Status: g.statusSnapshot,
		Reset:  g.sessions.Reset,
		Switch: g.switchSpark,
	})
	if err != nil {
		pool.Close()
		_ = g.alerts.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	return g, nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[cron] start warning: %v", err)
	}
	if err := g.ensureInternalJobs(); err != nil {
		log.Printf("[gateway] ensure internal jobs warning: %v", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running on %s:%d", g.cfg.Gateway.Host, g.cfg.Gateway.Port)

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))
			g.handleMessage(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

// handleMessage runs one message through the full pipeline:
// validate -> classify -> route -> (escalate) -> model reply -> guard -> send.
func (g *Gateway) handleMessage(ctx context.Context, msg bus.InboundMessage) {
	key := msg.SessionKey()

	text, err := validate(msg.Content, g.cfg.Safety.MaxMessageLen)
	if err != nil {
		g.bus.Outbound <- bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: invalidInputReply,
			Kind:    bus.KindReply,
		}
		return
	}

	sess := g.sessions.Get(key)

	cls := g.classifier.Classify(ctx, classify.Message{
		SessionID: sess.ID,
		Channel:   msg.Channel,
		Text:      text,
		Timestamp: msg.Timestamp,
	})

	dec := route.Route(cls, sess.Spark)

	if dec.Strategy == route.GuardianEscalate {
		g.escalate(ctx, msg, text, cls, dec)
		// The session is with Guardian from here on.
		sess = g.sessions.Get(key)
	}

	activeSpark := spark.MustGet(dec.Spark)

	reply, err := g.pool.Reply(ctx, dec.Spark, sess.RuntimeSession, text, dec.Constraint)
	if err != nil {
		log.Printf("[gateway] provider error on %s: %v", dec.Spark, err)
		reply = fallbackFor(dec.Spark)
	}

	if dec.ForbiddenLiteral != "" {
		var scrubbed bool
		reply, scrubbed = route.ScrubAnswer(reply, dec.ForbiddenLiteral)
		if scrubbed {
			log.Printf("[gateway] scrubbed direct answer %q from %s reply", dec.ForbiddenLiteral, dec.Spark)
		}
	}

	reply = activeSpark.WithAnchor(reply)

	g.sessions.RecordExchange(key, text, reply)

	g.bus.Outbound <- bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
		Kind:    bus.KindReply,
	}
}

// escalate records the alert, surfaces the disclosure notice, notifies the
// Guardian channel, and moves the session to the Guardian spark. The notice
// is sent before anything that can fail: routing is never silent, and a
// notifier failure only loses the external delivery.
func (g *Gateway) escalate(ctx context.Context, msg bus.InboundMessage, text string, cls classify.Classification, dec route.Decision) {
	key := msg.SessionKey()

	g.bus.Outbound <- bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: dec.DisclosureNotice,
		Kind:    bus.KindNotice,
	}

	g.sessions.RecordAlert(key)

	alertID, err := g.alerts.RecordAlert(audit.Alert{
		SessionKey:    key,
		Channel:       msg.Channel,
		TriggerText:   text,
		MatchedSignal: cls.MatchedSignal,
		Confidence:    cls.Confidence,
	})
	if err != nil {
		log.Printf("[gateway] record alert warning: %v", err)
	}

	if err := g.notifier.Notify(ctx, guardian.Notification{
		AlertID:          alertID,
		SessionKey:       key,
		Channel:          msg.Channel,
		Message:          text,
		MatchedSignal:    cls.MatchedSignal,
		DisclosureNotice: dec.DisclosureNotice,
	}); err != nil {
		log.Printf("[gateway] guardian notify failed for alert %s: %v", alertID, err)
	} else if alertID != "" {
		if err := g.alerts.MarkNotified(alertID); err != nil {
			log.Printf("[gateway] mark notified warning: %v", err)
		}
	}

	if _, err := g.sessions.Switch(key, spark.Guardian); err != nil {
		log.Printf("[gateway] switch to guardian warning: %v", err)
	}
}

// validate rejects empty and oversized messages.
func validate(content string, maxLen int) (string, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return "", ErrInvalidInput
	}
	if maxLen > 0 && len(text) > maxLen {
		return "", ErrInvalidInput
	}
	return text, nil
}

// fallbackFor picks the recoverable reply for a provider failure. The tutor
// path falls back to generic guidance; the Guardian path falls back to the
// immediate-safety script so the student is never left without support.
func fallbackFor(id spark.ID) string {
	if id == spark.Guardian {
		return spark.ImmediateDangerCheck
	}
	return route.FallbackGuidance
}

func (g *Gateway) switchSpark(sessionKey, sparkID string) error {
	_, err := g.sessions.Switch(sessionKey, spark.ID(sparkID))
	return err
}

func (g *Gateway) statusSnapshot(sessionKey string) (any, error) {
	alertsToday, err := g.alerts.CountSince(time.Now().Add(-24 * time.Hour))
	if err != nil {
		return nil, err
	}

	status := map[string]any{
		"safety_alerts_24h": alertsToday,
		"channels":          g.channels.EnabledChannels(),
	}
	if info, ok := g.sessions.Lookup(sessionKey); ok {
		status["session"] = info
	}
	return status, nil
}

func (g *Gateway) ensureInternalJobs() error {
	if err := g.cron.EnsureJob(pruneJobName, pruneJobExpr, pruneJobMsg); err != nil {
		return err
	}
	if g.cfg.Digest.Enabled {
		if err := g.cron.EnsureJob(digestJobName, g.cfg.Digest.Schedule, digestJobMsg); err != nil {
			return err
		}
	}
	return nil
}

// handleJob dispatches cron jobs. Internal messages run maintenance; any
// other job delivers its message to the configured channel as an
// announcement.
func (g *Gateway) handleJob(job cron.Job) (string, error) {
	switch job.Message {
	case pruneJobMsg:
		cutoff := time.Now().AddDate(0, 0, -g.cfg.Audit.RetentionDays)
		n, err := g.alerts.PruneBefore(cutoff)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("pruned %d alerts", n), nil

	case digestJobMsg:
		return g.deliverDigest()
	}

	if job.Channel != "" && job.To != "" {
		g.bus.Outbound <- bus.OutboundMessage{
			Channel: job.Channel,
			ChatID:  job.To,
			Content: job.Message,
			Kind:    bus.KindNotice,
		}
		return "delivered", nil
	}
	return "", fmt.Errorf("job %s has no delivery target", job.Name)
}

func (g *Gateway) deliverDigest() (string, error) {
	count, err := g.alerts.CountSince(time.Now().Add(-24 * time.Hour))
	if err != nil {
		return "", err
	}

	digest := fmt.Sprintf("Safety digest: %d alert(s) in the last 24 hours.", count)
	if count > 0 {
		recent, err := g.alerts.RecentAlerts(10)
		if err == nil {
			var sb strings.Builder
			sb.WriteString(digest)
			for _, a := range recent {
				sb.WriteString(fmt.Sprintf("\n- %s %s (signal: %s, notified: %v)",
					a.CreatedAt.Format("15:04"), a.SessionKey, a.MatchedSignal, a.Notified))
			}
			digest = sb.String()
		}
	}

	if g.cfg.Digest.Channel != "" && g.cfg.Digest.To != "" {
		g.bus.Outbound <- bus.OutboundMessage{
			Channel: g.cfg.Digest.Channel,
			ChatID:  g.cfg.Digest.To,
			Content: digest,
			Kind:    bus.KindNotice,
		}
	}
	return digest, nil
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	if g.pool != nil {
		g.pool.Close()
	}
	if g.alerts != nil {
		if err := g.alerts.Close(); err != nil {
			log.Printf("[gateway] close audit store warning: %v", err)
		}
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
