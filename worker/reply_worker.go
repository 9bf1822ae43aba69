package worker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"voltcrm/config"
	"voltcrm/store"
	"voltcrm/utils"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// ReplyWorker watches the sending inbox over IMAP and stops sequencing for
// contacts who reply: their active memberships are removed so no further
// steps go out to someone already engaged.
type ReplyWorker struct {
	Store    *store.Store
	Notifier *utils.Notifier
	Logger   *logrus.Logger
	IMAP     config.IMAPConfig
	Interval time.Duration
}

func NewReplyWorker(s *store.Store, notifier *utils.Notifier, logger *logrus.Logger, imapCfg config.IMAPConfig, interval time.Duration) *ReplyWorker {
	return &ReplyWorker{Store: s, Notifier: notifier, Logger: logger, IMAP: imapCfg, Interval: interval}
}

func (w *ReplyWorker) Start(ctx context.Context) {
	if !w.IMAP.Enabled {
		w.Logger.Info("reply worker disabled, no IMAP host configured")
		return
	}
	w.Logger.Info("reply worker started")
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("reply worker shutting down")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.Logger.WithError(err).Error("reply scan failed")
				sentry.CaptureException(err)
			}
		}
	}
}

// RunOnce fetches unseen inbox messages and removes repliers from their
// sequences. CreatedOrSentCount counts memberships removed.
func (w *ReplyWorker) RunOnce(ctx context.Context) (RunResult, error) {
	var result RunResult

	c, err := client.DialTLS(fmt.Sprintf("%s:%d", w.IMAP.Host, w.IMAP.Port), nil)
	if err != nil {
		return result, fmt.Errorf("imap dial: %w", err)
	}
	defer c.Logout()

	if err := c.Login(w.IMAP.Username, w.IMAP.Password); err != nil {
		return result, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(w.IMAP.Mailbox, false); err != nil {
		return result, fmt.Errorf("imap select %s: %w", w.IMAP.Mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.Search(criteria)
	if err != nil {
		return result, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return result, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{}
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}, messages)
	}()

	for msg := range messages {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		w.handleReply(ctx, msg, section, &result)
	}
	if err := <-done; err != nil {
		return result, fmt.Errorf("imap fetch: %w", err)
	}

	// Mark the batch seen so the next tick doesn't reprocess it.
	flags := []interface{}{imap.SeenFlag}
	if err := c.Store(seqset, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
		w.Logger.WithError(err).Warn("imap mark seen failed")
	}

	return result, nil
}

func (w *ReplyWorker) handleReply(ctx context.Context, msg *imap.Message, section *imap.BodySectionName, result *RunResult) {
	if msg.Envelope == nil || len(msg.Envelope.From) == 0 {
		result.skip("message without sender envelope")
		return
	}
	from := msg.Envelope.From[0].Address()

	members, err := w.Store.ActiveMembersByEmail(from)
	if err != nil {
		w.Logger.WithError(err).Error("member lookup by email failed")
		return
	}
	if len(members) == 0 {
		// Not from an enrolled contact; nothing to do.
		return
	}

	snippet := w.extractSnippet(msg.GetBody(section))

	for i := range members {
		member := &members[i]
		reason := "replied"
		if snippet != "" {
			reason = "replied: " + snippet
		}
		if err := w.Store.RemoveMember(member.ID, reason); err != nil {
			w.Logger.WithError(err).WithField("member_id", member.ID).Error("remove member failed")
			continue
		}
		result.CreatedOrSentCount++
		w.Notifier.Publish(ctx, "member.replied", map[string]interface{}{
			"member_id":   member.ID,
			"sequence_id": member.SequenceID,
			"from":        from,
		})
	}
}

// extractSnippet pulls the first bit of the reply's text part for the exit
// reason and the UI event.
func (w *ReplyWorker) extractSnippet(body io.Reader) string {
	if body == nil {
		return ""
	}
	mr, err := mail.CreateReader(body)
	if err != nil {
		return ""
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			return ""
		}
		if _, ok := part.Header.(*mail.InlineHeader); ok {
			buf := make([]byte, 200)
			n, _ := io.ReadFull(part.Body, buf)
			snippet := strings.TrimSpace(string(buf[:n]))
			snippet = strings.ReplaceAll(snippet, "\r\n", " ")
			snippet = strings.ReplaceAll(snippet, "\n", " ")
			return snippet
		}
	}
}
