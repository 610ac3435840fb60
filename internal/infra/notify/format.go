package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"credit-reset/internal/domain/model"
	"credit-reset/internal/domain/ports/adapter"
	"credit-reset/internal/infra/i18n"
)

// markup is the per-channel flavour of the shared report layout.
type markup interface {
	title(s string) string
	section(s string) string
	field(label, value string, tone tone) string
	item(n int, icon, name string, tone tone) string
	note(s string) string
	strong(s string) string
	escape(s string) string
}

type tone int

const (
	toneInfo tone = iota
	toneWarn
	toneMuted
)

func statusIcon(s model.ResetStatus) string {
	switch s {
	case model.ResetStatusSuccess:
		return "✅"
	case model.ResetStatusFailed:
		return "❌"
	case model.ResetStatusSkipped:
		return "⏭️"
	case model.ResetStatusScheduled:
		return "⏲️"
	}
	return "❓"
}

func statusTone(s model.ResetStatus) tone {
	switch s {
	case model.ResetStatusFailed:
		return toneWarn
	case model.ResetStatusSkipped:
		return toneMuted
	}
	return toneInfo
}

func reportTitle(r *model.RunSummary, tr *i18n.Translator) string {
	if r.Delayed {
		return tr.T("report.title_deferred")
	}
	return tr.T("report.title", checkpointLabel(r.Kind, tr))
}

func checkpointLabel(k model.CheckpointKind, tr *i18n.Translator) string {
	key := "checkpoint." + string(k)
	if s := tr.T(key); s != key {
		return s
	}
	return k.Label()
}

// renderReport lays out a run summary: header counts, then one entry per detail.
func renderReport(r *model.RunSummary, m markup, tr *i18n.Translator) string {
	var b strings.Builder
	title := reportTitle(r, tr)
	if r.DryRun {
		title += " " + tr.T("report.dry_run")
	}
	b.WriteString(m.title("📊 " + title))
	if r.AccountMask != "" {
		b.WriteString(m.field("🔑 "+tr.T("report.account"), m.escape(r.AccountMask), toneMuted))
	}
	if r.Err != "" {
		b.WriteString(m.field("⚠️ "+tr.T("report.error"), m.escape(r.Err), toneWarn))
	}
	if !r.Delayed {
		b.WriteString(m.field("📦 "+tr.T("report.subscriptions"), tr.T("report.subscriptions_eligible", r.Total, r.Eligible), toneInfo))
	}
	b.WriteString(m.field("✅ "+tr.T("report.success"), fmt.Sprint(r.Success), toneInfo))
	b.WriteString(m.field("❌ "+tr.T("report.failed"), fmt.Sprint(r.Failed), toneWarn))
	b.WriteString(m.field("⏭️ "+tr.T("report.skipped"), fmt.Sprint(r.Skipped), toneMuted))
	if r.Scheduled > 0 {
		b.WriteString(m.field("⏲️ "+tr.T("report.scheduled"), fmt.Sprint(r.Scheduled), toneInfo))
	}

	if len(r.Details) > 0 {
		b.WriteString("\n")
		b.WriteString(m.section("📝 " + tr.T("report.details")))
		for i, d := range r.Details {
			name := d.SubscriptionName
			if name == "" {
				name = d.SubscriptionID
			}
			b.WriteString(m.item(i+1, statusIcon(d.Status), m.escape(name), statusTone(d.Status)))
			if d.Status == model.ResetStatusSuccess && d.AfterCredits != nil {
				b.WriteString(m.note(tr.T("report.credits", d.BeforeCredits, m.strong(fmt.Sprintf("%.2f", *d.AfterCredits)))))
				if !d.Verified {
					b.WriteString(m.note(tr.T("report.unverified")))
				}
				continue
			}
			if d.Message != "" {
				b.WriteString(m.note(m.escape(d.Message)))
			}
		}
	}
	return b.String()
}

// renderStartup lists every subscription seen at startup, active ones first.
func renderStartup(rep *adapter.StartupReport, at time.Time, m markup, tr *i18n.Translator) string {
	var b strings.Builder
	b.WriteString(m.title("🚀 " + tr.T("startup.title")))
	b.WriteString(m.field("⏰ "+tr.T("startup.started"), at.Format("2006-01-02 15:04:05"), toneInfo))
	b.WriteString(m.field("🔑 "+tr.T("startup.accounts"), fmt.Sprint(rep.Accounts), toneInfo))
	b.WriteString(m.field("📦 "+tr.T("startup.subscriptions"), fmt.Sprint(len(rep.Subscriptions)), toneInfo))

	var active, inactive []*model.Subscription
	for _, s := range rep.Subscriptions {
		if s.IsActive {
			active = append(active, s)
		} else {
			inactive = append(inactive, s)
		}
	}
	n := 0
	list := func(header string, subs []*model.Subscription, t tone) {
		if len(subs) == 0 {
			return
		}
		b.WriteString("\n")
		b.WriteString(m.section(header))
		for _, s := range subs {
			n++
			b.WriteString(m.item(n, "•", m.escape(s.Label()), t))
			b.WriteString(m.note(m.escape(subscriptionLine(s, tr))))
		}
	}
	list("📊 "+tr.T("startup.active"), active, toneInfo)
	list("⏸️ "+tr.T("startup.inactive"), inactive, toneMuted)
	return b.String()
}

func subscriptionLine(s *model.Subscription, tr *i18n.Translator) string {
	parts := []string{tr.T("subscription.credits", s.CurrentCredits, s.CreditLimit)}
	if s.IsMetered() {
		parts = append(parts, tr.T("subscription.metered"))
	} else {
		parts = append(parts, tr.T("subscription.resets_left", s.ResetTimes))
	}
	if s.RemainingDays != nil {
		parts = append(parts, tr.T("subscription.days_left", *s.RemainingDays))
	}
	if s.LastResetAt != nil {
		parts = append(parts, tr.T("subscription.last_reset", s.LastResetAt.Format("2006-01-02 15:04:05")))
	}
	return strings.Join(parts, ", ")
}

// --- plain text (local file) ---

type plainText struct{}

func (plainText) title(s string) string   { return s + "\n\n" }
func (plainText) section(s string) string { return s + ":\n" }
func (plainText) field(label, value string, _ tone) string {
	return label + ": " + value + "\n"
}
func (plainText) item(n int, icon, name string, _ tone) string {
	return fmt.Sprintf("%d. %s %s\n", n, icon, name)
}
func (plainText) note(s string) string   { return "   " + s + "\n" }
func (plainText) strong(s string) string { return s }
func (plainText) escape(s string) string { return s }

// --- Telegram HTML ---

type telegramHTML struct{}

func (telegramHTML) title(s string) string   { return "<b>" + html.EscapeString(s) + "</b>\n\n" }
func (telegramHTML) section(s string) string { return "<b>" + html.EscapeString(s) + "</b>\n" }
func (telegramHTML) field(label, value string, _ tone) string {
	return html.EscapeString(label) + ": " + value + "\n"
}
func (telegramHTML) item(n int, icon, name string, _ tone) string {
	return fmt.Sprintf("%d. %s %s\n", n, icon, name)
}
func (telegramHTML) note(s string) string   { return "   " + s + "\n" }
func (telegramHTML) strong(s string) string { return "<b>" + s + "</b>" }
func (telegramHTML) escape(s string) string { return html.EscapeString(s) }

// --- WeCom markdown ---

type wecomMarkdown struct{}

func (wecomMarkdown) color(t tone) string {
	switch t {
	case toneWarn:
		return "warning"
	case toneMuted:
		return "comment"
	}
	return "info"
}

func (wecomMarkdown) title(s string) string   { return "## " + s + "\n\n" }
func (wecomMarkdown) section(s string) string { return "### " + s + "\n" }
func (w wecomMarkdown) field(label, value string, t tone) string {
	return fmt.Sprintf("> %s: <font color=\"%s\">%s</font>\n", label, w.color(t), value)
}
func (w wecomMarkdown) item(n int, icon, name string, t tone) string {
	return fmt.Sprintf("%d. %s <font color=\"%s\">%s</font>\n", n, icon, w.color(t), name)
}
func (wecomMarkdown) note(s string) string   { return "   > " + s + "\n" }
func (wecomMarkdown) strong(s string) string { return "**" + s + "**" }
func (wecomMarkdown) escape(s string) string { return s }
