// Package policy decides how an inbound message is handled once it has been
// classified. Decide has no side effects and reads no clock.
package policy

import (
	"time"

	"guesthouse-sms-agent/internal/domain"
)

type Mode string

const (
	ModeComplaint  Mode = "COMPLAINT"
	ModeNightDefer Mode = "NIGHT_DEFER"
	ModeNormal     Mode = "NORMAL"
)

// Night window in guesthouse local time, [NightStartHour, NightEndHour).
const (
	NightStartHour = 3
	NightEndHour   = 10
)

// Replies used when no template is configured.
const (
	DefaultComplaintReply  = "불편을 드려 정말 죄송합니다. 담당자가 내용을 확인한 뒤 빠르게 연락드리겠습니다."
	DefaultNightDeferReply = "문의 감사합니다. 지금은 야간 시간이라 오전 10시 이후 담당자가 확인하여 안내드리겠습니다."
)

// TemplateSource looks up the first active template for an intent and
// sub-intent. *configcache.Snapshot satisfies it.
type TemplateSource interface {
	Template(intent, subIntent string) (domain.ReplyTemplate, bool)
}

type Input struct {
	Result           domain.OrchestrationResult
	Night            bool
	ActionIntents    map[string]bool
	ComplaintIntents map[string]bool
	Templates        TemplateSource
}

// Decision is the final handling of one inbound message. Reason is empty
// when NeedFollowup is false.
type Decision struct {
	Mode         Mode
	ReplyText    string
	Intent       string
	FlowType     *string
	Slots        map[string]any
	EndFlow      bool
	NeedFollowup bool
	Reason       domain.FollowupReason
	HandledBy    domain.HandledBy
}

// Decide applies complaint escalation, then night deferral, then normal
// handling, in that fixed order.
func Decide(in Input) Decision {
	r := in.Result
	d := Decision{
		Intent:   r.Intent,
		FlowType: r.FlowType,
		Slots:    r.Slots,
		EndFlow:  r.EndFlow,
	}
	if d.Intent == "" {
		d.Intent = domain.IntentGeneric
	}
	if d.Slots == nil {
		d.Slots = map[string]any{}
	}

	switch {
	case r.IsComplaint || in.ComplaintIntents[d.Intent]:
		d.Mode = ModeComplaint
		d.ReplyText = templateText(in.Templates, DefaultComplaintReply,
			[2]string{domain.IntentComplaint, domain.SubIntentDefault})
		d.NeedFollowup = true
		d.Reason = domain.ReasonComplaint
		d.HandledBy = domain.HandledByComplaint
	case in.Night && in.ActionIntents[d.Intent]:
		d.Mode = ModeNightDefer
		d.ReplyText = templateText(in.Templates, DefaultNightDeferReply,
			[2]string{d.Intent, domain.SubIntentNight},
			[2]string{domain.IntentNightDefer, domain.SubIntentDefault})
		d.NeedFollowup = true
		d.Reason = domain.ReasonNightAction
		d.HandledBy = domain.HandledByNightDefer
	default:
		d.Mode = ModeNormal
		d.ReplyText = r.ReplyText
		d.NeedFollowup = r.NeedFollowup
		if d.NeedFollowup {
			d.Reason = domain.ReasonLLMFlagged
		}
		d.HandledBy = domain.HandledByLLM
	}
	return d
}

func templateText(src TemplateSource, fallback string, keys ...[2]string) string {
	if src == nil {
		return fallback
	}
	for _, k := range keys {
		if t, ok := src.Template(k[0], k[1]); ok {
			return t.Text
		}
	}
	return fallback
}

// IsNightTime reports whether t falls inside the night window in loc. A nil
// loc is treated as UTC.
func IsNightTime(t time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	h := t.In(loc).Hour()
	return h >= NightStartHour && h < NightEndHour
}
