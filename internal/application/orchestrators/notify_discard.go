package orchestrators

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"

	emailAdapter "github.com/revolutedigital/igreja-betania/internal/adapters/email"
	"github.com/revolutedigital/igreja-betania/internal/adapters/storage/localstore"
	"github.com/revolutedigital/igreja-betania/internal/domain/attendance"
	"github.com/revolutedigital/igreja-betania/internal/domain/member"
	"github.com/revolutedigital/igreja-betania/internal/domain/pendingaction"
)

// Discard describes a queued change that was dropped without reaching the
// remote API.
type Discard struct {
	Action      pendingaction.Action
	Reason      string
	Description string // human readable, e.g. "presença de Ana no culto de 2024-01-07 19:00"
	At          time.Time
}

// DiscardNotifier tells someone that a change was lost.
type DiscardNotifier interface {
	NotifyDiscard(ctx context.Context, d Discard) error
}

// LogNotifier only logs discards.
type LogNotifier struct{}

// NotifyDiscard logs d.
func (LogNotifier) NotifyDiscard(_ context.Context, d Discard) error {
	slog.Warn("sync_change_lost", "action", d.Action.String(), "description", d.Description, "reason", d.Reason)
	return nil
}

var mdRenderer = goldmark.New(goldmark.WithRendererOptions(goldmarkHTML.WithHardWraps()))

// EmailDiscardNotifier emails a short report for every discarded change.
type EmailDiscardNotifier struct {
	Sender emailAdapter.Sender
	From   string
	To     []string
}

// NotifyDiscard renders d as markdown, converts it to HTML and sends it.
// PRE: n.Sender is set and n.To is non-empty
// POST: one email is handed to the sender
func (n *EmailDiscardNotifier) NotifyDiscard(ctx context.Context, d Discard) error {
	if n.Sender == nil || len(n.To) == 0 {
		return errors.New("discard notifier has no sender or recipients")
	}
	text, body, err := renderDiscard(d)
	if err != nil {
		return err
	}
	_, err = n.Sender.Send(ctx, emailAdapter.SendRequest{
		To:      n.To,
		From:    n.From,
		Subject: "Alteração não sincronizada: " + d.Description,
		HTML:    body,
		Text:    text,
		Tags:    map[string]string{"kind": string(d.Action.Kind), "entity": string(d.Action.Entity)},
	})
	if err != nil {
		return fmt.Errorf("send discard notice: %w", err)
	}
	return nil
}

// renderDiscard returns the notice as markdown and as HTML.
func renderDiscard(d Discard) (markdown, html string, err error) {
	var md strings.Builder
	fmt.Fprintf(&md, "## Alteração não sincronizada\n\n")
	fmt.Fprintf(&md, "A alteração **%s** feita sem conexão não pôde ser enviada ao servidor e foi descartada.\n\n", d.Description)
	fmt.Fprintf(&md, "- Operação: `%s %s`\n", d.Action.Kind, d.Action.Entity)
	fmt.Fprintf(&md, "- Registrada em: %s\n", d.Action.CreatedAt.Format("02/01/2006 15:04"))
	fmt.Fprintf(&md, "- Tentativas: %d\n", d.Action.Retries)
	fmt.Fprintf(&md, "- Motivo: %s\n\n", d.Reason)
	md.WriteString("Confira o registro e repita a alteração se necessário.\n")

	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(md.String()), &buf); err != nil {
		return "", "", fmt.Errorf("render discard notice: %w", err)
	}
	return md.String(), buf.String(), nil
}

// describeAction names the record an action concerns using cached data,
// falling back to raw ids.
func describeAction(ctx context.Context, local *localstore.Local, a pendingaction.Action) string {
	memberName := func(id string) string {
		if local != nil {
			if m, err := local.Members.GetByID(ctx, id); err == nil {
				return m.Name
			}
		}
		return id
	}
	serviceLabel := func(id string) string {
		if local != nil {
			if s, err := local.Services.GetByID(ctx, id); err == nil {
				if day, err := s.Day(); err == nil {
					return day.Format("2006-01-02") + " " + s.Slot
				}
				return s.Date + " " + s.Slot
			}
		}
		return id
	}

	switch a.Entity {
	case pendingaction.EntityAttendance:
		var p attendance.Pair
		if decodePayload(a, &p) != nil {
			return a.EntityKey
		}
		return fmt.Sprintf("presença de %s no culto de %s", memberName(p.MemberID), serviceLabel(p.ServiceID))
	case pendingaction.EntityMember:
		var m member.Member
		if decodePayload(a, &m) == nil && m.Name != "" {
			return "cadastro de " + m.Name
		}
		return "cadastro de " + memberName(pendingaction.RecordID(a.Entity, a.EntityKey))
	case pendingaction.EntityService:
		return "culto de " + serviceLabel(pendingaction.RecordID(a.Entity, a.EntityKey))
	default:
		return a.EntityKey
	}
}
