// Package render turns a work item into chat message text and the set of
// action buttons that should accompany it. Nothing here performs I/O.
package render

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sauerdaniel/ticketsync/internal/ticket"
)

const (
	// MaxBodyRunes caps the body excerpt; longer bodies end in Ellipsis.
	MaxBodyRunes = 500
	Ellipsis     = "..."

	createdLayout = "02.01.2006 15:04"
	separator     = "━━━━━━━━━━━━━━━━━━━━━"
)

// ActionKind names a ticket workflow affordance.
type ActionKind string

const (
	ActionAssign   ActionKind = "assign"
	ActionComment  ActionKind = "comment"
	ActionReject   ActionKind = "reject"
	ActionClose    ActionKind = "close"
	ActionReassign ActionKind = "reassign"
	ActionRefresh  ActionKind = "refresh"
	ActionOpen     ActionKind = "open"
)

// Action is one button. Exactly one of Data (callback) or URL is set.
type Action struct {
	Kind  ActionKind
	Label string
	Data  string
	URL   string
}

// ActionSet is a keyboard: rows of buttons, top to bottom.
type ActionSet [][]Action

// Kinds flattens the set into its action kinds, row by row.
func (s ActionSet) Kinds() []ActionKind {
	var kinds []ActionKind
	for _, row := range s {
		for _, a := range row {
			kinds = append(kinds, a.Kind)
		}
	}
	return kinds
}

// Renderer formats work items. BaseURL is the helpdesk root used for the
// "open in tracker" link; Render is deterministic for a given Renderer.
type Renderer struct {
	BaseURL string
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Render returns the HTML message text and the action buttons for item.
func (r Renderer) Render(item ticket.WorkItem) (string, ActionSet) {
	return r.Text(item), r.Actions(item)
}

// Text renders the message body in Telegram HTML.
func (r Renderer) Text(item ticket.WorkItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>Ticket #%s</b>\n\n", StateMarker(item.State), escape(item.Number))
	fmt.Fprintf(&b, "📝 <b>Title:</b> %s\n", escape(item.Title))
	fmt.Fprintf(&b, "👤 <b>Requester:</b> %s\n", escape(orDash(item.Requester)))
	fmt.Fprintf(&b, "📁 <b>Queue:</b> %s\n", escape(orDash(item.Queue)))
	fmt.Fprintf(&b, "👨‍💼 <b>Owner:</b> %s\n", ownerLabel(item.Owner))
	fmt.Fprintf(&b, "%s <b>Priority:</b> %s\n", PriorityMarker(item.Priority), escape(orDash(item.Priority)))
	fmt.Fprintf(&b, "📊 <b>State:</b> %s\n", escape(orDash(item.State)))
	fmt.Fprintf(&b, "🕐 <b>Created:</b> %s\n", createdLabel(item))

	if body := strings.TrimSpace(item.Body); body != "" {
		fmt.Fprintf(&b, "\n%s\n\n<blockquote>%s</blockquote>", separator, escape(Excerpt(body)))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Actions decides which buttons the message carries.
func (r Renderer) Actions(item ticket.WorkItem) ActionSet {
	id := strconv.FormatInt(item.ID, 10)
	var set ActionSet

	if !IsClosed(item.State) {
		if !IsAssigned(item.Owner) {
			set = append(set,
				[]Action{callback(ActionAssign, "👤 Take", id), callback(ActionComment, "📝 Comment", id)},
				[]Action{callback(ActionReject, "❌ Reject", id)},
			)
		} else {
			set = append(set,
				[]Action{callback(ActionClose, "✅ Close", id), callback(ActionComment, "📝 Comment", id)},
				[]Action{callback(ActionReassign, "🔄 Reassign", id), callback(ActionReject, "❌ Reject", id)},
			)
		}
	}

	last := []Action{callback(ActionRefresh, "🔄 Refresh", id)}
	if r.BaseURL != "" {
		last = append(last, Action{Kind: ActionOpen, Label: "🌐 Open in OTRS", URL: ZoomURL(r.BaseURL, item.ID)})
	}
	return append(set, last)
}

// CallbackData encodes an action for a button press, e.g. "otrs_assign:101".
func CallbackData(kind ActionKind, id string) string {
	return "otrs_" + string(kind) + ":" + id
}

// ZoomURL links to the agent ticket view.
func ZoomURL(baseURL string, id int64) string {
	root := strings.TrimRight(baseURL, "/")
	if !strings.Contains(root, "/otrs") {
		root += "/otrs"
	}
	return fmt.Sprintf("%s/index.pl?Action=AgentTicketZoom;TicketID=%d", root, id)
}

// Excerpt caps body at MaxBodyRunes runes.
func Excerpt(body string) string {
	if utf8.RuneCountInString(body) <= MaxBodyRunes {
		return body
	}
	runes := []rune(body)
	return string(runes[:MaxBodyRunes]) + Ellipsis
}

func callback(kind ActionKind, label, id string) Action {
	return Action{Kind: kind, Label: label, Data: CallbackData(kind, id)}
}

func escape(s string) string {
	return escaper.Replace(s)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func ownerLabel(owner string) string {
	if !IsAssigned(owner) {
		return "<i>unassigned</i>"
	}
	return escape(owner)
}

func createdLabel(item ticket.WorkItem) string {
	if item.CreatedAt.IsZero() {
		return "-"
	}
	return item.CreatedAt.Format(createdLayout)
}
