package escalation

import (
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/unclebandit/chaser-backend/internal/model"
)

// MessageContext is everything a chase template can refer to.
type MessageContext struct {
	FirstName    string
	PracticeName string
	Remaining    int
	Deadline     *time.Time
	Link         string
}

type template struct {
	subject string
	body    string
}

var templates = map[model.Level]template{
	model.LevelGentle: {
		subject: "Documents needed by {practice_name}",
		body: "Hi {first_name},\n\n" +
			"{practice_name} is collecting a few things from you. We still need {remaining} {documents}, " +
			"which you can upload securely here:\n{link}\n\n" +
			"It would be a great help to have them {deadline}.\n\n" +
			"Thanks,\n{practice_name}",
	},
	model.LevelReminder: {
		subject: "Reminder: {remaining} {documents} outstanding",
		body: "Hi {first_name},\n\n" +
			"Just a quick reminder that {practice_name} is still waiting on {remaining} {documents}. " +
			"Uploading takes a couple of minutes:\n{link}\n\n" +
			"Please send them {deadline}.\n\n" +
			"Thanks,\n{practice_name}",
	},
	model.LevelFirm: {
		subject: "Action needed: {remaining} {documents} still outstanding",
		body: "Hi {first_name},\n\n" +
			"We have not yet received {remaining} {documents} we need from you. " +
			"Without them {practice_name} cannot complete your work on time.\n\n" +
			"Upload here:\n{link}\n\n" +
			"Please do this {deadline}.\n\n" +
			"{practice_name}",
	},
	model.LevelUrgent: {
		subject: "Urgent: {remaining} {documents} needed {deadline}",
		body: "Hi {first_name},\n\n" +
			"This is urgent. {practice_name} still needs {remaining} {documents} from you and we are " +
			"running out of time to meet the deadline.\n\n" +
			"Please upload them today:\n{link}\n\n" +
			"If something is stopping you, reply to this message and we will help.\n\n" +
			"{practice_name}",
	},
	model.LevelEscalate: {
		subject: "Final notice from {practice_name}: documents overdue",
		body: "Hi {first_name},\n\n" +
			"Despite several reminders we are still missing {remaining} {documents}. " +
			"A member of the {practice_name} team will be in touch about next steps.\n\n" +
			"You can still upload everything here:\n{link}\n\n" +
			"{practice_name}",
	},
}

const deadlineLayout = "Monday 2 January 2006"

// GenerateMessage renders the fixed template for level. The output depends
// only on its inputs.
func GenerateMessage(level model.Level, ctx MessageContext) (subject, body string) {
	t, ok := templates[level]
	if !ok {
		t = templates[model.LevelGentle]
	}
	r := replacer(ctx)
	return r.Replace(t.subject), r.Replace(t.body)
}

// names returns the greeting and practice name with their fallbacks, shared
// by email bodies and chat template variables.
func names(ctx MessageContext) (firstName, practice string) {
	firstName = strings.TrimSpace(ctx.FirstName)
	if firstName == "" {
		firstName = "there"
	}
	practice = strings.TrimSpace(ctx.PracticeName)
	if practice == "" {
		practice = "your practice"
	}
	return firstName, practice
}

func replacer(ctx MessageContext) *strings.Replacer {
	firstName, practice := names(ctx)
	documents := "documents"
	if ctx.Remaining == 1 {
		documents = "document"
	}
	deadline := "as soon as possible"
	if ctx.Deadline != nil {
		deadline = "by " + ctx.Deadline.Format(deadlineLayout)
	}
	// A single Replacer pass means placeholder text inside a value is never
	// expanded a second time.
	return strings.NewReplacer(
		"{first_name}", firstName,
		"{practice_name}", practice,
		"{remaining}", strconv.Itoa(ctx.Remaining),
		"{documents}", documents,
		"{deadline}", deadline,
		"{link}", ctx.Link,
	)
}

// RenderHTML turns a plain-text chase body into the html part of an email.
// Blank lines become paragraphs and the upload link becomes an anchor.
func RenderHTML(body, link string) string {
	var b strings.Builder
	for _, para := range strings.Split(body, "\n\n") {
		b.WriteString("<p>")
		for i, line := range strings.Split(para, "\n") {
			if i > 0 {
				b.WriteString("<br>")
			}
			if link != "" && line == link {
				b.WriteString(`<a href="` + html.EscapeString(link) + `">Upload your documents</a>`)
				continue
			}
			b.WriteString(html.EscapeString(line))
		}
		b.WriteString("</p>")
	}
	return b.String()
}

// Variables is the positional variable map chat templates are filled with.
func Variables(ctx MessageContext) map[string]string {
	firstName, practice := names(ctx)
	return map[string]string{
		"1": firstName,
		"2": practice,
		"3": strconv.Itoa(ctx.Remaining),
		"4": ctx.Link,
	}
}
