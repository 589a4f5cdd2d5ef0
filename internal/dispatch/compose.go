package dispatch

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/lalithlochan/solarops/internal/db"
	"github.com/lalithlochan/solarops/internal/fault"
	"github.com/lalithlochan/solarops/internal/recipients"
)

//go:embed templates/*
var templateFS embed.FS

var funcMap = map[string]any{
	"priority": func(p db.Priority) string {
		if p == "" {
			return "unspecified"
		}
		return strings.ToUpper(string(p[:1])) + string(p[1:])
	},
}

var (
	htmlTemplate = template.Must(template.New("fault_email.html").Funcs(funcMap).ParseFS(templateFS, "templates/fault_email.html"))
	textTemplate = texttemplate.Must(texttemplate.New("fault_email.txt").Funcs(funcMap).ParseFS(templateFS, "templates/fault_email.txt"))
)

// emailData is what the fault email templates render
type emailData struct {
	RecipientName string
	CompanyName   string
	SiteName      string
	Created       bool
	Title         string
	Location      string
	Description   string
	Priority      db.Priority
	StatusLabel   string
	Duration      string
	Resolution    string
}

// Composer renders one customer email per recipient
type Composer struct{}

// Subject builds the subject line: company, fault title and status wording
func (Composer) Subject(company string, f *db.Fault, trigger fault.Trigger, status db.FaultStatus) string {
	if trigger == fault.TriggerCreated {
		return fmt.Sprintf("[%s] New fault: %s", company, f.Title)
	}
	return fmt.Sprintf("[%s] %s is %s", company, f.Title, fault.Label(status))
}

// Compose renders the message for one recipient
func (c Composer) Compose(ev *db.FaultEvent, trigger fault.Trigger, aud *recipients.Audience, to recipients.Recipient, now time.Time) (*db.EmailPayload, error) {
	f := ev.Fault

	name := to.DisplayName
	if name == "" {
		name = to.Email
	}

	data := emailData{
		RecipientName: name,
		CompanyName:   aud.CompanyName,
		SiteName:      aud.SiteName,
		Created:       trigger == fault.TriggerCreated,
		Title:         f.Title,
		Location:      f.Location,
		Description:   f.Description,
		Priority:      f.Priority,
		StatusLabel:   fault.Label(ev.NewStatus),
		Duration:      fault.Elapsed(f, now),
	}
	if ev.NewStatus == db.StatusResolved && f.Resolution != nil {
		data.Resolution = f.Resolution.Description
	}

	var html, text bytes.Buffer
	if err := htmlTemplate.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("render html body: %w", err)
	}
	if err := textTemplate.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("render text body: %w", err)
	}

	return &db.EmailPayload{
		To:       to.Email,
		Subject:  c.Subject(aud.CompanyName, f, trigger, ev.NewStatus),
		HTMLBody: html.String(),
		TextBody: text.String(),
	}, nil
}
