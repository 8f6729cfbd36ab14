package notify

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

// emailParams is passed as data when executing the email templates.
type emailParams struct {
	Email         string
	ApartmentName string
	FlatNumber    string
	Floor         string
	Code          string
	Role          string
	ValidFor      string
}

const otpTemplate = `Hi {{.Email}},

This is your access code for {{.ApartmentName}}:

{{.Code}}

The code is valid for {{.ValidFor}}. Never share it with anyone; FlatFund
staff will never ask for it. If you did not request a code, you can
ignore this email.

Regards,

The FlatFund Team
`

const invitationTemplate = `Hi {{.Email}},

You have been invited to join {{.ApartmentName}} on FlatFund.

Flat: {{.FlatNumber}} (Floor: {{.Floor}})

Your invitation code:

{{.Code}}

Enter this code together with your email address on the FlatFund signup
page to complete your registration. The invitation expires in {{.ValidFor}}.

Regards,

The FlatFund Team
`

const welcomeTemplate = `Hi {{.Email}},

Your registration for {{.ApartmentName}} is complete.

Flat: {{.FlatNumber}} (Floor: {{.Floor}})
Role: {{.Role}}

You can now sign in with your email address; a login code will be sent
to you each time.

Regards,

The FlatFund Team
`

var (
	otpTmpl        = template.Must(template.New("otp").Parse(otpTemplate))
	invitationTmpl = template.Must(template.New("invitation").Parse(invitationTemplate))
	welcomeTmpl    = template.Must(template.New("welcome").Parse(welcomeTemplate))
)

func renderOTP(p emailParams) (string, error)        { return render(otpTmpl, p) }
func renderInvitation(p emailParams) (string, error) { return render(invitationTmpl, p) }
func renderWelcome(p emailParams) (string, error)    { return render(welcomeTmpl, p) }

// formatTTL renders a validity window the way a human would say it. The
// durations come from service configuration, so the text always matches
// the enforced expiry.
func formatTTL(d time.Duration) string {
	day := 24 * time.Hour
	switch {
	case d >= day && d%day == 0:
		if days := int(d / day); days > 1 {
			return fmt.Sprintf("%d days", days)
		}
		return "1 day"
	case d >= time.Hour && d%time.Hour == 0:
		if hours := int(d / time.Hour); hours > 1 {
			return fmt.Sprintf("%d hours", hours)
		}
		return "1 hour"
	default:
		minutes := int(d.Round(time.Minute) / time.Minute)
		if minutes > 1 {
			return fmt.Sprintf("%d minutes", minutes)
		}
		return "1 minute"
	}
}

func render(t *template.Template, p emailParams) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, p); err != nil {
		return "", err
	}
	return sb.String(), nil
}
