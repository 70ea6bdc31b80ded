package automation

import (
	"fmt"
	"html"
	"strings"
)

// layout wraps body content in the shared email shell.
func layout(title, body string) string {
	return fmt.Sprintf(`
	<!DOCTYPE html>
	<html>
	<head>
		<style>
			body { font-family: 'Helvetica Neue', Helvetica, Arial, sans-serif; background-color: #F6F6F6; margin: 0; padding: 0; }
			.container { max-width: 600px; margin: 40px auto; background: #FFFFFF; border-radius: 8px; overflow: hidden; }
			.header { background-color: #1F3A34; padding: 30px; text-align: center; }
			.header h1 { color: #FFFFFF; margin: 0; font-size: 22px; letter-spacing: 1px; }
			.content { padding: 40px 30px; color: #1F3A34; line-height: 1.6; }
			.footer { background-color: #F6F6F6; padding: 20px; text-align: center; font-size: 12px; color: #666666; }
			.btn { display: inline-block; padding: 12px 24px; background-color: #C69C6D; color: #FFFFFF; text-decoration: none; border-radius: 4px; font-weight: bold; margin-top: 20px; }
			.info-box { background: #EEF5F2; padding: 15px; border-radius: 4px; border-left: 4px solid #C69C6D; margin: 20px 0; }
		</style>
	</head>
	<body>
		<div class="container">
			<div class="header"><h1>ACADEMY</h1></div>
			<div class="content">
				<h2>%s</h2>
				%s
			</div>
			<div class="footer">You are receiving this email because of activity on your Academy account.</div>
		</div>
	</body>
	</html>
	`, html.EscapeString(title), body)
}

func greetingName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "there"
	}
	return html.EscapeString(name)
}

// enrollmentEmail renders the course access email. The variant picks copy for
// certification, bundle and free-course purchases.
func enrollmentEmail(name string, courses []string, variant, dashboardURL string) (string, string) {
	items := make([]string, 0, len(courses))
	for _, c := range courses {
		items = append(items, "<li>"+html.EscapeString(c)+"</li>")
	}
	list := "<ul>" + strings.Join(items, "") + "</ul>"

	var subject, title, intro string
	switch variant {
	case "pro_accelerator":
		subject = "Welcome to the Pro Accelerator"
		title = "Your Pro Accelerator access is ready"
		intro = "You now have full access to every program in the Pro Accelerator bundle:"
	case "certification":
		subject = "Your certification program is unlocked"
		title = "Certification access confirmed"
		intro = "Your certification program is ready. Start with module one whenever you like:"
	case "free_course":
		subject = "Your free course is ready"
		title = "Enjoy your free course"
		intro = "Thanks for joining. Your free course is waiting for you:"
	default:
		subject = "You're enrolled"
		title = "Enrollment confirmed"
		intro = "You have been enrolled in:"
	}

	body := fmt.Sprintf(`
		<p>Hi %s,</p>
		<p>%s</p>
		%s
		<a href="%s" class="btn">Go to my courses</a>
	`, greetingName(name), intro, list, html.EscapeString(dashboardURL))
	return subject, layout(title, body)
}

func dfyWelcomeEmail(name, productName, intakeLink string) (string, string) {
	subject := "Let's get started on your " + productName
	body := fmt.Sprintf(`
		<p>Hi %s,</p>
		<p>Thank you for purchasing <strong>%s</strong>. Our team builds this for you.</p>
		<div class="info-box">
			<strong>Next step:</strong> fill out the intake form so we can begin.
		</div>
		<a href="%s" class="btn">Complete intake form</a>
	`, greetingName(name), html.EscapeString(productName), html.EscapeString(intakeLink))
	return subject, layout("Your done-for-you project", body)
}

func dfyStaffMessage(customerName, customerEmail, productName, intakeLink string) string {
	who := strings.TrimSpace(customerName)
	if who == "" {
		who = customerEmail
	}
	return fmt.Sprintf(
		"New %s purchase from %s (%s). You are assigned. Intake form: %s",
		productName, who, customerEmail, intakeLink,
	)
}

func miniDiplomaEmail(name, category, accessURL string) (string, string) {
	label := strings.ReplaceAll(category, "-", " ")
	subject := "Your free mini-diploma is unlocked"
	body := fmt.Sprintf(`
		<p>Hi %s,</p>
		<p>Your free <strong>%s</strong> mini-diploma is ready.</p>
		<p>Lessons unlock one at a time. Over the next few days we will send you tips to get the most out of it.</p>
		<a href="%s" class="btn">Start lesson one</a>
	`, greetingName(name), html.EscapeString(label), html.EscapeString(accessURL))
	return subject, layout("Welcome to your mini-diploma", body)
}

func sequenceStepEmail(name, subject, body string) (string, string) {
	content := strings.ReplaceAll(body, "{{name}}", greetingName(name))
	return subject, layout(subject, content)
}
