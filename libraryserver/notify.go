package libraryserver

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
)

type VerifyMailParams struct {
	FullName    string
	Username    string
	ServiceName string
	VerifyURL   string
	ExpiresIn   string
}

type WelcomeMailParams struct {
	FullName    string
	Username    string
	ServiceName string
	SiteURL     string
}

type ResetMailParams struct {
	FullName    string
	ServiceName string
	ResetURL    string
	ExpiresIn   string
}

var (
	verifyTemplate  = template.New("verify")
	welcomeTemplate = template.New("welcome")
	resetTemplate   = template.New("reset")

	//go:embed templates/verify_email.html
	verifyTemplateRaw string
	//go:embed templates/welcome.html
	welcomeTemplateRaw string
	//go:embed templates/password_reset.html
	resetTemplateRaw string
)

func init() {
	if _, err := verifyTemplate.Parse(verifyTemplateRaw); err != nil {
		panic(err)
	}
	if _, err := welcomeTemplate.Parse(welcomeTemplateRaw); err != nil {
		panic(err)
	}
	if _, err := resetTemplate.Parse(resetTemplateRaw); err != nil {
		panic(err)
	}
}

func render(t *template.Template, p any) (string, error) {
	b := bytes.Buffer{}
	err := t.Execute(&b, p)
	return b.String(), err
}

func renderVerifyMail(p VerifyMailParams) (string, error) {
	return render(verifyTemplate, p)
}

func renderWelcomeMail(p WelcomeMailParams) (string, error) {
	return render(welcomeTemplate, p)
}

func renderResetMail(p ResetMailParams) (string, error) {
	return render(resetTemplate, p)
}

// sendVerificationMail emails the address-confirmation link for a fresh
// signup. Delivery problems are logged and swallowed: the account is
// already created and the token can be re-requested.
func (app *App) sendVerificationMail(user *User, token string) {
	body, err := renderVerifyMail(VerifyMailParams{
		FullName:    user.fullName,
		Username:    user.username,
		ServiceName: app.config.ServiceName,
		VerifyURL:   fmt.Sprintf("%s/v1/users/verify/%s", app.config.BaseURL, token),
		ExpiresIn:   fmt.Sprintf("%d minutes", app.config.TokenTTLMinutes),
	})
	if err != nil {
		app.logger.Errorf("failed to render verification mail: %+v", err)
		return
	}
	subject := fmt.Sprintf("%s: please verify your email address", app.config.ServiceName)
	if _, err := app.mailer.SendEmail(user.email, subject, body); err != nil {
		app.logger.Errorf("failed to send verification mail to %s: %+v", user.email, err)
	}
}

func (app *App) sendWelcomeMail(user *User) {
	body, err := renderWelcomeMail(WelcomeMailParams{
		FullName:    user.fullName,
		Username:    user.username,
		ServiceName: app.config.ServiceName,
		SiteURL:     app.config.BaseURL,
	})
	if err != nil {
		app.logger.Errorf("failed to render welcome mail: %+v", err)
		return
	}
	subject := fmt.Sprintf("Welcome to %s", app.config.ServiceName)
	if _, err := app.mailer.SendEmail(user.email, subject, body); err != nil {
		app.logger.Errorf("failed to send welcome mail to %s: %+v", user.email, err)
	}
}

func (app *App) sendPasswordResetMail(user *User, token string) {
	body, err := renderResetMail(ResetMailParams{
		FullName:    user.fullName,
		ServiceName: app.config.ServiceName,
		ResetURL:    fmt.Sprintf("%s/reset-password?token=%s", app.config.BaseURL, token),
		ExpiresIn:   fmt.Sprintf("%d minutes", app.config.TokenTTLMinutes),
	})
	if err != nil {
		app.logger.Errorf("failed to render password reset mail: %+v", err)
		return
	}
	subject := fmt.Sprintf("%s: password reset requested", app.config.ServiceName)
	if _, err := app.mailer.SendEmail(user.email, subject, body); err != nil {
		app.logger.Errorf("failed to send password reset mail to %s: %+v", user.email, err)
	}
}
