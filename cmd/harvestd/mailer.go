package main

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.opentelemetry.io/otel/codes"

	"github.com/jordan-wright/email"
)

type Mailer struct {
	config ReportConfig
}

type sourceOutcome struct {
	Source    string
	SessionId int64
	Status    string
	Pages     int
	Rows      int
	Err       error
}

func (m Mailer) SendReport(ctx context.Context, outcomes []sourceOutcome) error {
	_, span := tracer.Start(ctx, "SendReport")
	defer span.End()

	if len(m.config.Recipients) == 0 {
		return nil
	}

	var body strings.Builder
	failures := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failures++
			fmt.Fprintf(&body, "%s: FAILED (%v)\n", o.Source, o.Err)
			continue
		}
		fmt.Fprintf(
			&body, "%s: session %d, %s, %d pages, %d rows\n",
			o.Source, o.SessionId, o.Status, o.Pages, o.Rows,
		)
	}

	subject := fmt.Sprintf("Harvest report: %d sources ok", len(outcomes)-failures)
	if failures > 0 {
		subject = fmt.Sprintf("Harvest report: %d of %d sources failed", failures, len(outcomes))
	}

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Harvester <%s>", m.config.Smtp.EmailAddress)
	mail.To = m.config.Recipients
	mail.Subject = subject
	mail.Text = []byte(body.String())

	addr := fmt.Sprintf("%s:%d", m.config.Smtp.Server, m.config.Smtp.Port)
	err := mail.Send(
		addr,
		smtp.PlainAuth("", m.config.Smtp.EmailAddress, m.config.Smtp.Password, m.config.Smtp.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send report")
		return err
	}
	return nil
}
