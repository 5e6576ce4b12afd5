package main

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"adharvest/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupSmtp(t testing.TB) func() {
	// suppress logging
	testcontainers.Logger = log.New(io.Discard, "", 0)

	smtp, err := testcontainers.GenericContainer(
		context.Background(),
		testcontainers.GenericContainerRequest{
			Started: true,
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "haravich/fake-smtp-server",
				ExposedPorts: []string{"1025:1025", "1080:1080"},
				WaitingFor:   wait.ForLog("smtp://0.0.0.0:1025"),
			},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	return func() {
		err := smtp.Terminate(context.Background())
		if err != nil {
			t.Fatal(err)
		}
	}
}

var mailClient = resty.New()

func TestSendReportNoRecipients(t *testing.T) {
	mailer := Mailer{config: ReportConfig{}}
	err := mailer.SendReport(context.Background(), []sourceOutcome{
		{Source: "videolist", SessionId: 1, Status: "complete"},
	})
	require.NoError(t, err)
}

func TestSendReport(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:harvestd")
	defer cleanup()
	stop := setupSmtp(t)
	defer stop()

	mailer := Mailer{config: ReportConfig{
		Recipients: []string{"ops@example.com"},
		Smtp: SmtpConfig{
			Server:       "localhost",
			Port:         1025,
			EmailAddress: "harvestd@example.com",
			Password:     "default",
		},
	}}

	// the fake server rejects AUTH, so a passing send also means the
	// plain-send fallback works
	err := mailer.SendReport(context.Background(), []sourceOutcome{
		{Source: "videolist", SessionId: 1, Status: "complete", Pages: 3, Rows: 75},
		{Source: "adlibrary", Err: errors.New("authentication rejected with http 401")},
	})
	require.NoError(t, err)

	res, err := mailClient.R().Get("http://127.0.0.1:1080/messages/1.plain")
	if err != nil {
		t.Fatal(err)
	}
	body := res.String()
	require.Contains(t, body, "videolist: session 1, complete, 3 pages, 75 rows")
	require.Contains(t, body, "adlibrary: FAILED (authentication rejected with http 401)")
}
