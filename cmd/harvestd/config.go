package main

import (
	"adharvest/lib/configuration"
	"adharvest/lib/sources"
)

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
}

type ReportConfig struct {
	// Recipients of the per-cycle summary mail. Empty disables reports.
	Recipients []string   `json:"recipients"`
	Smtp       SmtpConfig `json:"smtp"`
}

type Config struct {
	// IntervalMinutes is the spacing between harvest cycles.
	IntervalMinutes int                  `json:"interval_minutes"`
	Database        configuration.Libsql `json:"database"`
	Sources         []sources.Config     `json:"sources"`
	Report          ReportConfig         `json:"report"`
}
