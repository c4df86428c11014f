package casing_test

import (
	"testing"

	"github.com/erlorenz/memvault/config/internal/casing"
)

func TestSnake(t *testing.T) {
	table := map[string]string{
		"Port":                  "port",
		"HTTPPort":              "http_port",
		"UserID":                "user_id",
		"Test2Test":             "test2_test",
		"EnableSSLMode":         "enable_ssl_mode",
		"DB":                    "db",
		"Storage.URL":           "storage_url",
		"Storage.SyncWrites":    "storage_sync_writes",
		"OpenTimeout":           "open_timeout",
		"First.SecondACR.Third": "first_second_acr_third",
	}

	for in, want := range table {
		t.Run(in, func(t *testing.T) {
			if got := casing.ToSnake(in); got != want {
				t.Errorf("wanted %s, got %s", want, got)
			}
		})
	}
}

func TestScreamingSnake(t *testing.T) {
	table := map[string]string{
		"Port":               "PORT",
		"HTTPPort":           "HTTP_PORT",
		"Crypto.Key":         "CRYPTO_KEY",
		"Storage.SyncWrites": "STORAGE_SYNC_WRITES",
	}

	for in, want := range table {
		t.Run(in, func(t *testing.T) {
			if got := casing.ToScreamingSnake(in); got != want {
				t.Errorf("wanted %s, got %s", want, got)
			}
		})
	}
}

func TestKebab(t *testing.T) {
	table := map[string]string{
		"Port":               "port",
		"UserID":             "user-id",
		"Log.Level":          "log-level",
		"Storage.SyncWrites": "storage-sync-writes",
		"OpenTimeout":        "open-timeout",
	}

	for in, want := range table {
		t.Run(in, func(t *testing.T) {
			if got := casing.ToKebab(in); got != want {
				t.Errorf("wanted %s, got %s", want, got)
			}
		})
	}
}
