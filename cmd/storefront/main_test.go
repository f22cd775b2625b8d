package main

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSetupLogger(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	testCases := []struct {
		name    string
		level   string
		want    log.Level
		wantErr bool
	}{
		{name: "empty keeps info", level: "", want: log.InfoLevel},
		{name: "debug", level: "debug", want: log.DebugLevel},
		{name: "upper case", level: "WARN", want: log.WarnLevel},
		{name: "unknown keeps info", level: "loud", want: log.InfoLevel, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := setupLogger(tc.level)
			if (err != nil) != tc.wantErr {
				t.Fatalf("setupLogger(%q) error = %v, wantErr %v", tc.level, err, tc.wantErr)
			}
			if got := log.GetLevel(); got != tc.want {
				t.Fatalf("expected level %s, got %s", tc.want, got)
			}
		})
	}
}
