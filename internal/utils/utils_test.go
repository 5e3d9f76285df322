package utils

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetupLogging(t *testing.T) {
	logger := SetupLogging("debug")
	if logger.Level != logrus.DebugLevel {
		t.Errorf("Expected debug level, got %s", logger.Level)
	}

	logger = SetupLogging("not-a-level")
	if logger.Level != logrus.InfoLevel {
		t.Errorf("Expected fallback to info level, got %s", logger.Level)
	}
}

func TestSetupLoggingFromEnvironment(t *testing.T) {
	t.Setenv("DBREP_LOG_LEVEL", "warning")

	logger := SetupLogging("")
	if logger.Level != logrus.WarnLevel {
		t.Errorf("Expected warning level from environment, got %s", logger.Level)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("DBREP_TEST_CHUNK", "250")
	if got := GetEnvInt("DBREP_TEST_CHUNK", 1000); got != 250 {
		t.Errorf("Expected 250, got %d", got)
	}

	t.Setenv("DBREP_TEST_CHUNK", "not-a-number")
	if got := GetEnvInt("DBREP_TEST_CHUNK", 1000); got != 1000 {
		t.Errorf("Expected default 1000, got %d", got)
	}

	if got := GetEnvInt("DBREP_TEST_UNSET", 42); got != 42 {
		t.Errorf("Expected default 42, got %d", got)
	}
}
