package wlog

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSessionScopesVariantField(t *testing.T) {
	var buf bytes.Buffer
	Logger.SetOutput(&buf)
	defer Logger.SetOutput(nil)

	entry := Session("LinkE")
	assert.Equal(t, "LinkE", entry.Data["variant"])
}

func TestChipScopesFamilyAndChipID(t *testing.T) {
	entry := Chip("CH32V103", 0x2a)
	assert.Equal(t, "CH32V103", entry.Data["family"])
	assert.Equal(t, uint32(0x2a), entry.Data["chip_id"])
}

func TestNewBaseHonorsEnvLevel(t *testing.T) {
	t.Setenv(EnvLevel, "debug")
	l := newBase()
	assert.Equal(t, logrus.DebugLevel, l.Level)
}

func TestNewBaseDefaultsToInfoOnUnparsableLevel(t *testing.T) {
	t.Setenv(EnvLevel, "not-a-level")
	l := newBase()
	assert.Equal(t, logrus.InfoLevel, l.Level)
}

func TestNewBaseDefaultsToInfoWhenUnset(t *testing.T) {
	l := newBase()
	assert.Equal(t, logrus.InfoLevel, l.Level)
}
