package remotestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigDSNIncludesParseTimeAndTimeout(t *testing.T) {
	cfg := Config{Addr: "127.0.0.1:3306", User: "accessd", Pass: "secret", DB: "pidoors"}
	dsn := cfg.dsn()

	assert.Contains(t, dsn, "accessd:secret@tcp(127.0.0.1:3306)/pidoors")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "timeout=5s")
}

func TestNewDoesNotDial(t *testing.T) {
	// New must not touch the network; conn() lazily opens (but does not
	// ping) on first call, and Open never errors on an unreachable host
	// with the mysql driver.
	s := New(Config{Addr: "127.0.0.1:1", User: "x", Pass: "y", DB: "z"})
	assert.Nil(t, s.db)
	db, err := s.conn()
	assert.NoError(t, err)
	assert.NotNil(t, db)
	assert.NoError(t, s.Close())
}
