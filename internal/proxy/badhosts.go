package proxy

import (
	"time"

	"github.com/philippgille/gokv/encoding"
	"github.com/philippgille/gokv/leveldb"
)

// BadHostCache remembers hosts that recently failed to begin a response
// (remote disconnect, bad status line) so the proxy can skip further
// attempts for a short window, per spec §4.1. Backed by leveldb rather than
// a plain in-memory map so the cache survives a proxy restart mid-capture
// (multiple orchestrator runs share one process per Design Note 9.1).
type BadHostCache struct {
	store gokvStore
	ttl   time.Duration
}

// gokvStore is the subset of gokv.Store this package needs, named so tests
// can substitute an in-memory fake without pulling in leveldb.
type gokvStore interface {
	Set(k string, v interface{}) error
	Get(k string, v interface{}) (bool, error)
	Delete(k string) error
	Close() error
}

type badHostEntry struct {
	ExpiresAtUnix int64
}

// NewBadHostCache opens (or creates) a leveldb-backed cache at dir with the
// given entry lifetime.
func NewBadHostCache(dir string, ttl time.Duration) (*BadHostCache, error) {
	store, err := leveldb.NewStore(leveldb.Options{
		Path:    dir,
		Codec:   encoding.JSON,
	})
	if err != nil {
		return nil, err
	}
	return &BadHostCache{store: store, ttl: ttl}, nil
}

// HostFailureReason classifies why a host/port was added to the cache,
// mirroring classify_host_failure from Design Note 9.1.
type HostFailureReason string

const (
	ReasonRemoteDisconnect HostFailureReason = "remote_disconnect"
	ReasonBadStatusLine    HostFailureReason = "bad_status_line"
	ReasonConnectFailed    HostFailureReason = "connect_failed"
)

// ClassifyHostFailure maps a raw dial/read error to a HostFailureReason.
// Unrecognized errors are treated as connect failures. MarkBad applies the
// same TTL whatever the reason.
func ClassifyHostFailure(err error) HostFailureReason {
	if err == nil {
		return ReasonConnectFailed
	}
	switch err.Error() {
	case "EOF":
		return ReasonRemoteDisconnect
	default:
		return ReasonConnectFailed
	}
}

// MarkBad records hostPort as failing, to be skipped until the TTL elapses.
func (c *BadHostCache) MarkBad(hostPort string, reason HostFailureReason) error {
	return c.store.Set(hostPort, badHostEntry{ExpiresAtUnix: time.Now().Add(c.ttl).Unix()})
}

// IsBad reports whether hostPort is currently within its failure window.
func (c *BadHostCache) IsBad(hostPort string) (bool, error) {
	var entry badHostEntry
	found, err := c.store.Get(hostPort, &entry)
	if err != nil || !found {
		return false, err
	}

	if time.Now().Unix() > entry.ExpiresAtUnix {
		_ = c.store.Delete(hostPort)
		return false, nil
	}
	return true, nil
}

func (c *BadHostCache) Close() error {
	return c.store.Close()
}
