package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

// releaseScript deletes the key only while it still belongs to owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// CodeLedger reserves room codes in Redis so servers sharing one instance
// never issue the same code twice.
type CodeLedger struct {
	client *redis.Client
	owner  string
	ttl    time.Duration
}

// NewCodeLedger creates a ledger whose reservations are tagged with owner.
func NewCodeLedger(client *redis.Client, owner string) *CodeLedger {
	return &CodeLedger{
		client: client,
		owner:  owner,
		ttl:    defaultTTL, // rooms never live this long
	}
}

func (l *CodeLedger) key(code string) string {
	return fmt.Sprintf("room:%s:code", code)
}

// Reserve claims code. It reports false when another server holds it.
func (l *CodeLedger) Reserve(ctx context.Context, code string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(code), l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve %s: %w", code, err)
	}
	return ok, nil
}

// Release frees code if this ledger still owns it.
func (l *CodeLedger) Release(ctx context.Context, code string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key(code)}, l.owner).Err(); err != nil {
		return fmt.Errorf("release %s: %w", code, err)
	}
	return nil
}
