package relaystate

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/tutorlink/tutorlink/internal/logx"
)

const redisKey = "tutorlink:sessions"

// redisStore keeps session records in a single redis hash keyed by
// session ID, so multiple relay instances expose one combined view.
type redisStore struct {
	client redis.UniversalClient
	ctx    context.Context
}

// NewRedisStore connects to the given redis address or URL.
func NewRedisStore(addr string) (*redisStore, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}
	c := redis.NewUniversalClient(opts)
	rs := &redisStore{client: c, ctx: context.Background()}
	if err := c.Ping(rs.ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rs, nil
}

// parseRedisURL accepts a plain host:port or a redis:// / rediss:// URL
// with optional credentials and db path.
func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("redis: invalid URL scheme: %s", u.Scheme)
	}
	opts := &redis.UniversalOptions{Addrs: strings.Split(u.Host, ",")}
	if u.User != nil {
		opts.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	if u.Path != "" && u.Path != "/" {
		db, err := strconv.Atoi(strings.TrimPrefix(u.Path, "/"))
		if err != nil {
			return nil, fmt.Errorf("redis: invalid db: %v", err)
		}
		opts.DB = db
	}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

func (r *redisStore) Put(s Session) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := r.client.HSet(r.ctx, redisKey, s.ID, b).Err(); err != nil {
		logx.Log.Warn().Err(err).Str("session", s.ID).Msg("redis session put failed")
	}
}

func (r *redisStore) Remove(id string) {
	if err := r.client.HDel(r.ctx, redisKey, id).Err(); err != nil {
		logx.Log.Warn().Err(err).Str("session", id).Msg("redis session remove failed")
	}
}

func (r *redisStore) List() []Session {
	vals, err := r.client.HGetAll(r.ctx, redisKey).Result()
	if err != nil {
		logx.Log.Warn().Err(err).Msg("redis session list failed")
		return nil
	}
	out := make([]Session, 0, len(vals))
	for id, v := range vals {
		var s Session
		if err := json.Unmarshal([]byte(v), &s); err != nil {
			logx.Log.Warn().Str("session", id).Msg("dropping undecodable session record")
			continue
		}
		out = append(out, s)
	}
	return out
}
