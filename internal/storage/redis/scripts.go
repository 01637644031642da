package redis

const (
	// createAPIKeyScript stores a key digest only if it is not already
	// present, and indexes it by expiry for purging.
	createAPIKeyScript = `
local key_hash = KEYS[1]      -- dwelltime:apikey:{digest}
local expiry_index = KEYS[2]  -- dwelltime:apikeys:expiry

local digest = ARGV[1]
local created_at = ARGV[2]
local expires_at = ARGV[3]
local expires_ms = ARGV[4]
local retain_until_ms = ARGV[5]

if redis.call('EXISTS', key_hash) == 1 then
  return 0
end

redis.call('HSET', key_hash,
  'digest', digest,
  'created_at', created_at,
  'expires_at', expires_at
)
redis.call('ZADD', expiry_index, expires_ms, digest)

-- Keep the hash past expiry so validation can report "expired" rather
-- than "unknown" until the purge removes it.
redis.call('PEXPIREAT', key_hash, retain_until_ms)

return 1
`
)
