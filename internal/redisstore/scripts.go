package redisstore

import "github.com/redis/go-redis/v9"

// writeCallScript stores call fields and bumps the global revision.
var writeCallScript = redis.NewScript(`
-- KEYS[1] = revision counter
-- KEYS[2] = call hash
-- ARGV[1] = "create", "update" or "update-live"
-- ARGV[2] = inbox key prefix
-- ARGV[3] = call id
-- ARGV[4..] = field/value pairs; empty values are skipped on update
--
-- Returns the new revision, 0 when updating a missing call, or -1 when an
-- update-live write finds the call already terminal.
if ARGV[1] ~= 'create' then
  local status = redis.call('HGET', KEYS[2], 'status')
  if not status then
    return 0
  end
  if ARGV[1] == 'update-live' and status ~= 'ringing' and status ~= 'calling' then
    return -1
  end
end
local rev = redis.call('INCR', KEYS[1])
for i = 4, #ARGV, 2 do
  if ARGV[1] == 'create' or ARGV[i + 1] ~= '' then
    redis.call('HSET', KEYS[2], ARGV[i], ARGV[i + 1])
  end
end
redis.call('HSET', KEYS[2], 'rev', rev)
local receiver = redis.call('HGET', KEYS[2], 'receiverId')
local inbox = ARGV[2] .. receiver
redis.call('ZADD', inbox, rev, ARGV[3])
redis.call('PUBLISH', inbox .. ':events', ARGV[3])
redis.call('PUBLISH', KEYS[2] .. ':events', rev)
return rev
`)

// addCandidateScript appends to a call's candidate stream.
var addCandidateScript = redis.NewScript(`
-- KEYS[1] = call hash
-- KEYS[2] = candidate stream
-- ARGV[1] = encoded candidate
--
-- Returns the stream entry id, or false when the call is missing.
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
local id = redis.call('XADD', KEYS[2], '*', 'data', ARGV[1])
redis.call('PUBLISH', KEYS[2] .. ':events', id)
return id
`)
