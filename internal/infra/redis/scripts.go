package redis

import "github.com/redis/go-redis/v9"

// Every state transition runs as a single Lua script so the checks and the
// write happen atomically on the Redis server. Scripts answer with small
// integer status codes that the store maps to domain errors.

const (
	scriptNotFound  = -1
	scriptBadStatus = -2
	scriptStale     = -3
	scriptNoAnswer  = -4
	scriptCorrupt   = -5

	// create only
	scriptCodeTaken = -1
	scriptIDTaken   = -2

	// activate only
	scriptNoQuestions = -3
)

// KEYS: joincode, session, questions, snapshots, participants, names, joined, scores, user sessions
// ARGV: id, code, course, mode, created_at, creator id, creator name, ttl ms, n, (qid, json)*n
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return -1 end
if redis.call('EXISTS', KEYS[2]) == 1 then return -2 end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], 'id', ARGV[1], 'join_code', ARGV[2], 'course_id', ARGV[3],
  'mode', ARGV[4], 'status', 'LOBBY', 'current', '', 'created_at', ARGV[5])
local n = tonumber(ARGV[9])
for i = 0, n - 1 do
  local qid = ARGV[10 + i * 2]
  redis.call('RPUSH', KEYS[3], qid)
  redis.call('HSET', KEYS[4], qid, ARGV[11 + i * 2])
end
redis.call('ZADD', KEYS[5], 1, ARGV[6])
redis.call('HSET', KEYS[6], ARGV[6], ARGV[7])
redis.call('HSET', KEYS[7], ARGV[6], ARGV[5])
redis.call('HSET', KEYS[8], ARGV[6], 0)
redis.call('SADD', KEYS[9], ARGV[1])
local ttl = tonumber(ARGV[8])
if ttl > 0 then
  for i = 1, 8 do redis.call('PEXPIRE', KEYS[i], ttl) end
end
return 1
`)

// KEYS: session, participants, names, joined, scores, user sessions
// ARGV: user id, display name, joined_at, session id
var joinScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return {-1, 0} end
local seq = redis.call('ZSCORE', KEYS[2], ARGV[1])
if seq then return {0, tonumber(seq)} end
if status ~= 'LOBBY' then return {-2, 0} end
local nextSeq = redis.call('ZCARD', KEYS[2]) + 1
redis.call('ZADD', KEYS[2], nextSeq, ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[4], ARGV[1], ARGV[3])
redis.call('HSET', KEYS[5], ARGV[1], 0)
redis.call('SADD', KEYS[6], ARGV[4])
return {1, nextSeq}
`)

// KEYS: session, questions
var activateScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return -1 end
if status ~= 'LOBBY' then return -2 end
local first = redis.call('LINDEX', KEYS[2], 0)
if not first then return -3 end
redis.call('HSET', KEYS[1], 'status', 'ACTIVE', 'current', first)
return 1
`)

// KEYS: session, answers, participants, scores
// ARGV: question id, record json, bonus (applied only when the record is created)
var recordScript = redis.NewScript(`
local st = redis.call('HMGET', KEYS[1], 'status', 'current')
if not st[1] then return {-1, ''} end
if st[1] ~= 'ACTIVE' then return {-2, st[1]} end
if st[2] ~= ARGV[1] then return {-3, ''} end
local existing = redis.call('HGET', KEYS[2], ARGV[1])
if existing then return {0, existing} end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then redis.call('PEXPIRE', KEYS[2], ttl) end
local bonus = tonumber(ARGV[3])
if bonus > 0 then
  for _, uid in ipairs(redis.call('ZRANGE', KEYS[3], 0, -1)) do
    redis.call('HINCRBY', KEYS[4], uid, bonus)
  end
end
return {1, ARGV[2]}
`)

// KEYS: session, participants, scores
// ARGV: points
var awardScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local members = redis.call('ZRANGE', KEYS[2], 0, -1)
for _, uid in ipairs(members) do
  redis.call('HINCRBY', KEYS[3], uid, ARGV[1])
end
return #members
`)

// KEYS: session, questions, answers, joincode
// ARGV: expected question id, session id
var advanceScript = redis.NewScript(`
local st = redis.call('HMGET', KEYS[1], 'status', 'current')
if not st[1] then return {-1, ''} end
if st[1] ~= 'ACTIVE' then return {-2, st[1]} end
if st[2] ~= ARGV[1] then return {-3, ''} end
if redis.call('HEXISTS', KEYS[3], ARGV[1]) == 0 then return {-4, ''} end
local ids = redis.call('LRANGE', KEYS[2], 0, -1)
local pos = 0
for i, id in ipairs(ids) do
  if id == ARGV[1] then
    pos = i
    break
  end
end
if pos == 0 then return {-5, ''} end
if pos < #ids then
  redis.call('HSET', KEYS[1], 'current', ids[pos + 1])
  return {1, ids[pos + 1]}
end
redis.call('HSET', KEYS[1], 'status', 'FINISHED', 'current', '')
if redis.call('GET', KEYS[4]) == ARGV[2] then
  redis.call('DEL', KEYS[4])
end
return {2, ''}
`)
