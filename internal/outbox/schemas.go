package outbox

const milestoneCrossedSchema = `{
  "type": "object",
  "title": "MilestoneCrossed",
  "properties": {
    "guild_id": {"type": "string"},
    "event_id": {"type": "string"},
    "bucket_percent": {"type": "integer"},
    "hp_remaining": {"type": "integer"},
    "hp_max": {"type": "integer"},
    "crossed_at": {"type": "string", "format": "date-time"}
  },
  "required": ["guild_id", "event_id", "bucket_percent", "hp_remaining", "hp_max", "crossed_at"],
  "additionalProperties": false
}`

const voiceDecayStartedSchema = `{
  "type": "object",
  "title": "VoiceDecayStarted",
  "properties": {
    "guild_id": {"type": "string"},
    "event_id": {"type": "string"},
    "user_id": {"type": "string"},
    "started_at": {"type": "string", "format": "date-time"}
  },
  "required": ["guild_id", "event_id", "user_id", "started_at"],
  "additionalProperties": false
}`
